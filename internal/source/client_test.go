package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

const memoryJSON = `{
	"id": "mem_1",
	"created_at": "2025-08-10T09:00:00Z",
	"language": "en",
	"source": "wearable",
	"status": "completed",
	"structured": {
		"title": "Standup",
		"overview": "Discussed the api rollout.",
		"emoji": "📞",
		"category": "work",
		"action_items": [{"description": "ship it"}]
	}
}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := New(srv.URL, "test-key", "wallet_1")
	c.now = func() time.Time { return time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestFetchSummariesBareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/get_memories" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("limit"); got != "50" {
			t.Errorf("limit = %q, want 50", got)
		}
		if got := r.Header.Get("api-key"); got != "test-key" {
			t.Errorf("api-key header = %q", got)
		}
		w.Write([]byte("[" + memoryJSON + "]"))
	})

	records, err := c.FetchSummaries(context.Background(), 50)
	if err != nil {
		t.Fatalf("FetchSummaries: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	rec := records[0]
	if rec.ExternalID != "mem_1" {
		t.Errorf("ExternalID = %q", rec.ExternalID)
	}
	if rec.Summary.Text != "Discussed the api rollout." || rec.Summary.Content != rec.Summary.Text {
		t.Errorf("summary translation wrong: %+v", rec.Summary)
	}
	if rec.Summary.Title != "Standup" || rec.Summary.Category != "work" {
		t.Errorf("summary fields wrong: %+v", rec.Summary)
	}
	if len(rec.Actions) != 1 {
		t.Errorf("expected 1 action, got %d", len(rec.Actions))
	}
	if rec.Metadata.ExternalID != "mem_1" || rec.Metadata.UserID != "wallet_1" {
		t.Errorf("metadata wrong: %+v", rec.Metadata)
	}
	if rec.FetchedAt.IsZero() {
		t.Errorf("FetchedAt not stamped")
	}
}

func TestFetchSummariesEnvelopes(t *testing.T) {
	bodies := []string{
		`{"memories": [` + memoryJSON + `]}`,
		`{"data": [` + memoryJSON + `]}`,
		memoryJSON,
	}
	for _, body := range bodies {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		records, err := c.FetchSummaries(context.Background(), 10)
		if err != nil {
			t.Fatalf("FetchSummaries(%s...): %v", body[:20], err)
		}
		if len(records) != 1 || records[0].ExternalID != "mem_1" {
			t.Errorf("body %.30q: got %d records", body, len(records))
		}
	}
}

func TestFetchSummariesEmptyResponses(t *testing.T) {
	for _, body := range []string{"[]", "null", `{"memories": []}`} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		})
		records, err := c.FetchSummaries(context.Background(), 10)
		if err != nil {
			t.Fatalf("body %q: %v", body, err)
		}
		if len(records) != 0 {
			t.Errorf("body %q: expected no records, got %d", body, len(records))
		}
	}
}

func TestFetchSummariesNonOKStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	})
	if _, err := c.FetchSummaries(context.Background(), 10); err == nil {
		t.Fatalf("expected error for non-2xx status")
	}
}

func TestFetchDetails(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("conversation_id"); got != "mem_1" {
			t.Errorf("conversation_id = %q", got)
		}
		w.Write([]byte("[" + memoryJSON + "]"))
	})

	rec, err := c.FetchDetails(context.Background(), "mem_1")
	if err != nil {
		t.Fatalf("FetchDetails: %v", err)
	}
	if rec == nil || rec.ExternalID != "mem_1" {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func TestFetchDetailsNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})

	rec, err := c.FetchDetails(context.Background(), "missing")
	if err != nil {
		t.Fatalf("FetchDetails: %v", err)
	}
	if rec != nil {
		t.Errorf("expected nil record for unknown conversation, got %+v", rec)
	}
}
