package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kalambet/convoanchor/internal/analytics"
	"github.com/kalambet/convoanchor/internal/conversation"
	"github.com/kalambet/convoanchor/internal/scheduler"
	"github.com/kalambet/convoanchor/internal/storage"
	"github.com/kalambet/convoanchor/internal/tokenize"
)

const testToken = "test-token"

type stubSource struct {
	records []conversation.Record
}

func (s *stubSource) FetchSummaries(_ context.Context, limit int) ([]conversation.Record, error) {
	if limit < len(s.records) {
		return s.records[:limit], nil
	}
	return s.records, nil
}

func newTestDeps(t *testing.T) Deps {
	t.Helper()

	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := analytics.NewEngine()
	coord := tokenize.NewCoordinator()

	return Deps{
		Store:       store,
		Scheduler:   scheduler.New(&stubSource{}, store, engine, coord, "wallet-1"),
		Coordinator: coord,
		Analytics:   engine,
		Token:       testToken,
		Owner:       "wallet-1",
	}
}

func doRequest(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encoding body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+testToken)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(w.Body).Decode(v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
}

func testStoredConversation(n int) storage.Conversation {
	return storage.Conversation{
		ID:         fmt.Sprintf("id-%d", n),
		ExternalID: fmt.Sprintf("ext-%d", n),
		UserID:     "wallet-1",
		Summary: conversation.Summary{
			Title: "Deployment review",
			Text:  "Great discussion about the api deployment and the database problem.",
		},
		SentimentLabel: "neutral",
		CreatedAt:      time.Date(2026, 8, 28, 9, n, 0, 0, time.UTC),
		IsProcessed:    true,
	}
}

func TestAuthRequired(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	for _, auth := range []string{"", "Bearer wrong", "Basic abc"} {
		req := httptest.NewRequest(http.MethodGet, "/api/scheduler/status", nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("auth %q: status = %d, want 401", auth, w.Code)
		}
		var body struct {
			Error struct {
				Type string `json:"type"`
			} `json:"error"`
		}
		decodeBody(t, w, &body)
		if body.Error.Type != "authentication_error" {
			t.Errorf("auth %q: error type = %q", auth, body.Error.Type)
		}
	}
}

func TestHealthOpen(t *testing.T) {
	h := NewHandler(newTestDeps(t))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var body map[string]any
	decodeBody(t, w, &body)
	if body["status"] != "healthy" || body["service"] != "convoanchor" {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestSchedulerLifecycleEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodGet, "/api/scheduler/status", nil)
	var st scheduler.Status
	decodeBody(t, w, &st)
	if st.Running {
		t.Error("scheduler reported running before start")
	}
	if st.FetchIntervalHours != 2 || st.MaxConversationsPerFetch != 50 {
		t.Errorf("unexpected default status: %+v", st)
	}

	var ctl struct {
		Success bool   `json:"success"`
		Message string `json:"message"`
	}
	w = doRequest(t, h, http.MethodPost, "/api/scheduler/start", nil)
	decodeBody(t, w, &ctl)
	if !ctl.Success {
		t.Errorf("start failed: %s", ctl.Message)
	}

	w = doRequest(t, h, http.MethodPost, "/api/scheduler/start", nil)
	decodeBody(t, w, &ctl)
	if ctl.Success {
		t.Error("second start reported success")
	}

	w = doRequest(t, h, http.MethodPost, "/api/scheduler/stop", nil)
	decodeBody(t, w, &ctl)
	if !ctl.Success {
		t.Errorf("stop failed: %s", ctl.Message)
	}
}

func TestSchedulerConfigEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	w := doRequest(t, h, http.MethodPost, "/api/scheduler/config",
		schedulerConfigRequest{FetchIntervalHours: 25})
	if w.Code != http.StatusBadRequest {
		t.Errorf("out-of-range interval: status = %d, want 400", w.Code)
	}

	w = doRequest(t, h, http.MethodPost, "/api/scheduler/config",
		schedulerConfigRequest{FetchIntervalHours: 4, MaxConversationsPerFetch: 100})
	if w.Code != http.StatusOK {
		t.Fatalf("valid config: status = %d, want 200", w.Code)
	}

	st := deps.Scheduler.Status()
	if st.FetchIntervalHours != 4 || st.MaxConversationsPerFetch != 100 {
		t.Errorf("config not applied: %+v", st)
	}
}

func TestConversationEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	for n := 1; n <= 3; n++ {
		if err := deps.Store.SaveConversation(testStoredConversation(n)); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}

	w := doRequest(t, h, http.MethodGet, "/api/conversations?limit=2", nil)
	var convs []storage.Conversation
	decodeBody(t, w, &convs)
	if len(convs) != 2 {
		t.Errorf("listed %d conversations, want 2", len(convs))
	}

	w = doRequest(t, h, http.MethodGet, "/api/conversations/id-1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d", w.Code)
	}
	var c storage.Conversation
	decodeBody(t, w, &c)
	if c.ExternalID != "ext-1" {
		t.Errorf("got conversation %q, want ext-1", c.ExternalID)
	}

	w = doRequest(t, h, http.MethodGet, "/api/conversations/missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing conversation: status = %d, want 404", w.Code)
	}
}

func TestReanalyzeEndpoint(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	if err := deps.Store.SaveConversation(testStoredConversation(1)); err != nil {
		t.Fatalf("seeding store: %v", err)
	}

	w := doRequest(t, h, http.MethodPost, "/api/conversations/id-1/reanalyze", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reanalyze: status = %d, body %s", w.Code, w.Body.String())
	}
	var res analytics.Result
	decodeBody(t, w, &res)
	if res.SentimentLabel != "positive" {
		t.Errorf("sentiment label = %q, want positive (summary contains 'great')", res.SentimentLabel)
	}

	stored, err := deps.Store.GetConversation("id-1")
	if err != nil {
		t.Fatalf("reloading conversation: %v", err)
	}
	if stored.SentimentLabel != "positive" {
		t.Errorf("stored label = %q, want positive after reanalyze", stored.SentimentLabel)
	}
	if len(stored.Keywords) == 0 {
		t.Error("stored keywords empty after reanalyze")
	}

	w = doRequest(t, h, http.MethodPost, "/api/conversations/missing/reanalyze", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing conversation: status = %d, want 404", w.Code)
	}
}

func TestTokenizeVerifyAndOwnerEndpoints(t *testing.T) {
	deps := newTestDeps(t)
	h := NewHandler(deps)

	rec := conversation.Record{
		ExternalID: "ext-9",
		Summary:    conversation.Summary{Title: "Planning", Text: "We planned the rollout."},
		FetchedAt:  time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
	}

	w := doRequest(t, h, http.MethodPost, "/api/conversations/tokenize", tokenizeRequest{Record: rec})
	if w.Code != http.StatusOK {
		t.Fatalf("tokenize: status = %d, body %s", w.Code, w.Body.String())
	}
	var res tokenize.Result
	decodeBody(t, w, &res)
	if res.AnchorID == 0 || res.TokenID == 0 || len(res.ContentHash) != 64 {
		t.Fatalf("unexpected tokenize result: %+v", res)
	}

	w = doRequest(t, h, http.MethodPost, "/api/conversations/verify",
		verifyRequest{AnchorID: res.AnchorID, ContentHash: res.ContentHash})
	var verified struct {
		Verified bool `json:"verified"`
	}
	decodeBody(t, w, &verified)
	if !verified.Verified {
		t.Error("freshly anchored content did not verify")
	}

	w = doRequest(t, h, http.MethodPost, "/api/conversations/verify",
		verifyRequest{AnchorID: res.AnchorID, ContentHash: "0deadbeef"})
	decodeBody(t, w, &verified)
	if verified.Verified {
		t.Error("mismatched digest verified")
	}

	w = doRequest(t, h, http.MethodGet, fmt.Sprintf("/api/tokens/%d/owner", res.TokenID), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("token owner: status = %d", w.Code)
	}
	var owner struct {
		Owner string `json:"owner"`
	}
	decodeBody(t, w, &owner)
	if owner.Owner != "wallet-1" {
		t.Errorf("owner = %q, want wallet-1", owner.Owner)
	}

	w = doRequest(t, h, http.MethodGet, "/api/tokens/999999/owner", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown token: status = %d, want 404", w.Code)
	}
}
