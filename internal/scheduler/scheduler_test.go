package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/convoanchor/internal/analytics"
	"github.com/kalambet/convoanchor/internal/conversation"
	"github.com/kalambet/convoanchor/internal/storage"
	"github.com/kalambet/convoanchor/internal/tokenize"
)

type fakeSource struct {
	records []conversation.Record
	err     error
	calls   int
}

func (f *fakeSource) FetchSummaries(_ context.Context, limit int) ([]conversation.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

type fakeStore struct {
	saved   []storage.Conversation
	saveErr error
	batches int
}

func (f *fakeStore) ExistingExternalIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{}, len(f.saved))
	for _, c := range f.saved {
		ids[c.ExternalID] = struct{}{}
	}
	return ids, nil
}

func (f *fakeStore) SaveConversationBatch(batch []storage.Conversation) error {
	f.batches++
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = append(f.saved, batch...)
	return nil
}

type fakeTokenizer struct {
	failOn string
	next   int64
}

func (f *fakeTokenizer) Tokenize(rec conversation.Record, owner, tokenURI string) (tokenize.Result, error) {
	if rec.ExternalID == f.failOn {
		return tokenize.Result{}, errors.New("ledger rejected anchor")
	}
	f.next++
	return tokenize.Result{
		AnchorID:              1000 + f.next,
		TokenID:               2000 + f.next,
		ContentHash:           strings.Repeat("ab", 32),
		AnchorRegistryAddress: "ct_anchor",
		TokenRegistryAddress:  "ct_token",
	}, nil
}

func records(n int) []conversation.Record {
	recs := make([]conversation.Record, n)
	for i := range recs {
		recs[i] = conversation.Record{
			ExternalID: fmt.Sprintf("conv-%d", i+1),
			Summary:    conversation.Summary{Title: "Standup", Text: "We discussed the api deployment problem."},
			FetchedAt:  time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC),
		}
	}
	return recs
}

func newTestScheduler(src Source, store Store, tk Tokenizer) *Scheduler {
	s := New(src, store, analytics.NewEngine(), tk, "wallet-1")
	s.rateLimit = 0 // individual tests re-enable rate limiting
	return s
}

func TestRunCycleDeduplicates(t *testing.T) {
	src := &fakeSource{records: records(3)}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &fakeTokenizer{})

	first, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if first.Processed != 3 {
		t.Fatalf("first cycle processed = %d, want 3", first.Processed)
	}

	second, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if second.New != 0 || second.Processed != 0 {
		t.Errorf("second cycle new=%d processed=%d, want 0/0", second.New, second.Processed)
	}
	if len(store.saved) != 3 {
		t.Errorf("store holds %d conversations after rerun, want 3", len(store.saved))
	}
}

func TestRunCycleIsolatesItemFailures(t *testing.T) {
	src := &fakeSource{records: records(5)}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &fakeTokenizer{failOn: "conv-3"})

	res, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if res.Processed != 4 || res.Failed != 1 {
		t.Fatalf("processed=%d failed=%d, want 4/1", res.Processed, res.Failed)
	}
	if len(store.saved) != 4 {
		t.Errorf("persisted %d conversations, want 4", len(store.saved))
	}
	for _, c := range store.saved {
		if c.ExternalID == "conv-3" {
			t.Error("failed conversation was persisted")
		}
		if !c.IsProcessed {
			t.Errorf("conversation %s not marked processed", c.ExternalID)
		}
	}

	var failed *ItemResult
	for i := range res.Items {
		if res.Items[i].ExternalID == "conv-3" {
			failed = &res.Items[i]
		}
	}
	if failed == nil {
		t.Fatal("no item result for failed conversation")
	}
	if failed.Error == "" {
		t.Error("failed item carries no error message")
	}
}

func TestRunCycleRateLimited(t *testing.T) {
	src := &fakeSource{records: records(1)}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &fakeTokenizer{})
	s.rateLimit = time.Hour

	if _, err := s.runCycle(context.Background()); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	res, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("second cycle: %v", err)
	}
	if !res.Skipped {
		t.Error("second cycle within the window was not skipped")
	}
	if src.calls != 1 {
		t.Errorf("source fetched %d times, want 1", src.calls)
	}

	// a skipped cycle must not push the window forward
	s.mu.Lock()
	s.lastFetch = s.now().Add(-2 * time.Hour)
	s.mu.Unlock()
	res, err = s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("third cycle: %v", err)
	}
	if res.Skipped {
		t.Error("cycle outside the window was skipped")
	}
}

func TestManualFetchRespectsRateLimit(t *testing.T) {
	src := &fakeSource{records: records(1)}
	s := newTestScheduler(src, &fakeStore{}, &fakeTokenizer{})
	s.rateLimit = time.Hour

	if _, err := s.ManualFetch(context.Background()); err != nil {
		t.Fatalf("manual fetch: %v", err)
	}
	res, err := s.ManualFetch(context.Background())
	if err != nil {
		t.Fatalf("second manual fetch: %v", err)
	}
	if !res.Skipped {
		t.Error("manual fetch bypassed rate limiting")
	}
}

func TestRunCycleSourceErrorIsEmptyCycle(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &fakeTokenizer{})

	res, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if res.Fetched != 0 || res.Processed != 0 {
		t.Errorf("unexpected result on source error: %+v", res)
	}
	if s.Status().LastFetchTime == nil {
		t.Error("failed fetch did not advance the fetch window")
	}
}

func TestRunCycleBatchCommitFailure(t *testing.T) {
	src := &fakeSource{records: records(2)}
	store := &fakeStore{saveErr: errors.New("disk full")}
	s := newTestScheduler(src, store, &fakeTokenizer{})

	if _, err := s.runCycle(context.Background()); err == nil {
		t.Fatal("expected error when batch commit fails")
	}
	if len(store.saved) != 0 {
		t.Errorf("persisted %d conversations despite commit failure", len(store.saved))
	}
}

func TestRunCycleSkipsRecordsWithoutID(t *testing.T) {
	recs := records(2)
	recs[0].ExternalID = ""
	src := &fakeSource{records: recs}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &fakeTokenizer{})

	res, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if res.New != 1 || res.Processed != 1 {
		t.Errorf("new=%d processed=%d, want 1/1", res.New, res.Processed)
	}
}

func TestConfigureValidation(t *testing.T) {
	s := newTestScheduler(&fakeSource{}, &fakeStore{}, &fakeTokenizer{})

	for _, tc := range []struct{ hours, batch int }{
		{25, 0}, {-1, 0}, {0, 1001}, {0, -5},
	} {
		if err := s.Configure(tc.hours, tc.batch); err == nil {
			t.Errorf("Configure(%d, %d) accepted out-of-range value", tc.hours, tc.batch)
		}
	}

	st := s.Status()
	if st.FetchIntervalHours != 2 || st.MaxConversationsPerFetch != 50 {
		t.Fatalf("rejected Configure mutated state: %+v", st)
	}

	if err := s.Configure(6, 200); err != nil {
		t.Fatalf("Configure(6, 200): %v", err)
	}
	st = s.Status()
	if st.FetchIntervalHours != 6 || st.MaxConversationsPerFetch != 200 {
		t.Errorf("status = %+v, want interval 6h and batch 200", st)
	}

	// zero means leave unchanged
	if err := s.Configure(0, 0); err != nil {
		t.Fatalf("Configure(0, 0): %v", err)
	}
	st = s.Status()
	if st.FetchIntervalHours != 6 || st.MaxConversationsPerFetch != 200 {
		t.Errorf("Configure(0, 0) changed settings: %+v", st)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	src := &fakeSource{}
	s := newTestScheduler(src, &fakeStore{}, &fakeTokenizer{})
	s.interval = time.Minute

	if !s.Start() {
		t.Fatal("Start returned false on stopped scheduler")
	}
	if s.Start() {
		t.Error("Start returned true on running scheduler")
	}
	if !s.Status().Running {
		t.Error("status does not report running")
	}

	if !s.Stop() {
		t.Error("Stop returned false on running scheduler")
	}
	if s.Stop() {
		t.Error("Stop returned true on stopped scheduler")
	}

	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after Stop")
	}
	if s.Status().Running {
		t.Error("status reports running after Stop")
	}
}

func TestProcessOnePanicIsIsolated(t *testing.T) {
	src := &fakeSource{records: records(2)}
	store := &fakeStore{}
	s := newTestScheduler(src, store, &panickyTokenizer{failOn: "conv-1"})

	res, err := s.runCycle(context.Background())
	if err != nil {
		t.Fatalf("runCycle: %v", err)
	}
	if res.Processed != 1 || res.Failed != 1 {
		t.Errorf("processed=%d failed=%d, want 1/1", res.Processed, res.Failed)
	}
}

type panickyTokenizer struct {
	failOn string
	inner  fakeTokenizer
}

func (p *panickyTokenizer) Tokenize(rec conversation.Record, owner, tokenURI string) (tokenize.Result, error) {
	if rec.ExternalID == p.failOn {
		panic("tokenizer blew up")
	}
	return p.inner.Tokenize(rec, owner, tokenURI)
}
