// Package scheduler drives the periodic fetch → dedup → analyze →
// tokenize → persist loop. One scheduler instance runs one cooperative
// loop; items within a cycle are processed sequentially and failures are
// isolated per item.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/convoanchor/internal/analytics"
	"github.com/kalambet/convoanchor/internal/conversation"
	"github.com/kalambet/convoanchor/internal/storage"
	"github.com/kalambet/convoanchor/internal/tokenize"
)

const (
	defaultFetchInterval = 2 * time.Hour
	defaultMaxPerFetch   = 50

	// rateLimitWindow guards the external source: at most one real fetch
	// per hour, manual triggers included.
	rateLimitWindow = time.Hour

	// errorBackoff is the retry delay after a cycle-level failure.
	errorBackoff = 5 * time.Minute

	minIntervalHours = 1
	maxIntervalHours = 24
	minBatchSize     = 1
	maxBatchSize     = 1000
)

// Source fetches conversation records from the external API.
type Source interface {
	FetchSummaries(ctx context.Context, limit int) ([]conversation.Record, error)
}

// Store is the persistence surface the scheduler writes through.
type Store interface {
	ExistingExternalIDs() (map[string]struct{}, error)
	SaveConversationBatch([]storage.Conversation) error
}

// Analyzer scores a record. It never fails.
type Analyzer interface {
	Analyze(conversation.Record) analytics.Result
}

// Tokenizer anchors and mints a record.
type Tokenizer interface {
	Tokenize(rec conversation.Record, owner, tokenURI string) (tokenize.Result, error)
}

// Status is a snapshot of the scheduler's control state.
type Status struct {
	Running                  bool       `json:"is_running"`
	LastFetchTime            *time.Time `json:"last_fetch_time"`
	FetchIntervalHours       int        `json:"fetch_interval_hours"`
	MaxConversationsPerFetch int        `json:"max_conversations_per_fetch"`
}

// ItemResult reports the outcome of processing one fetched record.
type ItemResult struct {
	ExternalID string `json:"external_id"`
	AnchorID   int64  `json:"anchor_id,omitempty"`
	TokenID    int64  `json:"token_id,omitempty"`
	Error      string `json:"error,omitempty"`
}

// CycleResult summarizes one ingestion cycle.
type CycleResult struct {
	Skipped   bool         `json:"skipped"`
	Fetched   int          `json:"fetched"`
	New       int          `json:"new"`
	Processed int          `json:"processed"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items,omitempty"`
}

// Scheduler owns the ingestion loop. Control operations are safe to call
// from any goroutine; the loop itself is single-flight.
type Scheduler struct {
	source    Source
	store     Store
	analytics Analyzer
	tokenizer Tokenizer
	logger    *slog.Logger

	// test hooks
	now       func() time.Time
	rateLimit time.Duration
	backoff   time.Duration

	mu          sync.Mutex
	running     bool
	stop        chan struct{}
	done        chan struct{}
	lastFetch   time.Time
	interval    time.Duration
	maxPerFetch int
	owner       string
}

// New creates a stopped Scheduler. owner is the wallet tokens are minted
// to for records ingested by the loop.
func New(source Source, store Store, analyzer Analyzer, tokenizer Tokenizer, owner string) *Scheduler {
	return &Scheduler{
		source:      source,
		store:       store,
		analytics:   analyzer,
		tokenizer:   tokenizer,
		logger:      slog.Default(),
		now:         time.Now,
		rateLimit:   rateLimitWindow,
		backoff:     errorBackoff,
		interval:    defaultFetchInterval,
		maxPerFetch: defaultMaxPerFetch,
		owner:       owner,
	}
}

// Start launches the ingestion loop. Starting a running scheduler is a
// logged no-op; the return value reports whether this call started it.
func (s *Scheduler) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("scheduler already running")
		return false
	}

	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)

	s.logger.Info("scheduler started",
		"fetch_interval", s.interval,
		"max_per_fetch", s.maxPerFetch)
	return true
}

// Stop requests the loop to exit. The stop flag is observed only at loop
// boundaries: an in-flight cycle always completes first. Stopping a
// stopped scheduler is a no-op.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return false
	}

	close(s.stop)
	s.running = false
	s.logger.Info("scheduler stopping")
	return true
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		wait := s.currentInterval()
		if _, err := s.runCycle(context.Background()); err != nil {
			// The scheduler stays resumable: back off and retry.
			s.logger.Error("ingestion cycle failed", "error", err, "retry_in", s.backoff)
			wait = s.backoff
		}

		select {
		case <-stop:
			s.logger.Info("scheduler stopped")
			return
		case <-time.After(wait):
		}
	}
}

func (s *Scheduler) currentInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// ManualFetch runs exactly one ingestion cycle synchronously. It is
// subject to the same rate limit as the loop and may run while the loop
// is stopped.
func (s *Scheduler) ManualFetch(ctx context.Context) (CycleResult, error) {
	s.logger.Info("manual fetch triggered")
	return s.runCycle(ctx)
}

// Status reports the current control state.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:                  s.running,
		FetchIntervalHours:       int(s.interval / time.Hour),
		MaxConversationsPerFetch: s.maxPerFetch,
	}
	if !s.lastFetch.IsZero() {
		last := s.lastFetch
		st.LastFetchTime = &last
	}
	return st
}

// Configure updates the fetch interval and batch size. A zero value
// leaves the corresponding setting unchanged. Out-of-range values are
// rejected with no state change.
func (s *Scheduler) Configure(fetchIntervalHours, maxPerFetch int) error {
	if fetchIntervalHours != 0 && (fetchIntervalHours < minIntervalHours || fetchIntervalHours > maxIntervalHours) {
		return fmt.Errorf("fetch interval must be between %d and %d hours", minIntervalHours, maxIntervalHours)
	}
	if maxPerFetch != 0 && (maxPerFetch < minBatchSize || maxPerFetch > maxBatchSize) {
		return fmt.Errorf("max conversations per fetch must be between %d and %d", minBatchSize, maxBatchSize)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if fetchIntervalHours != 0 {
		s.interval = time.Duration(fetchIntervalHours) * time.Hour
	}
	if maxPerFetch != 0 {
		s.maxPerFetch = maxPerFetch
	}
	return nil
}

func (s *Scheduler) advanceLastFetch(t time.Time) {
	s.mu.Lock()
	s.lastFetch = t
	s.mu.Unlock()
}

// runCycle performs one ingestion cycle: dedup set load, fetch, filter,
// per-item processing with isolation, and a single batch commit.
func (s *Scheduler) runCycle(ctx context.Context) (CycleResult, error) {
	s.mu.Lock()
	last := s.lastFetch
	limit := s.maxPerFetch
	owner := s.owner
	s.mu.Unlock()

	if !last.IsZero() && s.now().Sub(last) < s.rateLimit {
		s.logger.Info("rate limiting: skipping fetch", "last_fetch", last)
		return CycleResult{Skipped: true}, nil
	}

	existing, err := s.store.ExistingExternalIDs()
	if err != nil {
		return CycleResult{}, fmt.Errorf("loading dedup set: %w", err)
	}
	s.logger.Info("loaded existing conversations", "count", len(existing))

	records, err := s.source.FetchSummaries(ctx, limit)
	if err != nil {
		// A dead source means an empty cycle, not a failed one.
		s.logger.Warn("source unavailable, no items this cycle", "error", err)
		s.advanceLastFetch(s.now())
		return CycleResult{}, nil
	}

	res := CycleResult{Fetched: len(records)}

	var fresh []conversation.Record
	for _, rec := range records {
		if rec.ExternalID == "" {
			continue
		}
		if _, dup := existing[rec.ExternalID]; dup {
			s.logger.Debug("skipping existing conversation", "external_id", rec.ExternalID)
			continue
		}
		fresh = append(fresh, rec)
	}
	res.New = len(fresh)

	if len(fresh) == 0 {
		s.logger.Info("no new conversations", "fetched", len(records))
		s.advanceLastFetch(s.now())
		return res, nil
	}

	var staged []storage.Conversation
	for _, rec := range fresh {
		item := ItemResult{ExternalID: rec.ExternalID}

		stored, err := s.processOne(rec, owner)
		if err != nil {
			s.logger.Error("failed to process conversation", "external_id", rec.ExternalID, "error", err)
			item.Error = err.Error()
			res.Failed++
			res.Items = append(res.Items, item)
			continue
		}

		item.AnchorID = stored.AnchorID
		item.TokenID = stored.TokenID
		staged = append(staged, stored)
		res.Processed++
		res.Items = append(res.Items, item)
	}

	if len(staged) > 0 {
		if err := s.store.SaveConversationBatch(staged); err != nil {
			// The whole batch is lost for this cycle.
			return res, fmt.Errorf("committing batch of %d: %w", len(staged), err)
		}
	}

	s.advanceLastFetch(s.now())
	s.logger.Info("ingestion cycle completed",
		"fetched", res.Fetched, "new", res.New,
		"processed", res.Processed, "failed", res.Failed)
	return res, nil
}

// processOne analyzes and tokenizes a single record and builds its
// persistable row. A panic anywhere inside counts as that item's failure;
// it never takes down the batch.
func (s *Scheduler) processOne(rec conversation.Record, owner string) (stored storage.Conversation, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("processing conversation %s: panic: %v", rec.ExternalID, r)
		}
	}()

	scores := s.analytics.Analyze(rec)

	tokenURI := "https://buddi.ai/memory/" + rec.ExternalID
	tk, err := s.tokenizer.Tokenize(rec, owner, tokenURI)
	if err != nil {
		return storage.Conversation{}, fmt.Errorf("tokenizing conversation %s: %w", rec.ExternalID, err)
	}

	return storage.Conversation{
		ID:              uuid.NewString(),
		ExternalID:      rec.ExternalID,
		UserID:          owner,
		AnchorID:        tk.AnchorID,
		TokenID:         tk.TokenID,
		Summary:         rec.Summary,
		Actions:         rec.Actions,
		Metadata:        rec.Metadata,
		Sentiment:       scores.Sentiment,
		SentimentLabel:  scores.SentimentLabel,
		Topics:          scores.Topics,
		Keywords:        scores.Keywords,
		QualityScore:    scores.QualityScore,
		EngagementScore: scores.EngagementScore,
		MerkleRoot:      tk.ContentHash,
		TokenURI:        tokenURI,
		ContractAddress: tk.TokenRegistryAddress,
		CreatedAt:       s.now().UTC(),
		IsProcessed:     true,
	}, nil
}
