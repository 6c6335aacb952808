// Package api exposes the daemon's control surfaces: a bearer-authed
// chi HTTP API and an MCP tool server for agent operators.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/convoanchor/internal/analytics"
	"github.com/kalambet/convoanchor/internal/conversation"
	"github.com/kalambet/convoanchor/internal/scheduler"
	"github.com/kalambet/convoanchor/internal/storage"
	"github.com/kalambet/convoanchor/internal/tokenize"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds the wired components the handlers operate on.
type Deps struct {
	Store       *storage.Store
	Scheduler   *scheduler.Scheduler
	Coordinator *tokenize.Coordinator
	Analytics   *analytics.Engine
	Token       string
	Owner       string
}

// NewHandler builds the full HTTP surface. /health is open; everything
// under /api requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))

	r.Route("/api", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/scheduler", func(r chi.Router) {
			r.Get("/status", handleSchedulerStatus(deps))
			r.Post("/start", handleSchedulerStart(deps))
			r.Post("/stop", handleSchedulerStop(deps))
			r.Post("/fetch", handleSchedulerFetch(deps))
			r.Post("/config", handleSchedulerConfig(deps))
		})

		r.Route("/conversations", func(r chi.Router) {
			r.Get("/", handleListConversations(deps))
			r.Post("/tokenize", handleTokenize(deps))
			r.Post("/verify", handleVerify(deps))
			r.Get("/{id}", handleGetConversation(deps))
			r.Post("/{id}/reanalyze", handleReanalyze(deps))
		})

		r.Get("/tokens/{id}/owner", handleTokenOwner(deps))
	})

	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		total, processed, err := deps.Store.Counts()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "storage unavailable: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"status":                  "healthy",
			"service":                 "convoanchor",
			"conversations_total":     total,
			"conversations_processed": processed,
		})
	}
}

func handleSchedulerStatus(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Scheduler.Status())
	}
}

func handleSchedulerStart(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		started := deps.Scheduler.Start()
		msg := "scheduler started"
		if !started {
			msg = "scheduler already running"
		}
		writeJSON(w, map[string]any{"success": started, "message": msg})
	}
}

func handleSchedulerStop(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stopped := deps.Scheduler.Stop()
		msg := "scheduler stopped"
		if !stopped {
			msg = "scheduler not running"
		}
		writeJSON(w, map[string]any{"success": stopped, "message": msg})
	}
}

func handleSchedulerFetch(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Scheduler.ManualFetch(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "fetch cycle failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

type schedulerConfigRequest struct {
	FetchIntervalHours       int `json:"fetch_interval_hours"`
	MaxConversationsPerFetch int `json:"max_conversations_per_fetch"`
}

func handleSchedulerConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req schedulerConfigRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if err := deps.Scheduler.Configure(req.FetchIntervalHours, req.MaxConversationsPerFetch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}

		writeJSON(w, map[string]any{
			"success": true,
			"message": "scheduler configuration updated",
			"status":  deps.Scheduler.Status(),
		})
	}
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := storage.Filter{
			UserID:         r.URL.Query().Get("user_id"),
			SentimentLabel: r.URL.Query().Get("sentiment"),
			Limit:          parseIntParam(r, "limit", 20, 100),
			Offset:         parseIntParam(r, "offset", 0, 0),
		}
		if s := r.URL.Query().Get("min_quality"); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid min_quality: %v", err)
				return
			}
			f.MinQuality = &v
		}

		convs, err := deps.Store.ListConversations(f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, convs)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		c, err := deps.Store.GetConversation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}
		writeJSON(w, c)
	}
}

// handleReanalyze re-runs analytics over the stored record and updates
// the persisted scores in place. Anchor and token fields are untouched.
func handleReanalyze(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		c, err := deps.Store.GetConversation(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get conversation: %v", err)
			return
		}

		res := deps.Analytics.Analyze(c.Record())
		err = deps.Store.UpdateAnalytics(c.ID, storage.Analytics{
			Sentiment:       res.Sentiment,
			SentimentLabel:  res.SentimentLabel,
			Topics:          res.Topics,
			Keywords:        res.Keywords,
			QualityScore:    res.QualityScore,
			EngagementScore: res.EngagementScore,
		})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update analytics: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

type tokenizeRequest struct {
	Record   conversation.Record `json:"record"`
	Owner    string              `json:"owner"`
	TokenURI string              `json:"token_uri"`
}

// handleTokenize anchors and mints a supplied record on demand, without
// persisting it. Useful for records outside the scheduler's reach.
func handleTokenize(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req tokenizeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Owner == "" {
			req.Owner = deps.Owner
		}
		if req.TokenURI == "" && req.Record.ExternalID != "" {
			req.TokenURI = "https://buddi.ai/memory/" + req.Record.ExternalID
		}

		res, err := deps.Coordinator.Tokenize(req.Record, req.Owner, req.TokenURI)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "tokenization failed: %v", err)
			return
		}
		writeJSON(w, res)
	}
}

type verifyRequest struct {
	AnchorID    int64  `json:"anchor_id"`
	ContentHash string `json:"content_hash"`
}

func handleVerify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req verifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		writeJSON(w, map[string]any{
			"anchor_id": req.AnchorID,
			"verified":  deps.Coordinator.VerifyConversation(req.AnchorID, req.ContentHash),
		})
	}
}

func handleTokenOwner(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid token id: %v", err)
			return
		}

		owner, ok := deps.Coordinator.TokenOwner(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "token not found")
			return
		}
		writeJSON(w, map[string]any{"token_id": id, "owner": owner})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
