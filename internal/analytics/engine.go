// Package analytics scores conversation records with lexical heuristics:
// polarity-lexicon sentiment, single-document term-frequency keywords,
// trigger-list topics, and additive quality/engagement tiers.
package analytics

import (
	"log/slog"
	"strings"

	"github.com/kalambet/convoanchor/internal/conversation"
)

const (
	defaultMaxKeywords = 10
	defaultNumTopics   = 5

	// Thresholds for mapping a polarity score to a label. Boundary values
	// are exact: a score of 0.1 is still neutral.
	positiveThreshold = 0.1
	negativeThreshold = -0.1
)

// Result is the full score/label bundle for one record.
type Result struct {
	Sentiment       float64  `json:"sentiment"`
	SentimentLabel  string   `json:"sentiment_label"`
	Keywords        []string `json:"keywords"`
	Topics          []string `json:"topics"`
	QualityScore    float64  `json:"quality_score"`
	EngagementScore float64  `json:"engagement_score"`
}

// neutralResult is returned when scoring faults internally. Analytics
// degrades, it never aborts the pipeline.
func neutralResult() Result {
	return Result{
		Sentiment:       0.0,
		SentimentLabel:  "neutral",
		Keywords:        []string{},
		Topics:          []string{},
		QualityScore:    0.0,
		EngagementScore: 0.0,
	}
}

// Engine computes AnalyticsResults. It is stateless and safe for
// concurrent use.
type Engine struct {
	MaxKeywords int
	NumTopics   int
	logger      *slog.Logger
}

// NewEngine returns an Engine with default limits (10 keywords, 5 topics).
func NewEngine() *Engine {
	return &Engine{
		MaxKeywords: defaultMaxKeywords,
		NumTopics:   defaultNumTopics,
		logger:      slog.Default(),
	}
}

// Analyze produces the complete score bundle for a record. It never
// returns an error: any internal fault yields the neutral default.
func (e *Engine) Analyze(rec conversation.Record) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("analytics fault, returning neutral result", "panic", r)
			res = neutralResult()
		}
	}()

	text := rec.Summary.EffectiveText()

	score, label := e.Sentiment(text)
	keywords := e.Keywords(text, e.maxKeywords())
	topics := e.Topics(text)

	return Result{
		Sentiment:       score,
		SentimentLabel:  label,
		Keywords:        keywords,
		Topics:          topics,
		QualityScore:    e.QualityScore(rec),
		EngagementScore: e.EngagementScore(rec),
	}
}

func (e *Engine) maxKeywords() int {
	if e.MaxKeywords > 0 {
		return e.MaxKeywords
	}
	return defaultMaxKeywords
}

func (e *Engine) numTopics() int {
	if e.NumTopics > 0 {
		return e.NumTopics
	}
	return defaultNumTopics
}

// meaningfulWords bump the quality score when present in the summary.
var meaningfulWords = []string{"api", "data", "user", "system", "feature", "problem", "solution"}

// QualityScore rates a record's substance on [0, 1].
func (e *Engine) QualityScore(rec conversation.Record) float64 {
	score := 0.0
	text := rec.Summary.EffectiveText()

	if len(strings.TrimSpace(text)) > 10 {
		score += 0.3
	}
	if n := len(text); n >= 50 && n <= 2000 {
		score += 0.2
	}
	if len(rec.Actions) > 0 {
		score += 0.2
	}
	if !rec.Metadata.IsEmpty() {
		score += 0.1
	}
	if containsAny(strings.ToLower(text), meaningfulWords) {
		score += 0.2
	}

	return clamp01(score)
}

// engagementWords hint that the conversation invited further work.
var engagementWords = []string{"discuss", "explore", "analyze", "investigate", "review", "consider"}

// EngagementScore rates how interactive a record looks, on [0, 1].
func (e *Engine) EngagementScore(rec conversation.Record) float64 {
	score := 0.0

	switch n := len(rec.Actions); {
	case n > 5:
		score += 0.3
	case n > 2:
		score += 0.2
	case n > 0:
		score += 0.1
	}

	text := rec.Summary.EffectiveText()
	switch n := len(text); {
	case n > 500:
		score += 0.3
	case n > 200:
		score += 0.2
	case n > 50:
		score += 0.1
	}

	if strings.Contains(text, "?") {
		score += 0.2
	}
	if strings.Contains(text, "!") {
		score += 0.1
	}
	if containsAny(strings.ToLower(text), engagementWords) {
		score += 0.1
	}

	return clamp01(score)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v > 1.0 {
		return 1.0
	}
	if v < 0.0 {
		return 0.0
	}
	return v
}
