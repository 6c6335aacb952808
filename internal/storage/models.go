package storage

import (
	"errors"
	"time"

	"github.com/kalambet/convoanchor/internal/conversation"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Conversation is the durable join of a fetched record, its analytics, and
// its anchor/token identities. Structured sub-fields are encoded to JSON
// text columns inside this package only.
type Conversation struct {
	ID         string `json:"id"`
	ExternalID string `json:"external_id"`
	UserID     string `json:"user_id"`
	AnchorID   int64  `json:"anchor_id"`
	TokenID    int64  `json:"token_id"`

	Summary  conversation.Summary  `json:"summary"`
	Actions  []conversation.Action `json:"actions"`
	Metadata conversation.Metadata `json:"metadata"`

	Sentiment       float64  `json:"sentiment"`
	SentimentLabel  string   `json:"sentiment_label"`
	Topics          []string `json:"topics"`
	Keywords        []string `json:"keywords"`
	QualityScore    float64  `json:"quality_score"`
	EngagementScore float64  `json:"engagement_score"`

	MerkleRoot      string `json:"merkle_root"`
	TokenURI        string `json:"token_uri"`
	ContractAddress string `json:"contract_address"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IsProcessed bool `json:"is_processed"`
	IsExported  bool `json:"is_exported"`
}

// Record reconstructs the canonical record shape from a stored
// conversation, used for re-analysis and re-verification.
func (c Conversation) Record() conversation.Record {
	return conversation.Record{
		ExternalID: c.ExternalID,
		Summary:    c.Summary,
		Actions:    c.Actions,
		Metadata:   c.Metadata,
		FetchedAt:  c.CreatedAt,
	}
}

// Analytics is the persisted score bundle updated by re-analysis.
type Analytics struct {
	Sentiment       float64
	SentimentLabel  string
	Topics          []string
	Keywords        []string
	QualityScore    float64
	EngagementScore float64
}

// Filter narrows ListConversations results. Zero values mean "no
// constraint"; MinQuality and Processed use pointers so explicit
// zero-valued constraints stay expressible.
type Filter struct {
	UserID         string
	SentimentLabel string
	MinQuality     *float64
	Processed      *bool
	Limit          int
	Offset         int
}
