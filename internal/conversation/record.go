// Package conversation defines the canonical record shape shared by the
// analytics, tokenization, scheduling, and persistence layers. Source-format
// translation happens once, at the external source adapter; everything
// downstream works with these types.
package conversation

import "time"

// Record is a single fetched conversation, immutable after translation.
type Record struct {
	ExternalID string    `json:"conversation_id"`
	Summary    Summary   `json:"summary"`
	Actions    []Action  `json:"actions"`
	Metadata   Metadata  `json:"conversation_metadata"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Summary carries the free-text portion of a record.
type Summary struct {
	Title    string `json:"title,omitempty"`
	Text     string `json:"text"`
	Content  string `json:"content"`
	Emoji    string `json:"emoji,omitempty"`
	Category string `json:"category,omitempty"`
}

// Action is an opaque structured action item. The pipeline never looks
// inside one; only the count matters for scoring.
type Action map[string]any

// Metadata holds the source-side attributes of a record. ExternalID doubles
// as the dedup key against the persistence store.
type Metadata struct {
	ExternalID         string           `json:"buddi_id,omitempty"`
	UserID             string           `json:"user_id,omitempty"`
	CreatedAt          string           `json:"created_at,omitempty"`
	FinishedAt         string           `json:"finished_at,omitempty"`
	Language           string           `json:"language,omitempty"`
	Source             string           `json:"source,omitempty"`
	Visibility         string           `json:"visibility,omitempty"`
	Status             string           `json:"status,omitempty"`
	Discarded          bool             `json:"discarded,omitempty"`
	TranscriptSegments []map[string]any `json:"transcript_segments,omitempty"`
	PluginResults      []map[string]any `json:"plugins_results,omitempty"`
}

// EffectiveText resolves the text used for scoring: the "text" field,
// falling back to "content". An all-empty summary resolves to "".
func (s Summary) EffectiveText() string {
	if s.Text != "" {
		return s.Text
	}
	return s.Content
}

// IsEmpty reports whether no metadata field is set.
func (m Metadata) IsEmpty() bool {
	return m.ExternalID == "" && m.UserID == "" && m.CreatedAt == "" &&
		m.FinishedAt == "" && m.Language == "" && m.Source == "" &&
		m.Visibility == "" && m.Status == "" && !m.Discarded &&
		len(m.TranscriptSegments) == 0 && len(m.PluginResults) == 0
}
