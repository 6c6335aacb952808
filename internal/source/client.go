// Package source fetches conversation memories from the Buddi API and
// translates them into the canonical record shape. All source-format
// handling lives here; nothing downstream sees the wire format.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/kalambet/convoanchor/internal/conversation"
)

// Client communicates with the Buddi memories API over HTTP.
type Client struct {
	baseURL     string
	apiKey      string
	defaultUser string
	httpClient  *http.Client
	now         func() time.Time
}

// New creates a Client for the given API base URL. apiKey may be empty for
// unauthenticated endpoints; defaultUser is stamped into translated record
// metadata as the owning user.
func New(baseURL, apiKey, defaultUser string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		defaultUser: defaultUser,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		now:         time.Now,
	}
}

// memory mirrors one item of the Buddi get_memories response.
type memory struct {
	ID         string `json:"id"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"finished_at"`
	Language   string `json:"language"`
	Source     string `json:"source"`
	Visibility string `json:"visibility"`
	Status     string `json:"status"`
	Discarded  bool   `json:"discarded"`
	Structured struct {
		Title       string                `json:"title"`
		Overview    string                `json:"overview"`
		Emoji       string                `json:"emoji"`
		Category    string                `json:"category"`
		ActionItems []conversation.Action `json:"action_items"`
	} `json:"structured"`
	TranscriptSegments []map[string]any `json:"transcript_segments"`
	PluginsResults     []map[string]any `json:"plugins_results"`
}

// FetchSummaries fetches up to limit memories and returns them translated
// to canonical records, in API order.
func (c *Client) FetchSummaries(ctx context.Context, limit int) ([]conversation.Record, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))

	memories, err := c.getMemories(ctx, params)
	if err != nil {
		return nil, err
	}

	records := make([]conversation.Record, 0, len(memories))
	for _, m := range memories {
		records = append(records, c.translate(m))
	}
	return records, nil
}

// FetchDetails fetches a single memory by conversation id. It returns
// (nil, nil) when the source has no such conversation.
func (c *Client) FetchDetails(ctx context.Context, externalID string) (*conversation.Record, error) {
	params := url.Values{}
	params.Set("conversation_id", externalID)

	memories, err := c.getMemories(ctx, params)
	if err != nil {
		return nil, err
	}
	if len(memories) == 0 {
		return nil, nil
	}

	rec := c.translate(memories[0])
	return &rec, nil
}

// getMemories calls GET /get_memories and decodes whichever envelope the
// API chose: a bare array, {"memories": [...]}, or {"data": [...]}.
func (c *Client) getMemories(ctx context.Context, params url.Values) ([]memory, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	reqURL := c.baseURL + "/get_memories"
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching memories: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetching memories: unexpected status %d", resp.StatusCode)
	}

	var raw json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return decodeMemories(raw)
}

func decodeMemories(raw json.RawMessage) ([]memory, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var list []memory
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("decoding memory list: %w", err)
		}
		return list, nil
	}

	var envelope struct {
		Memories []memory `json:"memories"`
		Data     []memory `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding memory envelope: %w", err)
	}
	if envelope.Memories != nil {
		return envelope.Memories, nil
	}
	if envelope.Data != nil {
		return envelope.Data, nil
	}

	// A single object without an envelope is treated as one memory.
	var single memory
	if err := json.Unmarshal(raw, &single); err != nil {
		return nil, fmt.Errorf("decoding single memory: %w", err)
	}
	if single.ID == "" {
		return nil, nil
	}
	return []memory{single}, nil
}

// translate maps one raw memory onto the canonical record shape.
func (c *Client) translate(m memory) conversation.Record {
	return conversation.Record{
		ExternalID: m.ID,
		Summary: conversation.Summary{
			Title:    m.Structured.Title,
			Text:     m.Structured.Overview,
			Content:  m.Structured.Overview,
			Emoji:    m.Structured.Emoji,
			Category: m.Structured.Category,
		},
		Actions: m.Structured.ActionItems,
		Metadata: conversation.Metadata{
			ExternalID:         m.ID,
			UserID:             c.defaultUser,
			CreatedAt:          m.CreatedAt,
			FinishedAt:         m.FinishedAt,
			Language:           m.Language,
			Source:             m.Source,
			Visibility:         m.Visibility,
			Status:             m.Status,
			Discarded:          m.Discarded,
			TranscriptSegments: m.TranscriptSegments,
			PluginResults:      m.PluginsResults,
		},
		FetchedAt: c.now().UTC(),
	}
}
