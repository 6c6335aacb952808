package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const conversationColumns = `id, external_id, user_id, anchor_id, token_id,
	summary, actions, metadata,
	sentiment, sentiment_label, topics, keywords, quality_score, engagement_score,
	merkle_root, token_uri, contract_address,
	created_at, updated_at, is_processed, is_exported`

const insertConversationSQL = `
	INSERT INTO conversations (` + conversationColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// encodeJSON marshals a nested structure for its text column. A nil value
// is stored as an empty string rather than "null".
func encodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func decodeJSON(data string, v any) error {
	if data == "" || data == "null" {
		return nil
	}
	return json.Unmarshal([]byte(data), v)
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertConversation(e execer, c Conversation) error {
	summaryJSON, err := encodeJSON(c.Summary)
	if err != nil {
		return fmt.Errorf("encoding summary: %w", err)
	}
	actionsJSON, err := encodeJSON(c.Actions)
	if err != nil {
		return fmt.Errorf("encoding actions: %w", err)
	}
	metadataJSON, err := encodeJSON(c.Metadata)
	if err != nil {
		return fmt.Errorf("encoding metadata: %w", err)
	}
	topicsJSON, err := encodeJSON(c.Topics)
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	keywordsJSON, err := encodeJSON(c.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	var updatedAt any
	if !c.UpdatedAt.IsZero() {
		updatedAt = c.UpdatedAt.UTC().Format(time.RFC3339)
	}

	_, err = e.Exec(insertConversationSQL,
		c.ID, c.ExternalID, c.UserID, c.AnchorID, c.TokenID,
		summaryJSON, actionsJSON, metadataJSON,
		c.Sentiment, c.SentimentLabel, topicsJSON, keywordsJSON,
		c.QualityScore, c.EngagementScore,
		c.MerkleRoot, c.TokenURI, c.ContractAddress,
		c.CreatedAt.UTC().Format(time.RFC3339), updatedAt,
		c.IsProcessed, c.IsExported,
	)
	return err
}

// SaveConversation inserts a single conversation.
func (s *Store) SaveConversation(c Conversation) error {
	return insertConversation(s.db, c)
}

// SaveConversationBatch inserts all conversations in one transaction: the
// whole batch commits or none of it does.
func (s *Store) SaveConversationBatch(batch []Conversation) error {
	if len(batch) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch transaction: %w", err)
	}

	for _, c := range batch {
		if err := insertConversation(tx, c); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting conversation %s: %w", c.ExternalID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var c Conversation
	var summaryJSON, actionsJSON, metadataJSON, topicsJSON, keywordsJSON string
	var createdAt string
	var updatedAt sql.NullString

	err := row.Scan(
		&c.ID, &c.ExternalID, &c.UserID, &c.AnchorID, &c.TokenID,
		&summaryJSON, &actionsJSON, &metadataJSON,
		&c.Sentiment, &c.SentimentLabel, &topicsJSON, &keywordsJSON,
		&c.QualityScore, &c.EngagementScore,
		&c.MerkleRoot, &c.TokenURI, &c.ContractAddress,
		&createdAt, &updatedAt, &c.IsProcessed, &c.IsExported,
	)
	if err != nil {
		return Conversation{}, err
	}

	if err := decodeJSON(summaryJSON, &c.Summary); err != nil {
		return Conversation{}, fmt.Errorf("decoding summary: %w", err)
	}
	if err := decodeJSON(actionsJSON, &c.Actions); err != nil {
		return Conversation{}, fmt.Errorf("decoding actions: %w", err)
	}
	if err := decodeJSON(metadataJSON, &c.Metadata); err != nil {
		return Conversation{}, fmt.Errorf("decoding metadata: %w", err)
	}
	if err := decodeJSON(topicsJSON, &c.Topics); err != nil {
		return Conversation{}, fmt.Errorf("decoding topics: %w", err)
	}
	if err := decodeJSON(keywordsJSON, &c.Keywords); err != nil {
		return Conversation{}, fmt.Errorf("decoding keywords: %w", err)
	}

	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Conversation{}, fmt.Errorf("parsing created_at: %w", err)
	}
	c.CreatedAt = t

	if updatedAt.Valid && updatedAt.String != "" {
		t, err := time.Parse(time.RFC3339, updatedAt.String)
		if err != nil {
			return Conversation{}, fmt.Errorf("parsing updated_at: %w", err)
		}
		c.UpdatedAt = t
	}

	return c, nil
}

// GetConversation returns the conversation with the given persistence id.
func (s *Store) GetConversation(id string) (Conversation, error) {
	row := s.db.QueryRow(
		`SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)

	c, err := scanConversation(row)
	if err == sql.ErrNoRows {
		return Conversation{}, ErrNotFound
	}
	if err != nil {
		return Conversation{}, err
	}
	return c, nil
}

// ListConversations returns conversations matching the filter, newest
// first.
func (s *Store) ListConversations(f Filter) ([]Conversation, error) {
	var where []string
	var args []any

	if f.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.SentimentLabel != "" {
		where = append(where, "sentiment_label = ?")
		args = append(args, f.SentimentLabel)
	}
	if f.MinQuality != nil {
		where = append(where, "quality_score >= ?")
		args = append(args, *f.MinQuality)
	}
	if f.Processed != nil {
		where = append(where, "is_processed = ?")
		args = append(args, *f.Processed)
	}

	query := `SELECT ` + conversationColumns + ` FROM conversations`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"

	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, f.Offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, c)
	}
	return results, rows.Err()
}

// ExistingExternalIDs returns the set of external ids already persisted,
// used as the scheduler's dedup set.
func (s *Store) ExistingExternalIDs() (map[string]struct{}, error) {
	rows, err := s.db.Query("SELECT external_id FROM conversations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// UpdateAnalytics replaces a conversation's score bundle in place and
// stamps updated_at. The anchor and token identities are untouched.
func (s *Store) UpdateAnalytics(id string, a Analytics) error {
	topicsJSON, err := encodeJSON(a.Topics)
	if err != nil {
		return fmt.Errorf("encoding topics: %w", err)
	}
	keywordsJSON, err := encodeJSON(a.Keywords)
	if err != nil {
		return fmt.Errorf("encoding keywords: %w", err)
	}

	res, err := s.db.Exec(`
		UPDATE conversations
		SET sentiment = ?, sentiment_label = ?, topics = ?, keywords = ?,
			quality_score = ?, engagement_score = ?, updated_at = ?
		WHERE id = ?`,
		a.Sentiment, a.SentimentLabel, topicsJSON, keywordsJSON,
		a.QualityScore, a.EngagementScore,
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Counts returns the total number of stored conversations and how many
// are marked processed.
func (s *Store) Counts() (total, processed int, err error) {
	err = s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(is_processed), 0) FROM conversations`,
	).Scan(&total, &processed)
	return total, processed, err
}
