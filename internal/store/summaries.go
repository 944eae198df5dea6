package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Summary is one windowed digest of conversation history.
type Summary struct {
	ID          int64
	WindowStart int64
	WindowEnd   int64
	Content     string
	GeneratedAt int64
	Meta        map[string]any
}

// InsertSummary persists a generated summary.
func (db *DB) InsertSummary(windowStart, windowEnd int64, content string, meta map[string]any) (*Summary, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode summary meta: %w", err)
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO summaries (window_start, window_end, content, generated_at, meta)
		VALUES (?, ?, ?, ?, ?)
	`, windowStart, windowEnd, content, now, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("insert summary: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Summary{
		ID:          id,
		WindowStart: windowStart,
		WindowEnd:   windowEnd,
		Content:     content,
		GeneratedAt: now,
		Meta:        meta,
	}, nil
}

func scanSummary(row interface{ Scan(...any) error }) (*Summary, error) {
	var s Summary
	var meta string
	err := row.Scan(&s.ID, &s.WindowStart, &s.WindowEnd, &s.Content, &s.GeneratedAt, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &s.Meta); err != nil {
		return nil, fmt.Errorf("decode summary meta: %w", err)
	}
	return &s, nil
}

// LatestSummaryCovering returns the newest summary whose window fits inside
// [start, end], or nil.
func (db *DB) LatestSummaryCovering(start, end int64) (*Summary, error) {
	return scanSummary(db.QueryRow(`
		SELECT id, window_start, window_end, content, generated_at, meta
		FROM summaries
		WHERE window_start >= ? AND window_end <= ?
		ORDER BY generated_at DESC LIMIT 1
	`, start, end))
}

// LatestSummary returns the most recently generated summary, or nil.
func (db *DB) LatestSummary() (*Summary, error) {
	return scanSummary(db.QueryRow(`
		SELECT id, window_start, window_end, content, generated_at, meta
		FROM summaries ORDER BY generated_at DESC LIMIT 1
	`))
}
