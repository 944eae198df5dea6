package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Session is one conversation thread belonging to a user. Meta carries
// free-form metadata, at minimum the derived title.
type Session struct {
	ID           int64
	UserID       int64
	StartedAt    int64
	LastActiveAt int64
	Meta         map[string]any
}

// Title returns the session title from meta, or empty string.
func (s *Session) Title() string {
	if t, ok := s.Meta["title"].(string); ok {
		return t
	}
	return ""
}

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var meta string
	err := row.Scan(&s.ID, &s.UserID, &s.StartedAt, &s.LastActiveAt, &meta)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}
	if err := json.Unmarshal([]byte(meta), &s.Meta); err != nil {
		return nil, fmt.Errorf("decode meta for session %d: %w", s.ID, err)
	}
	if s.Meta == nil {
		s.Meta = map[string]any{}
	}
	return &s, nil
}

// CreateSession inserts a new session for a user.
func (db *DB) CreateSession(userID int64, meta map[string]any) (*Session, error) {
	if meta == nil {
		meta = map[string]any{}
	}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("encode meta: %w", err)
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO sessions (user_id, started_at, last_active_at, meta)
		VALUES (?, ?, ?, ?)
	`, userID, now, now, string(encoded))
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Session{
		ID:           id,
		UserID:       userID,
		StartedAt:    now,
		LastActiveAt: now,
		Meta:         meta,
	}, nil
}

// GetSession returns a session by id, or nil if absent.
func (db *DB) GetSession(id int64) (*Session, error) {
	return scanSession(db.QueryRow(`
		SELECT id, user_id, started_at, last_active_at, meta
		FROM sessions WHERE id = ?
	`, id))
}

// LatestActiveSession returns the user's most-recently-active session whose
// last_active_at is at or after cutoff, or nil if none qualifies.
func (db *DB) LatestActiveSession(userID int64, cutoff int64) (*Session, error) {
	return scanSession(db.QueryRow(`
		SELECT id, user_id, started_at, last_active_at, meta
		FROM sessions
		WHERE user_id = ? AND last_active_at >= ?
		ORDER BY last_active_at DESC LIMIT 1
	`, userID, cutoff))
}

// ListSessions returns a user's sessions ordered by last_active_at descending.
func (db *DB) ListSessions(userID int64, limit, offset int) ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, user_id, started_at, last_active_at, meta
		FROM sessions WHERE user_id = ?
		ORDER BY last_active_at DESC LIMIT ? OFFSET ?
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// SessionsActiveSince returns all of a user's sessions with
// last_active_at at or after cutoff.
func (db *DB) SessionsActiveSince(userID int64, cutoff int64) ([]Session, error) {
	rows, err := db.Query(`
		SELECT id, user_id, started_at, last_active_at, meta
		FROM sessions WHERE user_id = ? AND last_active_at >= ?
	`, userID, cutoff)
	if err != nil {
		return nil, fmt.Errorf("sessions active since: %w", err)
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// TouchSession advances a session's last_active_at.
func (db *DB) TouchSession(id int64, at int64) error {
	_, err := db.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`, at, id)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// SetSessionMeta replaces a session's metadata map.
func (db *DB) SetSessionMeta(id int64, meta map[string]any) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	_, err = db.Exec(`UPDATE sessions SET meta = ? WHERE id = ?`, string(encoded), id)
	if err != nil {
		return fmt.Errorf("set session meta: %w", err)
	}
	return nil
}

// DeleteSession removes a session and, via cascade, its messages.
// Returns false if no such session existed.
func (db *DB) DeleteSession(id int64) (bool, error) {
	result, err := db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
