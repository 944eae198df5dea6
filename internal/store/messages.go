package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Message is one turn in a session. Immutable once created.
type Message struct {
	ID        int64
	SessionID int64
	Role      string
	Content   string
	CreatedAt int64
}

// InsertMessage appends a message to a session.
func (db *DB) InsertMessage(sessionID int64, role, content string) (*Message, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO messages (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, role, content, now)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}, nil
}

// AppendMessage inserts a message, advances the session's
// last_active_at, and optionally replaces the session's metadata, all in
// one transaction. A nil meta leaves the metadata untouched. Either
// every write lands or none does.
func (db *DB) AppendMessage(sessionID int64, role, content string, at int64, meta map[string]any) (*Message, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin append: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO messages (session_id, role, content, created_at)
		VALUES (?, ?, ?, ?)
	`, sessionID, role, content, at)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert message: %w", err)
	}
	id, _ := result.LastInsertId()

	if _, err := tx.Exec(`UPDATE sessions SET last_active_at = ? WHERE id = ?`, at, sessionID); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("touch session: %w", err)
	}

	if meta != nil {
		encoded, err := json.Marshal(meta)
		if err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("encode meta: %w", err)
		}
		if _, err := tx.Exec(`UPDATE sessions SET meta = ? WHERE id = ?`, string(encoded), sessionID); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("set session meta: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append: %w", err)
	}

	return &Message{
		ID:        id,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		CreatedAt: at,
	}, nil
}

// GetMessages returns a session's messages in chronological order.
// limit <= 0 means no limit.
func (db *DB) GetMessages(sessionID int64, limit, offset int) ([]Message, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id = ?
		ORDER BY created_at, id LIMIT ? OFFSET ?
	`, sessionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastMessages returns the most recent n messages of a session in
// chronological order.
func (db *DB) LastMessages(sessionID int64, n int) ([]Message, error) {
	rows, err := db.Query(`
		SELECT id, session_id, role, content, created_at FROM (
			SELECT id, session_id, role, content, created_at
			FROM messages WHERE session_id = ?
			ORDER BY created_at DESC, id DESC LIMIT ?
		) ORDER BY created_at, id
	`, sessionID, n)
	if err != nil {
		return nil, fmt.Errorf("last messages: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// MessagesInSessionsSince returns messages across the given sessions created
// at or after cutoff, chronologically. limit <= 0 means no limit.
func (db *DB) MessagesInSessionsSince(sessionIDs []int64, cutoff int64, limit int) ([]Message, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = -1
	}

	placeholders := strings.Repeat("?,", len(sessionIDs))
	placeholders = placeholders[:len(placeholders)-1]

	args := make([]any, 0, len(sessionIDs)+2)
	for _, id := range sessionIDs {
		args = append(args, id)
	}
	args = append(args, cutoff, limit)

	rows, err := db.Query(fmt.Sprintf(`
		SELECT id, session_id, role, content, created_at
		FROM messages WHERE session_id IN (%s) AND created_at >= ?
		ORDER BY created_at, id LIMIT ?
	`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("messages in sessions: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// CountMessages returns the number of messages in a session.
func (db *DB) CountMessages(sessionID int64) (int, error) {
	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count messages: %w", err)
	}
	return count, nil
}
