package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// User is the identity anchor. Preferences is a free-form map serialized
// as JSON; the long-term memory cache lives under reserved keys in it.
type User struct {
	ID          int64
	DisplayName string
	Preferences map[string]any
	CreatedAt   int64
}

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var prefs string
	err := row.Scan(&u.ID, &u.DisplayName, &prefs, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &u.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences for user %d: %w", u.ID, err)
	}
	if u.Preferences == nil {
		u.Preferences = map[string]any{}
	}
	return &u, nil
}

// CreateUser inserts a new user row.
func (db *DB) CreateUser(displayName string, preferences map[string]any) (*User, error) {
	if preferences == nil {
		preferences = map[string]any{}
	}
	prefs, err := json.Marshal(preferences)
	if err != nil {
		return nil, fmt.Errorf("encode preferences: %w", err)
	}

	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO users (display_name, preferences, created_at)
		VALUES (?, ?, ?)
	`, displayName, string(prefs), now)
	if err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	id, _ := result.LastInsertId()
	return &User{
		ID:          id,
		DisplayName: displayName,
		Preferences: preferences,
		CreatedAt:   now,
	}, nil
}

// GetUser returns a user by id, or nil if absent.
func (db *DB) GetUser(id int64) (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, display_name, preferences, created_at
		FROM users WHERE id = ?
	`, id))
}

// FirstUser returns the lowest-id user row, or nil if the table is empty.
// Anonymous requests resolve to this user.
func (db *DB) FirstUser() (*User, error) {
	return scanUser(db.QueryRow(`
		SELECT id, display_name, preferences, created_at
		FROM users ORDER BY id LIMIT 1
	`))
}

// SetPreferences replaces the whole preference map for a user.
func (db *DB) SetPreferences(userID int64, preferences map[string]any) error {
	prefs, err := json.Marshal(preferences)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	_, err = db.Exec(`UPDATE users SET preferences = ? WHERE id = ?`, string(prefs), userID)
	if err != nil {
		return fmt.Errorf("update preferences: %w", err)
	}
	return nil
}
