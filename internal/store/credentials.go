package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUsernameExists is returned when a credential insert loses the race
// against a concurrent registration of the same username.
var ErrUsernameExists = errors.New("username already exists")

// Credential holds a user's login identity. One per user.
type Credential struct {
	ID           int64
	UserID       int64
	Username     string
	PasswordHash string
	CreatedAt    int64
	LastLoginAt  *int64
}

// AuthToken is one issued bearer token. Only the hash of the token is
// stored; rows are never deleted so revocations stay auditable.
type AuthToken struct {
	ID         int64
	UserID     int64
	TokenHash  string
	CreatedAt  int64
	ExpiresAt  int64
	LastUsedAt *int64
	RevokedAt  *int64
}

// GetCredentialByUsername returns the credential for a username, or nil.
func (db *DB) GetCredentialByUsername(username string) (*Credential, error) {
	var c Credential
	err := db.QueryRow(`
		SELECT id, user_id, username, password_hash, created_at, last_login_at
		FROM user_credentials WHERE username = ?
	`, username).Scan(&c.ID, &c.UserID, &c.Username, &c.PasswordHash, &c.CreatedAt, &c.LastLoginAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	return &c, nil
}

// CreateUserWithCredential inserts a user and its credential in one
// transaction. Either both rows land or neither does.
func (db *DB) CreateUserWithCredential(displayName, username, passwordHash string) (*User, error) {
	now := time.Now().UnixMilli()

	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin register: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO users (display_name, preferences, created_at)
		VALUES (?, '{}', ?)
	`, displayName, now)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("insert user: %w", err)
	}
	userID, _ := result.LastInsertId()

	if _, err := tx.Exec(`
		INSERT INTO user_credentials (user_id, username, password_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, username, passwordHash, now); err != nil {
		tx.Rollback()
		if strings.Contains(err.Error(), "UNIQUE constraint failed: user_credentials.username") {
			return nil, ErrUsernameExists
		}
		return nil, fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit register: %w", err)
	}

	return &User{
		ID:          userID,
		DisplayName: displayName,
		Preferences: map[string]any{},
		CreatedAt:   now,
	}, nil
}

// TouchLastLogin records a successful password authentication.
func (db *DB) TouchLastLogin(credentialID int64, at int64) error {
	_, err := db.Exec(`UPDATE user_credentials SET last_login_at = ? WHERE id = ?`, at, credentialID)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// InsertToken stores a new token hash for a user.
func (db *DB) InsertToken(userID int64, tokenHash string, createdAt, expiresAt int64) (*AuthToken, error) {
	result, err := db.Exec(`
		INSERT INTO auth_tokens (user_id, token_hash, created_at, expires_at, last_used_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, tokenHash, createdAt, expiresAt, createdAt)
	if err != nil {
		return nil, fmt.Errorf("insert token: %w", err)
	}

	id, _ := result.LastInsertId()
	last := createdAt
	return &AuthToken{
		ID:         id,
		UserID:     userID,
		TokenHash:  tokenHash,
		CreatedAt:  createdAt,
		ExpiresAt:  expiresAt,
		LastUsedAt: &last,
	}, nil
}

// GetActiveToken returns the token row for a hash that is neither revoked
// nor expired at the given instant, or nil.
func (db *DB) GetActiveToken(tokenHash string, now int64) (*AuthToken, error) {
	var t AuthToken
	err := db.QueryRow(`
		SELECT id, user_id, token_hash, created_at, expires_at, last_used_at, revoked_at
		FROM auth_tokens
		WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?
	`, tokenHash, now).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.CreatedAt, &t.ExpiresAt, &t.LastUsedAt, &t.RevokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active token: %w", err)
	}
	return &t, nil
}

// TouchTokenUse records a successful token validation.
func (db *DB) TouchTokenUse(tokenID int64, at int64) error {
	_, err := db.Exec(`UPDATE auth_tokens SET last_used_at = ? WHERE id = ?`, at, tokenID)
	if err != nil {
		return fmt.Errorf("touch token use: %w", err)
	}
	return nil
}

// RevokeToken marks an active token revoked. Returns false when no active
// match exists, so a second revocation is a no-op.
func (db *DB) RevokeToken(tokenHash string, at int64) (bool, error) {
	result, err := db.Exec(`
		UPDATE auth_tokens SET revoked_at = ?
		WHERE token_hash = ? AND revoked_at IS NULL
	`, at, tokenHash)
	if err != nil {
		return false, fmt.Errorf("revoke token: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}
