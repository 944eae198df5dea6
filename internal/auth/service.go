package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wintermoss/caremate/internal/store"
)

var (
	// ErrValidation marks malformed registration input.
	ErrValidation = errors.New("invalid input")
	// ErrUsernameTaken marks a duplicate username at registration.
	ErrUsernameTaken = errors.New("用户名已存在")
)

// Service owns password verification and bearer-token lifecycle.
type Service struct {
	db         *store.DB
	tokenTTL   time.Duration
	tokenBytes int
}

// NewService creates the credential and token store.
func NewService(db *store.DB, tokenTTLDays, tokenBytes int) *Service {
	return &Service{
		db:         db,
		tokenTTL:   time.Duration(tokenTTLDays) * 24 * time.Hour,
		tokenBytes: tokenBytes,
	}
}

// Register creates a user and its credential atomically.
func (s *Service) Register(username, password, displayName string) (*store.User, error) {
	username = strings.TrimSpace(username)
	if len(username) < 3 || len(username) > 64 {
		return nil, fmt.Errorf("%w: 用户名长度需在 3-64 之间", ErrValidation)
	}
	if len(password) < 6 {
		return nil, fmt.Errorf("%w: 密码长度至少 6 位", ErrValidation)
	}

	existing, err := s.db.GetCredentialByUsername(username)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrUsernameTaken
	}

	if displayName == "" {
		displayName = username
	}
	hash, err := HashPassword(password)
	if err != nil {
		return nil, err
	}
	user, err := s.db.CreateUserWithCredential(displayName, username, hash)
	if errors.Is(err, store.ErrUsernameExists) {
		// A concurrent registration won between our pre-check and the
		// insert; report it the same way as the pre-check.
		return nil, ErrUsernameTaken
	}
	return user, err
}

// Authenticate checks a username/password pair. It returns nil without
// error on any mismatch, never distinguishing unknown users from wrong
// passwords.
func (s *Service) Authenticate(username, password string) (*store.User, error) {
	username = strings.TrimSpace(username)
	cred, err := s.db.GetCredentialByUsername(username)
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, nil
	}
	if !VerifyPassword(password, cred.PasswordHash) {
		return nil, nil
	}

	user, err := s.db.GetUser(cred.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, nil
	}

	if err := s.db.TouchLastLogin(cred.ID, time.Now().UnixMilli()); err != nil {
		return nil, err
	}
	return user, nil
}

// IssueToken mints a fresh bearer token for a user and stores only its
// hash. The returned plaintext is never persisted.
func (s *Service) IssueToken(user *store.User) (string, error) {
	token, err := GenerateToken(s.tokenBytes)
	if err != nil {
		return "", err
	}

	now := time.Now()
	_, err = s.db.InsertToken(user.ID, HashToken(token), now.UnixMilli(), now.Add(s.tokenTTL).UnixMilli())
	if err != nil {
		return "", err
	}
	return token, nil
}

// ValidateToken resolves a plaintext token to its user, touching
// last_used_at. Returns nil for unknown, revoked, or expired tokens.
func (s *Service) ValidateToken(token string) (*store.User, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, nil
	}

	now := time.Now().UnixMilli()
	row, err := s.db.GetActiveToken(HashToken(token), now)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}

	if err := s.db.TouchTokenUse(row.ID, now); err != nil {
		return nil, err
	}
	return s.db.GetUser(row.UserID)
}

// RevokeToken terminates a token. Revoking an already-revoked or unknown
// token returns false.
func (s *Service) RevokeToken(token string) (bool, error) {
	return s.db.RevokeToken(HashToken(strings.TrimSpace(token)), time.Now().UnixMilli())
}

// UserFromAuthorization resolves an Authorization header value to a user,
// or nil when the header is absent or the token invalid.
func (s *Service) UserFromAuthorization(authorization string) (*store.User, error) {
	token := ExtractBearer(authorization)
	if token == "" {
		return nil, nil
	}
	return s.ValidateToken(token)
}
