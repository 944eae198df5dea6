package ledger

import (
	"errors"
	"log"
	"time"

	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/store"
)

// DefaultTitle is the placeholder before a title is derived from the
// first user message.
const DefaultTitle = "新对话"

var (
	// ErrSessionNotFound marks a lookup of a session that does not exist.
	ErrSessionNotFound = errors.New("会话不存在")
	// ErrNotOwner marks an access attempt by a non-owning identity.
	ErrNotOwner = errors.New("无权访问该会话")
)

// Service is the conversation ledger: users, sessions, and messages,
// plus the active-session selection policy.
type Service struct {
	db            *store.DB
	windowDays    int
	maxContentLen int
}

// NewService creates a ledger over the given store. windowDays is the
// trailing activity window for active-session selection; maxContentLen
// caps stored message content.
func NewService(db *store.DB, windowDays, maxContentLen int) *Service {
	return &Service{db: db, windowDays: windowDays, maxContentLen: maxContentLen}
}

// GetOrCreateUser resolves a user id to a user. id <= 0, or an unknown
// id, resolves to the process-wide default user, creating it when no
// users exist yet.
func (s *Service) GetOrCreateUser(id int64) (*store.User, error) {
	if id > 0 {
		user, err := s.db.GetUser(id)
		if err != nil {
			return nil, err
		}
		if user != nil {
			return user, nil
		}
	}

	user, err := s.db.FirstUser()
	if err != nil {
		return nil, err
	}
	if user != nil {
		return user, nil
	}

	user, err = s.db.CreateUser("用户", nil)
	if err != nil {
		return nil, err
	}
	log.Printf("创建默认用户: %d", user.ID)
	return user, nil
}

// CreateSession starts a new session for a user.
func (s *Service) CreateSession(userID int64, meta map[string]any) (*store.Session, error) {
	user, err := s.GetOrCreateUser(userID)
	if err != nil {
		return nil, err
	}
	sess, err := s.db.CreateSession(user.ID, meta)
	if err != nil {
		return nil, err
	}
	log.Printf("创建新会话: %d", sess.ID)
	return sess, nil
}

// GetSession returns a session by id, or nil.
func (s *Service) GetSession(id int64) (*store.Session, error) {
	return s.db.GetSession(id)
}

func (s *Service) windowCutoff() int64 {
	return time.Now().Add(-time.Duration(s.windowDays) * 24 * time.Hour).UnixMilli()
}

// GetOrCreateActiveSession returns the user's most-recently-active
// session inside the activity window, creating a fresh one when every
// existing session has aged out. Sessions expire from being the active
// target without being deleted.
func (s *Service) GetOrCreateActiveSession(userID int64) (*store.Session, error) {
	user, err := s.GetOrCreateUser(userID)
	if err != nil {
		return nil, err
	}

	sess, err := s.db.LatestActiveSession(user.ID, s.windowCutoff())
	if err != nil {
		return nil, err
	}
	if sess != nil {
		return sess, nil
	}
	return s.CreateSession(user.ID, nil)
}

// AppendMessage sanitizes and persists one message, advances the
// session's last_active_at, and derives the session title from the first
// user message when the current title is empty or the placeholder. The
// writes land in one transaction: a message is never observed without
// its session updates.
func (s *Service) AppendMessage(sessionID int64, role, content string) (*store.Message, error) {
	sess, err := s.db.GetSession(sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	content = Sanitize(content, s.maxContentLen)

	var meta map[string]any
	if role == "user" {
		current := sess.Title()
		if current == "" || current == DefaultTitle {
			title := DeriveTitle(content)
			if title == "" {
				title = DefaultTitle
			}
			meta = map[string]any{}
			for k, v := range sess.Meta {
				meta[k] = v
			}
			meta["title"] = title
		}
	}

	return s.db.AppendMessage(sessionID, role, content, time.Now().UnixMilli(), meta)
}

// ListSessions returns a user's sessions by recency.
func (s *Service) ListSessions(userID int64, limit, offset int) ([]store.Session, error) {
	user, err := s.GetOrCreateUser(userID)
	if err != nil {
		return nil, err
	}
	return s.db.ListSessions(user.ID, limit, offset)
}

// GetMessages returns a session's messages chronologically.
func (s *Service) GetMessages(sessionID int64, limit, offset int) ([]store.Message, error) {
	return s.db.GetMessages(sessionID, limit, offset)
}

// CountMessages returns a session's message count.
func (s *Service) CountMessages(sessionID int64) (int, error) {
	return s.db.CountMessages(sessionID)
}

// ConversationHistory returns the last maxMessages turns of a session in
// chronological order, projected for the generation backend.
func (s *Service) ConversationHistory(sessionID int64, maxMessages int) ([]llm.Turn, error) {
	messages, err := s.db.LastMessages(sessionID, maxMessages)
	if err != nil {
		return nil, err
	}
	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}

// RecentMessages returns a user's messages across all sessions active
// within the trailing day window, additionally filtered by message
// timestamp, chronologically. limit <= 0 means no limit.
func (s *Service) RecentMessages(userID int64, days, limit int) ([]store.Message, error) {
	user, err := s.GetOrCreateUser(userID)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour).UnixMilli()
	sessions, err := s.db.SessionsActiveSince(user.ID, cutoff)
	if err != nil {
		return nil, err
	}
	if len(sessions) == 0 {
		return nil, nil
	}

	ids := make([]int64, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	return s.db.MessagesInSessionsSince(ids, cutoff, limit)
}

// DeleteSession removes a session and its messages.
func (s *Service) DeleteSession(sessionID int64) (bool, error) {
	return s.db.DeleteSession(sessionID)
}

// Authorize checks that the caller may touch the session: either the
// identified user owns it, or the caller is anonymous and the session
// belongs to the default user.
func (s *Service) Authorize(sess *store.Session, userID int64) error {
	if sess == nil {
		return ErrSessionNotFound
	}
	if userID > 0 {
		if sess.UserID != userID {
			return ErrNotOwner
		}
		return nil
	}

	def, err := s.GetOrCreateUser(0)
	if err != nil {
		return err
	}
	if sess.UserID != def.ID {
		return ErrNotOwner
	}
	return nil
}
