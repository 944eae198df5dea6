// Package memory keeps a per-user long-term digest of conversation
// history inside the user's preference map, refreshed under a staleness
// policy. Stale digests are replaced, never cleared: a caller can see an
// old digest but never lose one.
package memory

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/store"
)

// Reserved preference keys for the memory cache.
const (
	MemoryKey    = "long_term_memory"
	UpdatedAtKey = "long_term_memory_updated_at"
)

// Service is the long-term memory cache.
type Service struct {
	db     *store.DB
	ledger *ledger.Service
	llm    llm.Client

	refreshHours int
	windowDays   int
	maxMessages  int
}

// NewService creates the cache. refreshHours bounds digest staleness,
// windowDays and maxMessages bound the summarization source.
func NewService(db *store.DB, led *ledger.Service, client llm.Client, refreshHours, windowDays, maxMessages int) *Service {
	return &Service{
		db:           db,
		ledger:       led,
		llm:          client,
		refreshHours: refreshHours,
		windowDays:   windowDays,
		maxMessages:  maxMessages,
	}
}

// Get returns the cached digest verbatim, without any freshness check.
// Empty string means no digest exists.
func (s *Service) Get(userID int64) (string, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("用户不存在: %d", userID)
	}
	return cachedDigest(user), nil
}

func cachedDigest(user *store.User) string {
	if v, ok := user.Preferences[MemoryKey].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func cachedUpdatedAt(user *store.User) (time.Time, bool) {
	raw, ok := user.Preferences[UpdatedAtKey].(string)
	if !ok || raw == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// EnsureFresh makes sure a digest is available: generates one when
// absent, refreshes it once it is older than the staleness window, and
// otherwise returns the cached value. An empty message window or a blank
// summarization result leaves the existing digest untouched.
func (s *Service) EnsureFresh(ctx context.Context, userID int64, force bool) (string, error) {
	user, err := s.db.GetUser(userID)
	if err != nil {
		return "", err
	}
	if user == nil {
		return "", fmt.Errorf("用户不存在: %d", userID)
	}

	digest := cachedDigest(user)
	updatedAt, hasTimestamp := cachedUpdatedAt(user)
	now := time.Now()

	stale := !hasTimestamp || now.Sub(updatedAt) > time.Duration(s.refreshHours)*time.Hour
	if !force && digest != "" && !stale {
		return digest, nil
	}

	messages, err := s.ledger.RecentMessages(userID, s.windowDays, s.maxMessages)
	if err != nil {
		return "", err
	}
	if len(messages) == 0 {
		return digest, nil
	}

	turns := make([]llm.Turn, 0, len(messages))
	for _, m := range messages {
		turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
	}
	windowStart := now.Add(-time.Duration(s.windowDays) * 24 * time.Hour)

	summary := s.summarize(ctx, turns, windowStart, now)
	if summary == "" {
		return digest, nil
	}

	prefs := map[string]any{}
	for k, v := range user.Preferences {
		prefs[k] = v
	}
	prefs[MemoryKey] = summary
	prefs[UpdatedAtKey] = now.Format(time.RFC3339)
	if err := s.db.SetPreferences(userID, prefs); err != nil {
		return "", err
	}
	return summary, nil
}

func (s *Service) summarize(ctx context.Context, turns []llm.Turn, start, end time.Time) string {
	if s.llm == nil {
		return ""
	}
	resp, err := s.llm.Complete(ctx, llm.SummaryPrompt(turns, start, end))
	if err != nil {
		log.Printf("长期记忆摘要生成失败: %v", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}
