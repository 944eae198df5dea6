// Package digest generates windowed conversation summaries and the care
// messages composed from them. Summaries are persisted rows; a recent
// summary covering the requested window is reused instead of recomputed.
package digest

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/store"
)

// Fallback texts when the window is empty or generation fails.
const (
	emptyWindowSummary = "这段时间您还没有开始对话。随时可以和我聊聊，我会在这里陪伴您。"
	failedSummary      = "这段时间您进行了多次对话。继续保持，我会一直在这里支持您。"
)

// Service generates and stores windowed summaries.
type Service struct {
	db         *store.DB
	ledger     *ledger.Service
	llm        llm.Client
	windowDays int
}

// NewService creates the digest service with a default summary window in
// days.
func NewService(db *store.DB, led *ledger.Service, client llm.Client, windowDays int) *Service {
	return &Service{db: db, ledger: led, llm: client, windowDays: windowDays}
}

// Generate produces a summary over the trailing window, reusing a
// persisted summary that already covers it unless force is set. Failures
// degrade to deterministic fallback text, never to an error the caller
// must handle.
func (s *Service) Generate(ctx context.Context, userID int64, windowDays int, force bool) (*store.Summary, error) {
	if windowDays <= 0 {
		windowDays = s.windowDays
	}
	windowEnd := time.Now()
	windowStart := windowEnd.Add(-time.Duration(windowDays) * 24 * time.Hour)

	if !force {
		// An hour of slack on each side keeps back-to-back firings from
		// regenerating the same window.
		existing, err := s.db.LatestSummaryCovering(
			windowStart.Add(-time.Hour).UnixMilli(),
			windowEnd.Add(time.Hour).UnixMilli(),
		)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			log.Printf("使用已有摘要: %d", existing.ID)
			return existing, nil
		}
	}

	messages, err := s.ledger.RecentMessages(userID, windowDays, 0)
	if err != nil {
		return nil, err
	}

	var content string
	if len(messages) == 0 {
		content = emptyWindowSummary
	} else {
		turns := make([]llm.Turn, 0, len(messages))
		for _, m := range messages {
			turns = append(turns, llm.Turn{Role: m.Role, Content: m.Content})
		}
		content = s.summarize(ctx, turns, windowStart, windowEnd)
		if content == "" {
			content = failedSummary
		}
	}

	summary, err := s.db.InsertSummary(windowStart.UnixMilli(), windowEnd.UnixMilli(), content, map[string]any{
		"message_count": len(messages),
		"window_days":   windowDays,
	})
	if err != nil {
		return nil, err
	}
	log.Printf("生成摘要: %d", summary.ID)
	return summary, nil
}

func (s *Service) summarize(ctx context.Context, turns []llm.Turn, start, end time.Time) string {
	if s.llm == nil {
		return ""
	}
	resp, err := s.llm.Complete(ctx, llm.SummaryPrompt(turns, start, end))
	if err != nil {
		log.Printf("摘要生成失败: %v", err)
		return ""
	}
	return strings.TrimSpace(resp.Content)
}

// TimeOfDay buckets a wall-clock hour: [5,12) morning, [12,18) noon,
// everything else evening.
func TimeOfDay(hour int) string {
	switch {
	case hour >= 5 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 18:
		return "noon"
	default:
		return "evening"
	}
}

// CareMessage composes a care message from a summary, optionally through
// a template. Generation failure falls back to a deterministic string
// built from the greeting and the head of the summary.
func (s *Service) CareMessage(ctx context.Context, userID int64, templateID *int64, timeOfDay string) (string, error) {
	summary, err := s.Generate(ctx, userID, 0, false)
	if err != nil {
		return "", err
	}

	templateContent := ""
	if templateID != nil {
		tmpl, err := s.db.GetTemplate(*templateID)
		if err != nil {
			return "", err
		}
		if tmpl != nil {
			templateContent = tmpl.Content
		}
	}

	if s.llm != nil {
		resp, err := s.llm.Complete(ctx, llm.CareMessagePrompt(summary.Content, templateContent, timeOfDay))
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content), nil
		}
		if err != nil {
			log.Printf("关怀消息生成失败: %v", err)
		}
	}

	return FallbackCareMessage(summary.Content, timeOfDay), nil
}

// FallbackCareMessage is the deterministic composition used when the
// generation backend is unavailable: greeting, first 100 characters of
// the summary, and a closing cheer.
func FallbackCareMessage(summary, timeOfDay string) string {
	head := []rune(summary)
	if len(head) > 100 {
		head = head[:100]
	}
	return llm.Greeting(timeOfDay) + "！" + string(head) + "... 继续加油！"
}
