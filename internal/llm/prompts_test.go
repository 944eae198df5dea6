package llm

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestChatPromptBasics(t *testing.T) {
	prompt := ChatPrompt("你好", nil, nil)
	if !strings.Contains(prompt, "CareMate") {
		t.Error("persona missing")
	}
	if !strings.Contains(prompt, "用户：你好") {
		t.Error("current message missing")
	}
	if !strings.HasSuffix(prompt, "助手：") {
		t.Error("prompt should end with the assistant cue")
	}
}

func TestChatPromptPreferences(t *testing.T) {
	prompt := ChatPrompt("hi", nil, map[string]any{
		"tone":  "正式",
		"goals": []any{"每天散步", "早点睡觉"},
	})
	if !strings.Contains(prompt, "用户偏好语气：正式") {
		t.Error("tone missing")
	}
	if !strings.Contains(prompt, "每天散步, 早点睡觉") {
		t.Error("goals missing")
	}

	// Tone defaults when unset.
	prompt = ChatPrompt("hi", nil, map[string]any{})
	if !strings.Contains(prompt, "用户偏好语气：温柔") {
		t.Error("default tone missing")
	}
}

func TestChatPromptMemoryInjection(t *testing.T) {
	prompt := ChatPrompt("今天怎么样", nil, map[string]any{
		"long_term_memory": "用户在学做菜。",
	})
	if !strings.Contains(prompt, "【用户长期记忆摘要（可能不完整）】") {
		t.Error("memory block missing")
	}
	if !strings.Contains(prompt, "用户在学做菜。") {
		t.Error("memory content missing")
	}
	if !strings.Contains(prompt, antiHallucination) {
		t.Error("anti-hallucination guard missing")
	}

	// A blank digest injects nothing.
	prompt = ChatPrompt("hi", nil, map[string]any{"long_term_memory": "   "})
	if strings.Contains(prompt, "长期记忆摘要") {
		t.Error("blank memory should not be injected")
	}
}

func TestChatPromptHistoryWindow(t *testing.T) {
	history := make([]Turn, 15)
	for i := range history {
		history[i] = Turn{Role: "user", Content: fmt.Sprintf("msg%d", i)}
	}

	prompt := ChatPrompt("now", history, nil)
	if strings.Contains(prompt, "msg4") {
		t.Error("history older than 10 turns should be dropped")
	}
	if !strings.Contains(prompt, "msg5") || !strings.Contains(prompt, "msg14") {
		t.Error("last 10 turns should be present")
	}
}

func TestSummaryPromptUsesUserMessagesOnly(t *testing.T) {
	turns := []Turn{
		{Role: "user", Content: "我在学做菜"},
		{Role: "assistant", Content: "学了哪些菜？"},
	}
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 8, 0, 0, 0, 0, time.UTC)

	prompt := SummaryPrompt(turns, start, end)
	if !strings.Contains(prompt, "- 我在学做菜") {
		t.Error("user message missing")
	}
	if strings.Contains(prompt, "学了哪些菜") {
		t.Error("assistant message should be excluded")
	}
	if !strings.Contains(prompt, "2025-01-01 至 2025-01-08") {
		t.Error("date range missing")
	}
}

func TestSummaryPromptCapsAtTwenty(t *testing.T) {
	var turns []Turn
	for i := 0; i < 30; i++ {
		turns = append(turns, Turn{Role: "user", Content: fmt.Sprintf("msg%d", i)})
	}
	prompt := SummaryPrompt(turns, time.Now(), time.Now())
	if strings.Contains(prompt, "- msg9\n") {
		t.Error("only the last 20 user messages should survive")
	}
	if !strings.Contains(prompt, "- msg29") {
		t.Error("latest message missing")
	}
}

func TestGreeting(t *testing.T) {
	cases := map[string]string{
		"morning": "早安",
		"noon":    "中午好",
		"evening": "晚上好",
		"unknown": "你好",
	}
	for in, want := range cases {
		if got := Greeting(in); got != want {
			t.Errorf("Greeting(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCareMessagePrompt(t *testing.T) {
	withTemplate := CareMessagePrompt("摘要内容", "模板文本", "morning")
	if !strings.Contains(withTemplate, "模板文本") {
		t.Error("template missing")
	}

	plain := CareMessagePrompt("摘要内容", "", "morning")
	if !strings.Contains(plain, `以"早安"开头`) {
		t.Error("greeting requirement missing")
	}
}
