package digest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/store"
)

func testSetup(t *testing.T, mock *llm.MockClient) (*Service, *ledger.Service, *store.DB) {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	led := ledger.NewService(db, 30, 10000)
	var client llm.Client
	if mock != nil {
		client = mock
	}
	return NewService(db, led, client, 7), led, db
}

func TestTimeOfDay(t *testing.T) {
	cases := []struct {
		hour int
		want string
	}{
		{5, "morning"},
		{11, "morning"},
		{12, "noon"},
		{17, "noon"},
		{18, "evening"},
		{23, "evening"},
		{0, "evening"},
		{4, "evening"},
	}
	for _, tc := range cases {
		if got := TimeOfDay(tc.hour); got != tc.want {
			t.Errorf("TimeOfDay(%d) = %q, want %q", tc.hour, got, tc.want)
		}
	}
}

func TestGenerateEmptyWindow(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "不应出现", Provider: "mock"}}
	svc, _, _ := testSetup(t, mock)

	sum, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sum.Content != emptyWindowSummary {
		t.Errorf("content = %q", sum.Content)
	}
	if len(mock.Calls) != 0 {
		t.Errorf("backend called on empty window")
	}
	if sum.Meta["message_count"] != float64(0) {
		t.Errorf("message_count = %v", sum.Meta["message_count"])
	}
}

func TestGenerateSummarizes(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "用户聊了做菜。", Provider: "mock"}}
	svc, led, _ := testSetup(t, mock)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "我在学做菜")

	sum, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sum.Content != "用户聊了做菜。" {
		t.Errorf("content = %q", sum.Content)
	}
	if !strings.Contains(mock.Calls[0], "我在学做菜") {
		t.Errorf("prompt missing the conversation: %q", mock.Calls[0])
	}
}

func TestGenerateReusesCoveringSummary(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "新摘要", Provider: "mock"}}
	svc, led, _ := testSetup(t, mock)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	first, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}

	second, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate again: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("back-to-back generate should reuse summary %d, got %d", first.ID, second.ID)
	}

	forced, err := svc.Generate(context.Background(), 0, 0, true)
	if err != nil {
		t.Fatalf("Generate forced: %v", err)
	}
	if forced.ID == first.ID {
		t.Error("force should mint a new summary row")
	}
}

func TestGenerateBackendFailure(t *testing.T) {
	mock := &llm.MockClient{Err: errors.New("boom")}
	svc, led, _ := testSetup(t, mock)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	sum, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sum.Content != failedSummary {
		t.Errorf("content = %q, want fallback", sum.Content)
	}
}

func TestGenerateNoBackend(t *testing.T) {
	svc, led, _ := testSetup(t, nil)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	sum, err := svc.Generate(context.Background(), 0, 0, false)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if sum.Content != failedSummary {
		t.Errorf("content = %q, want fallback", sum.Content)
	}
}

func TestCareMessage(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "早上好呀，记得吃早饭。", Provider: "mock"}}
	svc, led, _ := testSetup(t, mock)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	msg, err := svc.CareMessage(context.Background(), 0, nil, "morning")
	if err != nil {
		t.Fatalf("CareMessage: %v", err)
	}
	if msg != "早上好呀，记得吃早饭。" {
		t.Errorf("message = %q", msg)
	}
}

func TestCareMessageWithTemplate(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "好的", Provider: "mock"}}
	svc, led, db := testSetup(t, mock)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	tmpl, err := db.CreateTemplate("morning", "记得喝水哦", "")
	if err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	if _, err := svc.CareMessage(context.Background(), 0, &tmpl.ID, "morning"); err != nil {
		t.Fatalf("CareMessage: %v", err)
	}

	// The care prompt is the last call; the template must be in it.
	last := mock.Calls[len(mock.Calls)-1]
	if !strings.Contains(last, "记得喝水哦") {
		t.Errorf("prompt missing template content: %q", last)
	}
}

func TestCareMessageFallback(t *testing.T) {
	svc, led, _ := testSetup(t, nil)

	sess, _ := led.GetOrCreateActiveSession(0)
	led.AppendMessage(sess.ID, "user", "消息")

	msg, err := svc.CareMessage(context.Background(), 0, nil, "morning")
	if err != nil {
		t.Fatalf("CareMessage: %v", err)
	}
	if !strings.HasPrefix(msg, "早安！") {
		t.Errorf("fallback should open with the greeting: %q", msg)
	}
	if !strings.HasSuffix(msg, "... 继续加油！") {
		t.Errorf("fallback should close with the cheer: %q", msg)
	}
}

func TestFallbackCareMessage(t *testing.T) {
	long := strings.Repeat("长", 150)
	msg := FallbackCareMessage(long, "evening")

	want := "晚上好！" + strings.Repeat("长", 100) + "... 继续加油！"
	if msg != want {
		t.Errorf("message = %q", msg)
	}

	short := FallbackCareMessage("短摘要", "noon")
	if short != "中午好！短摘要... 继续加油！" {
		t.Errorf("short message = %q", short)
	}
}
