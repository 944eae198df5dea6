package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wintermoss/caremate/internal/auth"
	"github.com/wintermoss/caremate/internal/config"
	"github.com/wintermoss/caremate/internal/digest"
	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/memory"
	"github.com/wintermoss/caremate/internal/notify"
	"github.com/wintermoss/caremate/internal/scheduler"
	"github.com/wintermoss/caremate/internal/store"
)

func testServer(t *testing.T, mock *llm.MockClient) *Server {
	t.Helper()
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cfg := config.Default()
	var client llm.Client
	if mock != nil {
		client = mock
	}

	authSvc := auth.NewService(db, cfg.Auth.TokenTTLDays, cfg.Auth.TokenBytes)
	led := ledger.NewService(db, cfg.Memory.WindowDays, cfg.Memory.MaxContentLen)
	mem := memory.NewService(db, led, client, cfg.Memory.RefreshHours, cfg.Memory.WindowDays, cfg.Memory.MaxMessages)
	dig := digest.NewService(db, led, client, cfg.Memory.SummaryDays)
	sched := scheduler.NewService(db, scheduler.NewRunner(), led, dig, notify.LogNotifier{})
	t.Cleanup(sched.Stop)

	return New(db, authSvc, led, mem, client, sched, cfg, "test")
}

func doJSON(t *testing.T, srv *Server, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "{") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, out
}

// doJSONList is doJSON for endpoints that answer with a top-level array.
func doJSONList(t *testing.T, srv *Server, method, path, token string) (*httptest.ResponseRecorder, []map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	var out []map[string]any
	if w.Body.Len() > 0 && strings.HasPrefix(strings.TrimSpace(w.Body.String()), "[") {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s response: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return w, out
}

func TestHealth(t *testing.T) {
	srv := testServer(t, nil)
	w, body := doJSON(t, srv, "GET", "/api/health", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if body["status"] != "ok" || body["db"] != true {
		t.Errorf("health = %v", body)
	}
}

func TestFullUserJourney(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "你好呀！", Provider: "mock"}}
	srv := testServer(t, mock)

	// Register.
	w, body := doJSON(t, srv, "POST", "/api/v1/auth/register",
		`{"username":"alice","password":"password123"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d: %s", w.Code, w.Body.String())
	}
	if body["username"] != "alice" || body["display_name"] != "alice" {
		t.Errorf("register body = %v", body)
	}

	// Login.
	w, body = doJSON(t, srv, "POST", "/api/v1/auth/login",
		`{"username":"alice","password":"password123"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
	}
	token, _ := body["access_token"].(string)
	if token == "" || body["token_type"] != "bearer" {
		t.Fatalf("login body = %v", body)
	}

	// Chat.
	w, body = doJSON(t, srv, "POST", "/api/v1/chat", `{"message":"hello"}`, token)
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", w.Code, w.Body.String())
	}
	if body["reply"] != "你好呀！" {
		t.Errorf("reply = %v", body["reply"])
	}
	sessionID := int64(body["session_id"].(float64))

	// Session list carries the derived title.
	req := httptest.NewRequest("GET", "/api/v1/sessions", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status = %d", rec.Code)
	}
	var sessions []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &sessions); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0]["title"] != "hello" {
		t.Errorf("sessions = %v", sessions)
	}
	if sessions[0]["message_count"] != float64(2) {
		t.Errorf("message_count = %v", sessions[0]["message_count"])
	}

	// Delete the session, then it is gone.
	w, _ = doJSON(t, srv, "DELETE", fmt.Sprintf("/api/v1/session/%d", sessionID), "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d: %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/session/%d/messages", sessionID), "", token)
	if w.Code != http.StatusNotFound {
		t.Errorf("messages after delete status = %d", w.Code)
	}

	// Logout revokes the token; /auth/me turns 401.
	w, _ = doJSON(t, srv, "POST", "/api/v1/auth/logout", "", token)
	if w.Code != http.StatusOK {
		t.Fatalf("logout status = %d: %s", w.Code, w.Body.String())
	}
	w, _ = doJSON(t, srv, "GET", "/api/v1/auth/me", "", token)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("me after logout status = %d", w.Code)
	}
}

func TestRegisterConflictAndValidation(t *testing.T) {
	srv := testServer(t, nil)

	w, _ := doJSON(t, srv, "POST", "/api/v1/auth/register",
		`{"username":"alice","password":"password123"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("register status = %d", w.Code)
	}

	w, _ = doJSON(t, srv, "POST", "/api/v1/auth/register",
		`{"username":"alice","password":"other456"}`, "")
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate register status = %d", w.Code)
	}

	w, _ = doJSON(t, srv, "POST", "/api/v1/auth/register",
		`{"username":"ab","password":"password123"}`, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("short username status = %d", w.Code)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	srv := testServer(t, nil)
	doJSON(t, srv, "POST", "/api/v1/auth/register",
		`{"username":"alice","password":"password123"}`, "")

	w, _ := doJSON(t, srv, "POST", "/api/v1/auth/login",
		`{"username":"alice","password":"wrong"}`, "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d", w.Code)
	}
}

func TestChatFallbackWithoutBackend(t *testing.T) {
	srv := testServer(t, nil)

	w, body := doJSON(t, srv, "POST", "/api/v1/chat", `{"message":"你好"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("chat status = %d: %s", w.Code, w.Body.String())
	}
	if body["reply"] != fallbackReply {
		t.Errorf("reply = %v", body["reply"])
	}
}

func TestChatContinuesSession(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "好的", Provider: "mock"}}
	srv := testServer(t, mock)

	_, first := doJSON(t, srv, "POST", "/api/v1/chat", `{"message":"第一条"}`, "")
	_, second := doJSON(t, srv, "POST", "/api/v1/chat", `{"message":"第二条"}`, "")

	if first["session_id"] != second["session_id"] {
		t.Errorf("sessions differ: %v vs %v", first["session_id"], second["session_id"])
	}
}

func TestSessionOwnership(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "好的", Provider: "mock"}}
	srv := testServer(t, mock)

	// Mint the anonymous default user first, so registered users are not
	// the lowest-id row.
	doJSON(t, srv, "POST", "/api/v1/session/new", "", "")

	doJSON(t, srv, "POST", "/api/v1/auth/register", `{"username":"alice","password":"password123"}`, "")
	_, login := doJSON(t, srv, "POST", "/api/v1/auth/login", `{"username":"alice","password":"password123"}`, "")
	alice := login["access_token"].(string)

	doJSON(t, srv, "POST", "/api/v1/auth/register", `{"username":"bobby","password":"password123"}`, "")
	_, login = doJSON(t, srv, "POST", "/api/v1/auth/login", `{"username":"bobby","password":"password123"}`, "")
	bob := login["access_token"].(string)

	_, chat := doJSON(t, srv, "POST", "/api/v1/chat", `{"message":"私密内容"}`, alice)
	sessionID := int64(chat["session_id"].(float64))

	w, _ := doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/session/%d/messages", sessionID), "", bob)
	if w.Code != http.StatusForbidden {
		t.Errorf("foreign access status = %d", w.Code)
	}

	// Anonymous callers cannot reach an identified user's session either.
	w, _ = doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/session/%d/messages", sessionID), "", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("anonymous access status = %d", w.Code)
	}
}

func TestNewSessionAndExport(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "好的", Provider: "mock"}}
	srv := testServer(t, mock)

	w, body := doJSON(t, srv, "POST", "/api/v1/session/new", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("new session status = %d", w.Code)
	}
	sessionID := int64(body["session_id"].(float64))

	doJSON(t, srv, "POST", "/api/v1/chat",
		fmt.Sprintf(`{"session_id":%d,"message":"导出我"}`, sessionID), "")

	w, body = doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/session/%d/export", sessionID), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("export status = %d", w.Code)
	}
	msgs, ok := body["messages"].([]any)
	if !ok || len(msgs) != 2 {
		t.Errorf("export messages = %v", body["messages"])
	}
}

func TestScheduleRoutes(t *testing.T) {
	srv := testServer(t, nil)

	w, body := doJSON(t, srv, "POST", "/api/v1/schedule", `{"cron_or_time":"08:00"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d: %s", w.Code, w.Body.String())
	}
	if body["enabled"] != true {
		t.Errorf("enabled should default true: %v", body)
	}
	scheduleID := int64(body["schedule_id"].(float64))

	w, body = doJSON(t, srv, "PUT", fmt.Sprintf("/api/v1/schedule/%d", scheduleID),
		`{"enabled":false,"cron_or_time":"21:00"}`, "")
	if w.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", w.Code, w.Body.String())
	}
	if body["enabled"] != false || body["cron_or_time"] != "21:00" {
		t.Errorf("update body = %v", body)
	}

	w, _ = doJSON(t, srv, "DELETE", fmt.Sprintf("/api/v1/schedule/%d", scheduleID), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete status = %d", w.Code)
	}

	w, _ = doJSON(t, srv, "PUT", fmt.Sprintf("/api/v1/schedule/%d", scheduleID), `{}`, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("update after delete status = %d", w.Code)
	}
}

func TestTriggerScheduleRoute(t *testing.T) {
	mock := &llm.MockClient{Response: &llm.Response{Content: "记得喝水。", Provider: "mock"}}
	srv := testServer(t, mock)

	_, body := doJSON(t, srv, "POST", "/api/v1/schedule", `{"cron_or_time":"08:00"}`, "")
	scheduleID := int64(body["schedule_id"].(float64))

	w, body := doJSON(t, srv, "POST", fmt.Sprintf("/api/v1/schedule/%d/trigger", scheduleID), "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("trigger status = %d: %s", w.Code, w.Body.String())
	}
	if body["message"] != "调度任务已触发" {
		t.Errorf("trigger body = %v", body)
	}

	// The manual firing ran the full pipeline: the firing is recorded
	// and the care message sits in the active session.
	w, items := doJSONList(t, srv, "GET", "/api/v1/schedules", "")
	if w.Code != http.StatusOK || len(items) != 1 {
		t.Fatalf("list after trigger: %d, %v", w.Code, items)
	}
	if _, ok := items[0]["last_triggered_at"]; !ok {
		t.Errorf("trigger not recorded: %v", items[0])
	}

	w, sess := doJSON(t, srv, "GET", "/api/v1/session", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("active session status = %d", w.Code)
	}
	sessionID := int64(sess["session_id"].(float64))
	_, export := doJSON(t, srv, "GET", fmt.Sprintf("/api/v1/session/%d/export", sessionID), "", "")
	msgs, _ := export["messages"].([]any)
	if len(msgs) == 0 {
		t.Error("care message not appended to active session")
	}

	// Unknown schedule.
	w, _ = doJSON(t, srv, "POST", "/api/v1/schedule/9999/trigger", "", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown schedule trigger status = %d", w.Code)
	}
}

func TestActiveSessionRoute(t *testing.T) {
	srv := testServer(t, nil)

	w, body := doJSON(t, srv, "GET", "/api/v1/session", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("active session status = %d: %s", w.Code, w.Body.String())
	}
	first := int64(body["session_id"].(float64))
	if body["title"] != ledger.DefaultTitle {
		t.Errorf("fresh session title = %v", body["title"])
	}

	// Inside the activity window the same session comes back.
	_, body = doJSON(t, srv, "GET", "/api/v1/session", "", "")
	if int64(body["session_id"].(float64)) != first {
		t.Errorf("active session changed: %v", body)
	}
}

func TestScheduleOwnership(t *testing.T) {
	srv := testServer(t, nil)

	// The default user must exist before alice so she does not become it.
	doJSON(t, srv, "POST", "/api/v1/session/new", "", "")

	doJSON(t, srv, "POST", "/api/v1/auth/register", `{"username":"alice","password":"password123"}`, "")
	_, login := doJSON(t, srv, "POST", "/api/v1/auth/login", `{"username":"alice","password":"password123"}`, "")
	alice := login["access_token"].(string)

	_, body := doJSON(t, srv, "POST", "/api/v1/schedule", `{"cron_or_time":"08:00"}`, alice)
	scheduleID := int64(body["schedule_id"].(float64))

	// Anonymous callers only reach the default user's schedules.
	w, _ := doJSON(t, srv, "DELETE", fmt.Sprintf("/api/v1/schedule/%d", scheduleID), "", "")
	if w.Code != http.StatusForbidden {
		t.Errorf("anonymous delete status = %d", w.Code)
	}
}
