package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/store"
)

const fallbackReply = "抱歉，我现在有些困惑。请稍后再试，或者换个方式表达。"

// ownedSession loads the session named in the URL and enforces the
// ownership contract for the request identity.
func (s *Server) ownedSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "sessionID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return nil, false
	}

	sess, err := s.ledger.GetSession(id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if sess == nil {
		writeError(w, http.StatusNotFound, ledger.ErrSessionNotFound.Error())
		return nil, false
	}

	ident := IdentityFrom(r.Context())
	if err := s.ledger.Authorize(sess, ident.UserID); err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	return sess, true
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionID int64  `json:"session_id"`
		Message   string `json:"message"`
		UserID    int64  `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message required")
		return
	}

	ident := IdentityFrom(r.Context())
	callerID := ident.UserID
	if ident.Anonymous {
		callerID = req.UserID
	}

	var sess *store.Session
	if req.SessionID > 0 {
		var err error
		sess, err = s.ledger.GetSession(req.SessionID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		if sess == nil {
			writeError(w, http.StatusNotFound, ledger.ErrSessionNotFound.Error())
			return
		}
		if err := s.ledger.Authorize(sess, ident.UserID); err != nil {
			writeServiceError(w, err)
			return
		}
	} else {
		var err error
		sess, err = s.ledger.GetOrCreateActiveSession(callerID)
		if err != nil {
			writeServiceError(w, err)
			return
		}
	}

	userMsg, err := s.ledger.AppendMessage(sess.ID, "user", req.Message)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	history, err := s.ledger.ConversationHistory(sess.ID, s.cfg.Memory.HistoryPerChat)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	user, err := s.ledger.GetOrCreateUser(sess.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	prefs := map[string]any{}
	for k, v := range user.Preferences {
		prefs[k] = v
	}

	// A fresh long-term digest matters most on a brand new conversation,
	// where there is no in-session context to lean on. Memory failures
	// never break the chat itself.
	if s.memory != nil {
		force := req.SessionID == 0
		if digest, err := s.memory.EnsureFresh(r.Context(), user.ID, force); err == nil && digest != "" {
			prefs["long_term_memory"] = digest
		}
	}

	reply := fallbackReply
	if s.llm != nil {
		resp, err := s.llm.Complete(r.Context(), llm.ChatPrompt(req.Message, history, prefs))
		if err != nil {
			log.Printf("生成回复失败: %v", err)
		} else if resp.Content != "" {
			reply = resp.Content
		}
	}

	assistantMsg, err := s.ledger.AppendMessage(sess.ID, "assistant", reply)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"reply":      reply,
		"session_id": sess.ID,
		"message_id": assistantMsg.ID,
		"metadata": map[string]any{
			"user_message_id": userMsg.ID,
		},
	})
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	limit := 50
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	ident := IdentityFrom(r.Context())
	sessions, err := s.ledger.ListSessions(ident.UserID, limit, offset)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(sessions))
	for _, sess := range sessions {
		title := sess.Title()
		if title == "" {
			title = ledger.DefaultTitle
		}
		count, _ := s.ledger.CountMessages(sess.ID)
		items = append(items, map[string]any{
			"session_id":     sess.ID,
			"title":          title,
			"started_at":     formatMillis(sess.StartedAt),
			"last_active_at": formatMillis(sess.LastActiveAt),
			"message_count":  count,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// handleActiveSession resolves the caller's current session, creating
// one when none falls inside the activity window.
func (s *Server) handleActiveSession(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())
	sess, err := s.ledger.GetOrCreateActiveSession(ident.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	title := sess.Title()
	if title == "" {
		title = ledger.DefaultTitle
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"title":          title,
		"started_at":     formatMillis(sess.StartedAt),
		"last_active_at": formatMillis(sess.LastActiveAt),
	})
}

func (s *Server) handleNewSession(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())
	sess, err := s.ledger.CreateSession(ident.UserID, map[string]any{"title": ledger.DefaultTitle})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":     sess.ID,
		"started_at":     formatMillis(sess.StartedAt),
		"last_active_at": formatMillis(sess.LastActiveAt),
	})
}

func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	messages, err := s.ledger.GetMessages(sess.ID, 0, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"id":         m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": formatMillis(m.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"messages":   out,
	})
}

func (s *Server) handleExportSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	messages, err := s.ledger.GetMessages(sess.ID, 0, 0)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	out := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]any{
			"id":         m.ID,
			"role":       m.Role,
			"content":    m.Content,
			"created_at": formatMillis(m.CreatedAt),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session": map[string]any{
			"id":             sess.ID,
			"user_id":        sess.UserID,
			"started_at":     formatMillis(sess.StartedAt),
			"last_active_at": formatMillis(sess.LastActiveAt),
			"meta":           sess.Meta,
		},
		"messages": out,
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.ownedSession(w, r)
	if !ok {
		return
	}

	if _, err := s.ledger.DeleteSession(sess.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":    "会话已删除",
		"session_id": sess.ID,
	})
}
