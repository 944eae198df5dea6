package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/wintermoss/caremate/internal/auth"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username    string `json:"username"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := s.auth.Register(req.Username, req.Password, req.DisplayName)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"username":     strings.TrimSpace(req.Username),
		"display_name": user.DisplayName,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	user, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if user == nil {
		writeError(w, http.StatusUnauthorized, "用户名或密码错误")
		return
	}

	token, err := s.auth.IssueToken(user)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token": token,
		"token_type":   "bearer",
		"user_id":      user.ID,
		"username":     strings.TrimSpace(req.Username),
		"display_name": user.DisplayName,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())
	if ident.Anonymous {
		writeError(w, http.StatusUnauthorized, "未登录")
		return
	}

	user, err := s.db.GetUser(ident.UserID)
	if err != nil || user == nil {
		writeError(w, http.StatusUnauthorized, "未登录")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":      user.ID,
		"display_name": user.DisplayName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	ident := IdentityFrom(r.Context())
	if ident.Anonymous {
		writeError(w, http.StatusUnauthorized, "未登录")
		return
	}

	token := auth.ExtractBearer(r.Header.Get("Authorization"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "缺少 Authorization: Bearer <token>")
		return
	}

	if _, err := s.auth.RevokeToken(token); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "已退出登录"})
}
