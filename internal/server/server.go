package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wintermoss/caremate/internal/auth"
	"github.com/wintermoss/caremate/internal/config"
	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/llm"
	"github.com/wintermoss/caremate/internal/memory"
	"github.com/wintermoss/caremate/internal/scheduler"
	"github.com/wintermoss/caremate/internal/store"
)

// Server is the caremate HTTP API server.
type Server struct {
	db        *store.DB
	auth      *auth.Service
	ledger    *ledger.Service
	memory    *memory.Service
	llm       llm.Client
	scheduler *scheduler.Service
	cfg       config.Config
	router    chi.Router
	version   string
	started   time.Time
}

// New creates a new Server wired to the service layer.
func New(db *store.DB, authSvc *auth.Service, led *ledger.Service, mem *memory.Service, client llm.Client, sched *scheduler.Service, cfg config.Config, version string) *Server {
	s := &Server{
		db:        db,
		auth:      authSvc,
		ledger:    led,
		memory:    mem,
		llm:       client,
		scheduler: sched,
		cfg:       cfg,
		version:   version,
		started:   time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(s.withIdentity)

	r.Get("/api/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Get("/auth/me", s.handleMe)
		r.Post("/auth/logout", s.handleLogout)

		r.Post("/chat", s.handleChat)
		r.Get("/sessions", s.handleListSessions)
		r.Get("/session", s.handleActiveSession)
		r.Post("/session/new", s.handleNewSession)
		r.Get("/session/{sessionID}/messages", s.handleSessionMessages)
		r.Get("/session/{sessionID}/export", s.handleExportSession)
		r.Delete("/session/{sessionID}", s.handleDeleteSession)

		r.Post("/schedule", s.handleCreateSchedule)
		r.Get("/schedules", s.handleListSchedules)
		r.Put("/schedule/{scheduleID}", s.handleUpdateSchedule)
		r.Post("/schedule/{scheduleID}/trigger", s.handleTriggerSchedule)
		r.Delete("/schedule/{scheduleID}", s.handleDeleteSchedule)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service-layer sentinels onto HTTP statuses.
// Anything unmatched is a storage failure and surfaces as a 500.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUsernameTaken):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, ledger.ErrNotOwner):
		writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, scheduler.ErrScheduleNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).UTC().Format(time.RFC3339)
}
