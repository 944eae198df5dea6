package server

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/wintermoss/caremate/internal/scheduler"
	"github.com/wintermoss/caremate/internal/store"
)

// requireScheduler rejects schedule requests when the scheduler is
// disabled by configuration.
func (s *Server) requireScheduler(w http.ResponseWriter) bool {
	if s.scheduler == nil {
		writeError(w, http.StatusServiceUnavailable, "调度功能未启用")
		return false
	}
	return true
}

// ownedSchedule loads the schedule named in the URL and enforces
// ownership the same way session access does: identified callers must
// own the row, anonymous callers may only touch the default user's.
func (s *Server) ownedSchedule(w http.ResponseWriter, r *http.Request) (*store.Schedule, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "scheduleID"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid schedule id")
		return nil, false
	}

	sched, err := s.scheduler.Get(id)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if sched == nil {
		writeError(w, http.StatusNotFound, scheduler.ErrScheduleNotFound.Error())
		return nil, false
	}

	ident := IdentityFrom(r.Context())
	if ident.UserID > 0 {
		if sched.UserID != ident.UserID {
			writeError(w, http.StatusForbidden, "无权访问该调度任务")
			return nil, false
		}
		return sched, true
	}

	def, err := s.ledger.GetOrCreateUser(0)
	if err != nil {
		writeServiceError(w, err)
		return nil, false
	}
	if sched.UserID != def.ID {
		writeError(w, http.StatusForbidden, "无权访问该调度任务")
		return nil, false
	}
	return sched, true
}

func scheduleJSON(sched *store.Schedule) map[string]any {
	out := map[string]any{
		"schedule_id":  sched.ID,
		"user_id":      sched.UserID,
		"cron_or_time": sched.CronOrTime,
		"enabled":      sched.Enabled,
		"created_at":   formatMillis(sched.CreatedAt),
	}
	if sched.TemplateID != nil {
		out["template_id"] = *sched.TemplateID
	}
	if sched.LastTriggeredAt != nil {
		out["last_triggered_at"] = formatMillis(*sched.LastTriggeredAt)
	}
	return out
}

func (s *Server) handleCreateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	var req struct {
		CronOrTime string `json:"cron_or_time"`
		TemplateID *int64 `json:"template_id"`
		Enabled    *bool  `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.CronOrTime == "" {
		writeError(w, http.StatusBadRequest, "cron_or_time required")
		return
	}

	ident := IdentityFrom(r.Context())
	user, err := s.ledger.GetOrCreateUser(ident.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	sched, err := s.scheduler.Create(user.ID, req.CronOrTime, req.TemplateID, enabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleJSON(sched))
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	ident := IdentityFrom(r.Context())
	user, err := s.ledger.GetOrCreateUser(ident.UserID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	schedules, err := s.scheduler.List(user.ID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(schedules))
	for i := range schedules {
		items = append(items, scheduleJSON(&schedules[i]))
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleUpdateSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	sched, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}

	var req struct {
		CronOrTime *string `json:"cron_or_time"`
		TemplateID *int64  `json:"template_id"`
		Enabled    *bool   `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	updated, err := s.scheduler.Update(sched.ID, req.CronOrTime, req.TemplateID, req.Enabled)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scheduleJSON(updated))
}

// handleTriggerSchedule fires a schedule immediately, outside its cron
// cadence. Delivery runs the same pipeline as a timed firing.
func (s *Server) handleTriggerSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	sched, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}

	s.scheduler.Dispatch(sched.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "调度任务已触发",
		"schedule_id": sched.ID,
	})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	if !s.requireScheduler(w) {
		return
	}
	sched, ok := s.ownedSchedule(w, r)
	if !ok {
		return
	}

	if _, err := s.scheduler.Delete(sched.ID); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message":     "调度任务已删除",
		"schedule_id": sched.ID,
	})
}
