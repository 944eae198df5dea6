// Package scheduler is the scheduled engagement engine: user-defined
// triggers, a minute-resolution cron runner, and the dispatch pipeline
// that composes and delivers care messages.
package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/wintermoss/caremate/internal/digest"
	"github.com/wintermoss/caremate/internal/ledger"
	"github.com/wintermoss/caremate/internal/notify"
	"github.com/wintermoss/caremate/internal/store"
)

// ErrScheduleNotFound marks operations on an unknown schedule.
var ErrScheduleNotFound = errors.New("调度任务不存在")

const notifyTitle = "CareMate关怀提醒"

// Service owns schedule rows and keeps the runner's job registry in
// sync with them: exactly one job per enabled schedule, none for
// disabled ones.
type Service struct {
	db       *store.DB
	runner   *Runner
	ledger   *ledger.Service
	digest   *digest.Service
	notifier notify.Notifier
}

// NewService creates the engagement engine.
func NewService(db *store.DB, runner *Runner, led *ledger.Service, dig *digest.Service, notifier notify.Notifier) *Service {
	return &Service{db: db, runner: runner, ledger: led, digest: dig, notifier: notifier}
}

// Start launches the runner and registers every enabled schedule.
func (s *Service) Start() error {
	s.runner.Start()

	schedules, err := s.db.EnabledSchedules()
	if err != nil {
		return err
	}
	for i := range schedules {
		s.register(&schedules[i])
	}
	log.Printf("调度器初始化完成: %d 个任务", s.runner.Len())
	return nil
}

// Stop halts the timer source. In-flight dispatches are not awaited.
func (s *Service) Stop() {
	s.runner.Stop()
	log.Printf("调度器已关闭")
}

// register parses the trigger spec and installs a job. An unparseable
// spec leaves the schedule persisted but inert.
func (s *Service) register(schedule *store.Schedule) {
	expr, err := ParseSpec(schedule.CronOrTime)
	if err != nil {
		log.Printf("加载调度任务失败 (ID: %d): %v", schedule.ID, err)
		return
	}

	id := schedule.ID
	s.runner.Upsert(id, expr, func() { s.Dispatch(id) })
	log.Printf("添加调度任务: schedule_%d", id)
}

// Create persists a schedule and, when enabled, registers its job.
func (s *Service) Create(userID int64, cronOrTime string, templateID *int64, enabled bool) (*store.Schedule, error) {
	user, err := s.ledger.GetOrCreateUser(userID)
	if err != nil {
		return nil, err
	}

	schedule, err := s.db.CreateSchedule(user.ID, cronOrTime, templateID, enabled)
	if err != nil {
		return nil, err
	}

	if enabled {
		s.register(schedule)
	}
	log.Printf("创建调度任务: %d", schedule.ID)
	return schedule, nil
}

// Update mutates a schedule. Nil fields are left unchanged. The job is
// always removed first and re-added only when the new state is enabled,
// so the registry never holds a stale spec.
func (s *Service) Update(id int64, cronOrTime *string, templateID *int64, enabled *bool) (*store.Schedule, error) {
	schedule, err := s.db.GetSchedule(id)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, ErrScheduleNotFound
	}

	s.runner.Remove(id)

	if cronOrTime != nil {
		schedule.CronOrTime = *cronOrTime
	}
	if templateID != nil {
		schedule.TemplateID = templateID
	}
	if enabled != nil {
		schedule.Enabled = *enabled
	}

	if err := s.db.UpdateSchedule(schedule); err != nil {
		return nil, err
	}

	if schedule.Enabled {
		s.register(schedule)
	}
	log.Printf("更新调度任务: %d", id)
	return schedule, nil
}

// Delete removes the job unconditionally, then the row.
func (s *Service) Delete(id int64) (bool, error) {
	s.runner.Remove(id)

	deleted, err := s.db.DeleteSchedule(id)
	if err != nil {
		return false, err
	}
	if deleted {
		log.Printf("删除调度任务: %d", id)
	}
	return deleted, nil
}

// Get returns a schedule by id, or nil.
func (s *Service) Get(id int64) (*store.Schedule, error) {
	return s.db.GetSchedule(id)
}

// List returns schedules, filtered by user when userID > 0.
func (s *Service) List(userID int64) ([]store.Schedule, error) {
	return s.db.ListSchedules(userID)
}

// Dispatch runs one firing of a schedule: compose a care message,
// deliver it, append it to the active session, and record the firing.
// Every failure after the enabled check is logged and swallowed, and
// last_triggered_at stays untouched so the firing reads as attempted,
// not completed.
func (s *Service) Dispatch(scheduleID int64) {
	run := uuid.NewString()[:8]
	ctx := context.Background()

	schedule, err := s.db.GetSchedule(scheduleID)
	if err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}
	if schedule == nil || !schedule.Enabled {
		return
	}

	timeOfDay := digest.TimeOfDay(time.Now().Hour())

	careMessage, err := s.digest.CareMessage(ctx, schedule.UserID, schedule.TemplateID, timeOfDay)
	if err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}

	user, err := s.db.GetUser(schedule.UserID)
	if err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}
	if user == nil {
		// Orphaned trigger; nothing to deliver to.
		return
	}

	s.notifier.Notify(ctx, notifyTitle, careMessage)

	session, err := s.ledger.GetOrCreateActiveSession(schedule.UserID)
	if err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}
	if _, err := s.ledger.AppendMessage(session.ID, "assistant", careMessage); err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}

	if err := s.db.MarkTriggered(scheduleID, time.Now().UnixMilli()); err != nil {
		log.Printf("[%s] 发送关怀消息失败: %v", run, err)
		return
	}

	log.Printf("[%s] 发送关怀消息: schedule_id=%d", run, scheduleID)
}
