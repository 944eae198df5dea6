package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Schedule is one user-defined engagement trigger. CronOrTime holds either
// an HH:MM daily time or a 5-field cron expression; parsing happens in the
// scheduler, the store keeps it opaque.
type Schedule struct {
	ID              int64
	UserID          int64
	CronOrTime      string
	TemplateID      *int64
	Enabled         bool
	LastTriggeredAt *int64
	CreatedAt       int64
}

// Template is a named message pattern referenced by schedules.
type Template struct {
	ID          int64
	Name        string
	Content     string
	Description string
	CreatedAt   int64
}

func scanSchedule(row interface{ Scan(...any) error }) (*Schedule, error) {
	var s Schedule
	err := row.Scan(&s.ID, &s.UserID, &s.CronOrTime, &s.TemplateID, &s.Enabled, &s.LastTriggeredAt, &s.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan schedule: %w", err)
	}
	return &s, nil
}

// CreateSchedule inserts a new schedule row.
func (db *DB) CreateSchedule(userID int64, cronOrTime string, templateID *int64, enabled bool) (*Schedule, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO schedules (user_id, cron_or_time, template_id, enabled, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, userID, cronOrTime, templateID, enabled, now)
	if err != nil {
		return nil, fmt.Errorf("insert schedule: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Schedule{
		ID:         id,
		UserID:     userID,
		CronOrTime: cronOrTime,
		TemplateID: templateID,
		Enabled:    enabled,
		CreatedAt:  now,
	}, nil
}

// GetSchedule returns a schedule by id, or nil.
func (db *DB) GetSchedule(id int64) (*Schedule, error) {
	return scanSchedule(db.QueryRow(`
		SELECT id, user_id, cron_or_time, template_id, enabled, last_triggered_at, created_at
		FROM schedules WHERE id = ?
	`, id))
}

// ListSchedules returns schedules, optionally filtered by user.
// userID <= 0 lists all.
func (db *DB) ListSchedules(userID int64) ([]Schedule, error) {
	query := `
		SELECT id, user_id, cron_or_time, template_id, enabled, last_triggered_at, created_at
		FROM schedules ORDER BY id`
	var rows *sql.Rows
	var err error
	if userID > 0 {
		rows, err = db.Query(`
			SELECT id, user_id, cron_or_time, template_id, enabled, last_triggered_at, created_at
			FROM schedules WHERE user_id = ? ORDER BY id
		`, userID)
	} else {
		rows, err = db.Query(query)
	}
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// EnabledSchedules returns all enabled schedules.
func (db *DB) EnabledSchedules() ([]Schedule, error) {
	rows, err := db.Query(`
		SELECT id, user_id, cron_or_time, template_id, enabled, last_triggered_at, created_at
		FROM schedules WHERE enabled = 1 ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("enabled schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, *s)
	}
	return schedules, rows.Err()
}

// UpdateSchedule persists the mutable schedule fields.
func (db *DB) UpdateSchedule(s *Schedule) error {
	_, err := db.Exec(`
		UPDATE schedules SET cron_or_time = ?, template_id = ?, enabled = ?, last_triggered_at = ?
		WHERE id = ?
	`, s.CronOrTime, s.TemplateID, s.Enabled, s.LastTriggeredAt, s.ID)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	return nil
}

// MarkTriggered records a successful firing.
func (db *DB) MarkTriggered(scheduleID int64, at int64) error {
	_, err := db.Exec(`UPDATE schedules SET last_triggered_at = ? WHERE id = ?`, at, scheduleID)
	if err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	return nil
}

// DeleteSchedule removes a schedule row. Returns false if absent.
func (db *DB) DeleteSchedule(id int64) (bool, error) {
	result, err := db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete schedule: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// CreateTemplate inserts a message template.
func (db *DB) CreateTemplate(name, content, description string) (*Template, error) {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO templates (name, content, description, created_at)
		VALUES (?, ?, ?, ?)
	`, name, content, description, now)
	if err != nil {
		return nil, fmt.Errorf("insert template: %w", err)
	}

	id, _ := result.LastInsertId()
	return &Template{ID: id, Name: name, Content: content, Description: description, CreatedAt: now}, nil
}

// GetTemplate returns a template by id, or nil.
func (db *DB) GetTemplate(id int64) (*Template, error) {
	var t Template
	var desc sql.NullString
	err := db.QueryRow(`
		SELECT id, name, content, description, created_at
		FROM templates WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &t.Content, &desc, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	t.Description = desc.String
	return &t, nil
}
