package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reminderd/internal/delivery"
	"reminderd/internal/domain"
	logx "reminderd/pkg/logx"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	// Pragmas go in the DSN so every pooled connection gets them.
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	dsn := "file:" + path + "?" + q.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Info("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

const reminderColumns = `id, owner_id, family_id, title, anchor_time, timezone, recurrence_kind, recurrence_config,
	advance_minutes, channels, priority, is_active, is_completed, created_at, updated_at`

func scanReminder(row rowScanner) (domain.Reminder, error) {
	var (
		r                          domain.Reminder
		family, tz, cfgJSON, chans sql.NullString
		anchor, kind               string
		active, completed          int
		created, updated           int64
	)
	err := row.Scan(&r.ID, &r.OwnerID, &family, &r.Title, &anchor, &tz, &kind, &cfgJSON,
		&r.AdvanceMinutes, &chans, &r.Priority, &active, &completed, &created, &updated)
	if err != nil {
		return domain.Reminder{}, err
	}
	r.FamilyID = family.String
	r.Timezone = tz.String
	r.RecurrenceKind = domain.RecurrenceKind(kind)
	r.IsActive = active != 0
	r.IsCompleted = completed != 0
	r.CreatedAt = time.UnixMilli(created).UTC()
	r.UpdatedAt = time.UnixMilli(updated).UTC()
	if r.AnchorTime, err = time.Parse(time.RFC3339Nano, anchor); err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s anchor_time: %w", r.ID, err)
	}
	if err := unmarshalNull(cfgJSON, &r.RecurrenceConfig); err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s recurrence_config: %w", r.ID, err)
	}
	if err := unmarshalNull(chans, &r.Channels); err != nil {
		return domain.Reminder{}, fmt.Errorf("reminder %s channels: %w", r.ID, err)
	}
	return r, nil
}

func (s *sqliteStore) LoadReminder(ctx context.Context, id string) (domain.Reminder, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = ?`, id)
	r, err := scanReminder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Reminder{}, fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *sqliteStore) SaveReminder(ctx context.Context, r domain.Reminder) error {
	if r.ID == "" {
		return errors.New("save reminder: empty id")
	}
	cfgJSON, err := marshalNull(r.RecurrenceConfig)
	if err != nil {
		return fmt.Errorf("reminder %s recurrence_config: %w", r.ID, err)
	}
	chans, err := marshalNull(r.Channels)
	if err != nil {
		return fmt.Errorf("reminder %s channels: %w", r.ID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO reminders(`+reminderColumns+`)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
			owner_id=excluded.owner_id, family_id=excluded.family_id, title=excluded.title,
			anchor_time=excluded.anchor_time, timezone=excluded.timezone,
			recurrence_kind=excluded.recurrence_kind, recurrence_config=excluded.recurrence_config,
			advance_minutes=excluded.advance_minutes, channels=excluded.channels, priority=excluded.priority,
			is_active=excluded.is_active, is_completed=excluded.is_completed, updated_at=excluded.updated_at`,
		r.ID, r.OwnerID, nullStr(r.FamilyID), r.Title, r.AnchorTime.Format(time.RFC3339Nano), nullStr(r.Timezone),
		string(r.RecurrenceKind), cfgJSON, r.AdvanceMinutes, chans, r.Priority,
		boolInt(r.IsActive), boolInt(r.IsCompleted), r.CreatedAt.UnixMilli(), r.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM reminders WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("reminder %s: %w", id, ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) ListReminders(ctx context.Context) ([]domain.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+reminderColumns+` FROM reminders`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// anchor_time is text with offsets, so order in Go.
	sortReminders(out)
	return out, nil
}

func (s *sqliteStore) LoadPolicy(ctx context.Context, reminderID string) (*domain.NotificationPolicy, error) {
	var (
		p                     domain.NotificationPolicy
		enabled, avoid        int
		advanceAt, fallbackAt string
		sameDay, tmpl         sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT reminder_id, advance_enabled, advance_lead_days, advance_interval_days, advance_time_of_day,
			same_day_times, avoid_quiet_hours, quiet_hours_fallback_time, message_template
		 FROM notification_policies WHERE reminder_id = ?`, reminderID,
	).Scan(&p.ReminderID, &enabled, &p.AdvanceLeadDays, &p.AdvanceIntervalDays, &advanceAt,
		&sameDay, &avoid, &fallbackAt, &tmpl)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.AdvanceEnabled = enabled != 0
	p.AvoidQuietHours = avoid != 0
	p.MessageTemplate = tmpl.String
	// Stored clock values were validated on write. Keep defaults if one is off.
	if p.AdvanceTimeOfDay, err = domain.ParseClock(advanceAt); err != nil {
		p.AdvanceTimeOfDay = domain.DefaultAdvanceTime
	}
	if p.QuietHoursFallback, err = domain.ParseClock(fallbackAt); err != nil {
		p.QuietHoursFallback = domain.DefaultQuietFallback
	}
	if err := unmarshalNull(sameDay, &p.SameDayTimes); err != nil {
		return nil, fmt.Errorf("policy %s same_day_times: %w", reminderID, err)
	}
	return &p, nil
}

func (s *sqliteStore) SavePolicy(ctx context.Context, p domain.NotificationPolicy) error {
	sameDay, err := marshalNull(p.SameDayTimes)
	if err != nil {
		return fmt.Errorf("policy %s same_day_times: %w", p.ReminderID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO notification_policies(reminder_id, advance_enabled, advance_lead_days, advance_interval_days,
			advance_time_of_day, same_day_times, avoid_quiet_hours, quiet_hours_fallback_time, message_template)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(reminder_id) DO UPDATE SET
			advance_enabled=excluded.advance_enabled, advance_lead_days=excluded.advance_lead_days,
			advance_interval_days=excluded.advance_interval_days, advance_time_of_day=excluded.advance_time_of_day,
			same_day_times=excluded.same_day_times, avoid_quiet_hours=excluded.avoid_quiet_hours,
			quiet_hours_fallback_time=excluded.quiet_hours_fallback_time, message_template=excluded.message_template`,
		p.ReminderID, boolInt(p.AdvanceEnabled), p.AdvanceLeadDays, max(p.AdvanceIntervalDays, 1),
		p.AdvanceTimeOfDay.String(), sameDay, boolInt(p.AvoidQuietHours), p.QuietHoursFallback.String(),
		nullStr(p.MessageTemplate),
	)
	if isForeignKeyErr(err) {
		return fmt.Errorf("policy for reminder %s: %w", p.ReminderID, ErrNotFound)
	}
	return err
}

func (s *sqliteStore) DeletePolicy(ctx context.Context, reminderID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM notification_policies WHERE reminder_id = ?`, reminderID)
	return err
}

const taskColumns = `id, reminder_id, occurrence, scheduled_at, channels, priority, state, attempt_count,
	max_attempts, last_error, created_at, updated_at`

func scanTask(row rowScanner) (delivery.Task, error) {
	var (
		t                                       delivery.Task
		occurrence, scheduled, created, updated int64
		chans, lastErr                          sql.NullString
		state                                   string
	)
	err := row.Scan(&t.ID, &t.ReminderID, &occurrence, &scheduled, &chans, &t.Priority, &state,
		&t.AttemptCount, &t.MaxAttempts, &lastErr, &created, &updated)
	if err != nil {
		return delivery.Task{}, err
	}
	t.State = delivery.State(state)
	t.LastError = lastErr.String
	t.Occurrence = time.UnixMilli(occurrence).UTC()
	t.ScheduledTime = time.UnixMilli(scheduled).UTC()
	t.CreatedAt = time.UnixMilli(created).UTC()
	t.UpdatedAt = time.UnixMilli(updated).UTC()
	if err := unmarshalNull(chans, &t.Channels); err != nil {
		return delivery.Task{}, fmt.Errorf("task %s channels: %w", t.ID, err)
	}
	return t, nil
}

func (s *sqliteStore) CreateTasks(ctx context.Context, tasks ...delivery.Task) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO delivery_tasks(`+taskColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, t := range tasks {
		chans, err := marshalNull(t.Channels)
		if err != nil {
			return fmt.Errorf("task %s channels: %w", t.ID, err)
		}
		_, err = stmt.ExecContext(ctx,
			t.ID, t.ReminderID, t.Occurrence.UnixMilli(), t.ScheduledTime.UnixMilli(), chans, t.Priority,
			string(t.State), t.AttemptCount, t.MaxAttempts, nullStr(t.LastError),
			t.CreatedAt.UnixMilli(), t.UpdatedAt.UnixMilli(),
		)
		if isForeignKeyErr(err) {
			return fmt.Errorf("task %s reminder %s: %w", t.ID, t.ReminderID, ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("insert task %s: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) GetTask(ctx context.Context, id string) (delivery.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM delivery_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return delivery.Task{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, err
}

func (s *sqliteStore) ListDue(ctx context.Context, before time.Time, limit int) ([]delivery.Task, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks
		 WHERE state = ? AND scheduled_at <= ?
		 ORDER BY priority DESC, scheduled_at ASC, id ASC
		 LIMIT ?`,
		string(delivery.StatePending), before.UnixMilli(), limit,
	)
}

func (s *sqliteStore) ListByReminder(ctx context.Context, reminderID string) ([]delivery.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM delivery_tasks WHERE reminder_id = ? ORDER BY scheduled_at ASC, id ASC`,
		reminderID,
	)
}

func (s *sqliteStore) queryTasks(ctx context.Context, query string, args ...any) ([]delivery.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []delivery.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompareAndSwap(ctx context.Context, id string, expect delivery.Expect, next delivery.Task) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE delivery_tasks
		 SET state = ?, attempt_count = ?, scheduled_at = ?, last_error = ?, updated_at = ?
		 WHERE id = ? AND state = ? AND attempt_count = ?`,
		string(next.State), next.AttemptCount, next.ScheduledTime.UnixMilli(), nullStr(next.LastError),
		next.UpdatedAt.UnixMilli(),
		id, string(expect.State), expect.AttemptCount,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	// Distinguish a lost race from a missing row.
	var exists int
	err = s.db.QueryRowContext(ctx, `SELECT 1 FROM delivery_tasks WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return false, err
}

func marshalNull(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		if len(x) == 0 {
			return nil, nil
		}
	case []string:
		if len(x) == 0 {
			return nil, nil
		}
	case []domain.ClockTime:
		if len(x) == 0 {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalNull(s sql.NullString, dst any) error {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil
	}
	return json.Unmarshal([]byte(s.String), dst)
}

func isForeignKeyErr(err error) bool {
	return err != nil && strings.Contains(err.Error(), "FOREIGN KEY constraint failed")
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
