package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"tickq/internal/domain"
)

// Open opens (or creates) the SQLite store at location. ":memory:" yields
// an in-memory store that lives as long as the returned handle.
func Open(location string) (*sql.DB, error) {
	var dsn string
	if location == ":memory:" {
		dsn = "file::memory:?mode=memory&cache=shared"
	} else {
		dsn = fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", location)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1) // SQLite single writer
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// EnsureSchema creates tables if they don't exist. Safe to call on every
// startup; never touches existing rows.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS schedules (
  schedule_id TEXT PRIMARY KEY,
  schedule_name TEXT,
  run_at_epoch INTEGER NOT NULL,
  queue_name TEXT NOT NULL,
  message_body TEXT NOT NULL,
  schedule_expression TEXT,
  interval_seconds INTEGER,
  last_fired_at INTEGER,
  fired_at INTEGER,
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_schedules_due ON schedules(fired_at, run_at_epoch);
CREATE TABLE IF NOT EXISTS queue_messages (
  message_id TEXT PRIMARY KEY,
  queue_name TEXT NOT NULL,
  body TEXT NOT NULL,
  enqueued_at INTEGER NOT NULL,
  visible_at INTEGER NOT NULL,
  receive_count INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_visible ON queue_messages(queue_name, visible_at);
`
	_, err := db.Exec(schema)
	return err
}

// ScheduleUpdate is a partial update; nil fields are left untouched.
// Setting RunAtEpoch, IntervalSeconds or Expression re-arms the schedule
// (clears fired_at).
type ScheduleUpdate struct {
	Name            *string
	QueueName       *string
	MessageBody     *string
	RunAtEpoch      *int64
	Expression      *string
	IntervalSeconds *int64
}

type Repository interface {
	// Schedules
	InsertSchedule(ctx context.Context, s domain.Schedule) error
	GetSchedule(ctx context.Context, id string) (domain.Schedule, error)
	ListSchedules(ctx context.Context, includeFired bool, limit int) ([]domain.Schedule, error)
	UpdateSchedule(ctx context.Context, id string, u ScheduleUpdate, now int64) (domain.Schedule, error)
	DeleteSchedule(ctx context.Context, id string) (bool, error)
	DueSchedules(ctx context.Context, now int64, limit int) ([]domain.Schedule, error)
	FireSchedule(ctx context.Context, s domain.Schedule, msg domain.Message, now int64, deleteAfter bool) (bool, error)

	// Queue messages
	InsertMessages(ctx context.Context, msgs []domain.Message) error
	LeaseMessages(ctx context.Context, queue string, max int, visibilityTimeout, now int64) ([]domain.Message, error)
	DeleteMessage(ctx context.Context, queue, id string) (bool, error)
	SetMessageVisibility(ctx context.Context, queue, id string, visibleAt int64) (bool, error)
	PurgeQueue(ctx context.Context, queue string) (int, error)
	QueueAttributes(ctx context.Context, queue string, now int64) (domain.QueueAttributes, error)
	ListQueues(ctx context.Context) ([]string, error)
}

type sqliteRepo struct{ db *sql.DB }

func NewSQLiteRepo(db *sql.DB) Repository { return &sqliteRepo{db: db} }

const scheduleCols = `schedule_id, schedule_name, run_at_epoch, queue_name, message_body,
schedule_expression, interval_seconds, last_fired_at, fired_at, created_at, updated_at`

func (r *sqliteRepo) InsertSchedule(ctx context.Context, s domain.Schedule) error {
	_, err := r.db.ExecContext(ctx, `
INSERT INTO schedules (`+scheduleCols+`)
VALUES (?,?,?,?,?,?,?,?,NULL,?,?)
`, s.ID, nullStr(s.Name), s.RunAtEpoch, s.QueueName, s.MessageBody,
		nullStr(s.Expression), s.IntervalSeconds, s.LastFiredAt, s.CreatedAt, s.UpdatedAt)
	return err
}

func (r *sqliteRepo) GetSchedule(ctx context.Context, id string) (domain.Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT `+scheduleCols+` FROM schedules WHERE schedule_id=?`, id)
	s, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Schedule{}, domain.ErrNotFoundSchedule
	}
	return s, err
}

func (r *sqliteRepo) ListSchedules(ctx context.Context, includeFired bool, limit int) ([]domain.Schedule, error) {
	q := `SELECT ` + scheduleCols + ` FROM schedules`
	if !includeFired {
		q += ` WHERE fired_at IS NULL`
	}
	q += ` ORDER BY run_at_epoch ASC LIMIT ?`

	rows, err := r.db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *sqliteRepo) UpdateSchedule(ctx context.Context, id string, u ScheduleUpdate, now int64) (domain.Schedule, error) {
	var sets []string
	var vals []any
	set := func(col string, v any) {
		sets = append(sets, col+"=?")
		vals = append(vals, v)
	}

	if u.Name != nil {
		set("schedule_name", *u.Name)
	}
	if u.QueueName != nil {
		set("queue_name", *u.QueueName)
	}
	if u.MessageBody != nil {
		set("message_body", *u.MessageBody)
	}
	if u.RunAtEpoch != nil {
		set("run_at_epoch", *u.RunAtEpoch)
		set("fired_at", nil)
	}
	if u.Expression != nil {
		set("schedule_expression", *u.Expression)
		set("interval_seconds", *u.IntervalSeconds)
		set("fired_at", nil)
	}
	if len(sets) == 0 {
		return domain.Schedule{}, domain.NewValidationError("no fields to update")
	}
	set("updated_at", now)
	vals = append(vals, id)

	res, err := r.db.ExecContext(ctx,
		"UPDATE schedules SET "+strings.Join(sets, ", ")+" WHERE schedule_id=?", vals...)
	if err != nil {
		return domain.Schedule{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Schedule{}, err
	} else if n == 0 {
		return domain.Schedule{}, domain.ErrNotFoundSchedule
	}
	return r.GetSchedule(ctx, id)
}

func (r *sqliteRepo) DeleteSchedule(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM schedules WHERE schedule_id=?", id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sqliteRepo) DueSchedules(ctx context.Context, now int64, limit int) ([]domain.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT `+scheduleCols+` FROM schedules
WHERE fired_at IS NULL AND run_at_epoch <= ?
ORDER BY run_at_epoch ASC
LIMIT ?`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

// FireSchedule claims one due schedule and enqueues its message in a single
// transaction. The claim re-checks the due predicate, so a schedule already
// fired by a concurrent dispatcher yields (false, nil) and no message.
func (r *sqliteRepo) FireSchedule(ctx context.Context, s domain.Schedule, msg domain.Message, now int64, deleteAfter bool) (bool, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	var res sql.Result
	switch {
	case s.Recurring():
		res, err = tx.ExecContext(ctx, `
UPDATE schedules SET run_at_epoch=?, last_fired_at=?, updated_at=?
WHERE schedule_id=? AND fired_at IS NULL AND run_at_epoch <= ?`,
			now+*s.IntervalSeconds, now, now, s.ID, now)
	case deleteAfter:
		res, err = tx.ExecContext(ctx, `
DELETE FROM schedules
WHERE schedule_id=? AND fired_at IS NULL AND run_at_epoch <= ?`, s.ID, now)
	default:
		res, err = tx.ExecContext(ctx, `
UPDATE schedules SET fired_at=?, last_fired_at=?, updated_at=?
WHERE schedule_id=? AND fired_at IS NULL AND run_at_epoch <= ?`,
			now, now, now, s.ID, now)
	}
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil // claimed by a concurrent run_due
	}

	_, err = tx.ExecContext(ctx, `
INSERT INTO queue_messages (message_id, queue_name, body, enqueued_at, visible_at, receive_count)
VALUES (?,?,?,?,?,0)`, msg.ID, msg.QueueName, msg.Body, msg.EnqueuedAt, msg.VisibleAt)
	if err != nil {
		return false, err
	}
	return true, tx.Commit()
}

func (r *sqliteRepo) InsertMessages(ctx context.Context, msgs []domain.Message) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		_, err := tx.ExecContext(ctx, `
INSERT INTO queue_messages (message_id, queue_name, body, enqueued_at, visible_at, receive_count)
VALUES (?,?,?,?,?,0)`, m.ID, m.QueueName, m.Body, m.EnqueuedAt, m.VisibleAt)
		if err != nil {
			return err
		}
	}
	return tx.Commit()
}

// LeaseMessages atomically selects up to max available messages and marks
// them in-flight for visibilityTimeout seconds. Select and mark run in one
// serializable transaction so concurrent receivers never share a message.
func (r *sqliteRepo) LeaseMessages(ctx context.Context, queue string, max int, visibilityTimeout, now int64) ([]domain.Message, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
SELECT message_id, queue_name, body, enqueued_at, visible_at, receive_count
FROM queue_messages
WHERE queue_name=? AND visible_at <= ?
ORDER BY enqueued_at ASC
LIMIT ?`, queue, now, max)
	if err != nil {
		return nil, err
	}

	var msgs []domain.Message
	for rows.Next() {
		var m domain.Message
		if err := rows.Scan(&m.ID, &m.QueueName, &m.Body, &m.EnqueuedAt, &m.VisibleAt, &m.ReceiveCount); err != nil {
			rows.Close()
			return nil, err
		}
		msgs = append(msgs, m)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	visibleAt := now + visibilityTimeout
	for i := range msgs {
		_, err := tx.ExecContext(ctx, `
UPDATE queue_messages SET visible_at=?, receive_count=receive_count+1
WHERE message_id=?`, visibleAt, msgs[i].ID)
		if err != nil {
			return nil, err
		}
		msgs[i].VisibleAt = visibleAt
		msgs[i].ReceiveCount++
	}
	return msgs, tx.Commit()
}

func (r *sqliteRepo) DeleteMessage(ctx context.Context, queue, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM queue_messages WHERE message_id=? AND queue_name=?", id, queue)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sqliteRepo) SetMessageVisibility(ctx context.Context, queue, id string, visibleAt int64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		"UPDATE queue_messages SET visible_at=? WHERE message_id=? AND queue_name=?", visibleAt, id, queue)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (r *sqliteRepo) PurgeQueue(ctx context.Context, queue string) (int, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM queue_messages WHERE queue_name=?", queue)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *sqliteRepo) QueueAttributes(ctx context.Context, queue string, now int64) (domain.QueueAttributes, error) {
	attrs := domain.QueueAttributes{QueueName: queue}
	err := r.db.QueryRowContext(ctx, `
SELECT
  COUNT(*),
  COALESCE(SUM(CASE WHEN visible_at <= ? THEN 1 ELSE 0 END), 0),
  COALESCE(SUM(CASE WHEN visible_at > ? THEN 1 ELSE 0 END), 0)
FROM queue_messages WHERE queue_name=?`, now, now, queue).
		Scan(&attrs.Total, &attrs.Visible, &attrs.InFlight)
	return attrs, err
}

func (r *sqliteRepo) ListQueues(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT DISTINCT queue_name FROM queue_messages ORDER BY queue_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var queues []string
	for rows.Next() {
		var q string
		if err := rows.Scan(&q); err != nil {
			return nil, err
		}
		queues = append(queues, q)
	}
	return queues, rows.Err()
}

type rowScanner interface{ Scan(dest ...any) error }

func scanSchedule(row rowScanner) (domain.Schedule, error) {
	var s domain.Schedule
	var name, expr sql.NullString
	var interval, lastFired, fired sql.NullInt64
	err := row.Scan(&s.ID, &name, &s.RunAtEpoch, &s.QueueName, &s.MessageBody,
		&expr, &interval, &lastFired, &fired, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.Name = name.String
	s.Expression = expr.String
	if interval.Valid {
		v := interval.Int64
		s.IntervalSeconds = &v
	}
	if lastFired.Valid {
		v := lastFired.Int64
		s.LastFiredAt = &v
	}
	if fired.Valid {
		v := fired.Int64
		s.FiredAt = &v
	}
	return s, nil
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}
