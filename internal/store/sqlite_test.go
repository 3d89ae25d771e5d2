package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tickq/internal/domain"
)

func newTestRepo(t *testing.T) Repository {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
	return NewSQLiteRepo(db)
}

func TestEnsureSchemaIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(dbPath)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}

	repo := NewSQLiteRepo(db)
	ctx := context.Background()
	now := time.Now().Unix()
	sched := domain.Schedule{
		ID: "ls_keep", RunAtEpoch: now + 60, QueueName: "q", MessageBody: "b",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	// Second init must not destroy existing rows.
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema (second call): %v", err)
	}
	if _, err := repo.GetSchedule(ctx, "ls_keep"); err != nil {
		t.Fatalf("schedule lost after re-init: %v", err)
	}
}

func TestOpenInMemory(t *testing.T) {
	db, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:): %v", err)
	}
	defer db.Close()
	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema: %v", err)
	}
}

func TestFireScheduleClaimsOnce(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Unix()

	sched := domain.Schedule{
		ID: "ls_once", RunAtEpoch: now - 10, QueueName: "q", MessageBody: "b",
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	msg := domain.Message{ID: "lq_1", QueueName: "q", Body: "b", EnqueuedAt: now, VisibleAt: now}
	fired, err := repo.FireSchedule(ctx, sched, msg, now, true)
	if err != nil {
		t.Fatalf("FireSchedule: %v", err)
	}
	if !fired {
		t.Fatal("first fire should claim the schedule")
	}

	// A second dispatcher racing on the same snapshot must lose the claim
	// and enqueue nothing.
	msg2 := domain.Message{ID: "lq_2", QueueName: "q", Body: "b", EnqueuedAt: now, VisibleAt: now}
	fired, err = repo.FireSchedule(ctx, sched, msg2, now, true)
	if err != nil {
		t.Fatalf("FireSchedule (second): %v", err)
	}
	if fired {
		t.Fatal("second fire must not claim an already-fired schedule")
	}

	msgs, err := repo.LeaseMessages(ctx, "q", 10, 0, now)
	if err != nil {
		t.Fatalf("LeaseMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestFireScheduleRecurringReschedules(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Unix()

	interval := int64(300)
	sched := domain.Schedule{
		ID: "ls_rec", RunAtEpoch: now - 1, QueueName: "q", MessageBody: "b",
		Expression: "rate(5 minutes)", IntervalSeconds: &interval,
		CreatedAt: now, UpdatedAt: now,
	}
	if err := repo.InsertSchedule(ctx, sched); err != nil {
		t.Fatalf("InsertSchedule: %v", err)
	}

	msg := domain.Message{ID: "lq_1", QueueName: "q", Body: "b", EnqueuedAt: now, VisibleAt: now}
	fired, err := repo.FireSchedule(ctx, sched, msg, now, true)
	if err != nil || !fired {
		t.Fatalf("FireSchedule: fired=%v err=%v", fired, err)
	}

	got, err := repo.GetSchedule(ctx, "ls_rec")
	if err != nil {
		t.Fatalf("GetSchedule: %v", err)
	}
	if got.FiredAt != nil {
		t.Error("recurring schedule must not be marked fired")
	}
	if got.RunAtEpoch != now+interval {
		t.Errorf("run_at_epoch = %d, want %d", got.RunAtEpoch, now+interval)
	}
	if got.LastFiredAt == nil || *got.LastFiredAt != now {
		t.Errorf("last_fired_at = %v, want %d", got.LastFiredAt, now)
	}
}

func TestLeaseMessagesExclusive(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Unix()

	msgs := []domain.Message{
		{ID: "lq_a", QueueName: "q", Body: "a", EnqueuedAt: now - 2, VisibleAt: now - 2},
		{ID: "lq_b", QueueName: "q", Body: "b", EnqueuedAt: now - 1, VisibleAt: now - 1},
	}
	if err := repo.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	leased, err := repo.LeaseMessages(ctx, "q", 10, 60, now)
	if err != nil {
		t.Fatalf("LeaseMessages: %v", err)
	}
	if len(leased) != 2 {
		t.Fatalf("got %d messages, want 2", len(leased))
	}
	// FIFO by enqueued_at.
	if leased[0].ID != "lq_a" || leased[1].ID != "lq_b" {
		t.Errorf("wrong order: %s, %s", leased[0].ID, leased[1].ID)
	}
	if leased[0].ReceiveCount != 1 {
		t.Errorf("receive_count = %d, want 1", leased[0].ReceiveCount)
	}

	// Everything is in-flight now; a second receiver gets nothing.
	again, err := repo.LeaseMessages(ctx, "q", 10, 60, now)
	if err != nil {
		t.Fatalf("LeaseMessages (second): %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("leased %d in-flight messages, want 0", len(again))
	}

	// Lease expiry is lazy: advancing the clock past visible_at releases them.
	later := now + 61
	released, err := repo.LeaseMessages(ctx, "q", 10, 0, later)
	if err != nil {
		t.Fatalf("LeaseMessages (after expiry): %v", err)
	}
	if len(released) != 2 {
		t.Fatalf("got %d messages after lease expiry, want 2", len(released))
	}
	if released[0].ReceiveCount != 2 {
		t.Errorf("receive_count = %d, want 2", released[0].ReceiveCount)
	}
}

func TestUpdateScheduleNotFound(t *testing.T) {
	repo := newTestRepo(t)
	name := "x"
	_, err := repo.UpdateSchedule(context.Background(), "ls_missing", ScheduleUpdate{Name: &name}, time.Now().Unix())
	if !errors.Is(err, domain.ErrNotFoundSchedule) {
		t.Fatalf("err = %v, want ErrNotFoundSchedule", err)
	}
}

func TestQueueAttributesAndListQueues(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	now := time.Now().Unix()

	msgs := []domain.Message{
		{ID: "lq_1", QueueName: "alpha", Body: "1", EnqueuedAt: now, VisibleAt: now},
		{ID: "lq_2", QueueName: "alpha", Body: "2", EnqueuedAt: now, VisibleAt: now + 100},
		{ID: "lq_3", QueueName: "beta", Body: "3", EnqueuedAt: now, VisibleAt: now},
	}
	if err := repo.InsertMessages(ctx, msgs); err != nil {
		t.Fatalf("InsertMessages: %v", err)
	}

	attrs, err := repo.QueueAttributes(ctx, "alpha", now)
	if err != nil {
		t.Fatalf("QueueAttributes: %v", err)
	}
	if attrs.Total != 2 || attrs.Visible != 1 || attrs.InFlight != 1 {
		t.Errorf("attrs = %+v, want total=2 visible=1 in_flight=1", attrs)
	}

	queues, err := repo.ListQueues(ctx)
	if err != nil {
		t.Fatalf("ListQueues: %v", err)
	}
	if len(queues) != 2 || queues[0] != "alpha" || queues[1] != "beta" {
		t.Errorf("queues = %v", queues)
	}
}
