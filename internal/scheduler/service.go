package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tickq/internal/domain"
	"tickq/internal/metrics"
	"tickq/internal/rate"
	"tickq/internal/store"
)

const (
	// DefaultQueueName receives messages from schedules that don't name
	// a queue.
	DefaultQueueName = "default"

	DefaultListLimit   = 100
	MaxListLimit       = 500
	DefaultRunDueLimit = 50
	MaxRunDueLimit     = 500
)

// Service owns schedule CRUD and the run-due dispatcher. It does not run
// a loop of its own; the embedding application invokes RunDue on whatever
// cadence it wants.
type Service struct {
	repo    store.Repository
	metrics metrics.Service
	now     func() int64
}

func NewService(repo store.Repository, metricsService metrics.Service) *Service {
	return &Service{
		repo:    repo,
		metrics: metricsService,
		now:     func() int64 { return time.Now().Unix() },
	}
}

// ScheduleAt creates a one-shot schedule firing at runAtEpoch.
func (s *Service) ScheduleAt(ctx context.Context, runAtEpoch int64, messageBody, queueName, scheduleName string) (domain.Schedule, error) {
	if runAtEpoch <= 0 {
		return domain.Schedule{}, domain.NewValidationError("run_at_epoch is required (epoch seconds)")
	}
	if messageBody == "" {
		return domain.Schedule{}, domain.NewValidationError("message_body is required")
	}
	return s.insert(ctx, runAtEpoch, messageBody, queueName, scheduleName, "", nil)
}

// ScheduleIn creates a one-shot schedule firing delaySeconds from now.
// The fire time is fixed at call time.
func (s *Service) ScheduleIn(ctx context.Context, delaySeconds int64, messageBody, queueName, scheduleName string) (domain.Schedule, error) {
	if delaySeconds < 0 {
		return domain.Schedule{}, domain.NewValidationError("delay_seconds must be non-negative")
	}
	if messageBody == "" {
		return domain.Schedule{}, domain.NewValidationError("message_body is required")
	}
	return s.insert(ctx, s.now()+delaySeconds, messageBody, queueName, scheduleName, "", nil)
}

// ScheduleRate creates a recurring schedule from a rate(<n> <unit>)
// expression. The first firing is one interval from now; creation never
// fires immediately.
func (s *Service) ScheduleRate(ctx context.Context, expression, messageBody, queueName, scheduleName string) (domain.Schedule, error) {
	if expression == "" {
		return domain.Schedule{}, domain.NewValidationError(`schedule_expression is required (e.g. "rate(5 minutes)")`)
	}
	if messageBody == "" {
		return domain.Schedule{}, domain.NewValidationError("message_body is required")
	}
	interval, err := rate.ParseExpression(expression)
	if err != nil {
		return domain.Schedule{}, err
	}
	return s.insert(ctx, s.now()+interval, messageBody, queueName, scheduleName, expression, &interval)
}

func (s *Service) insert(ctx context.Context, runAt int64, body, queueName, name, expression string, interval *int64) (domain.Schedule, error) {
	if queueName == "" {
		queueName = DefaultQueueName
	}
	now := s.now()
	sched := domain.Schedule{
		ID:              "ls_" + uuid.NewString(),
		Name:            name,
		RunAtEpoch:      runAt,
		QueueName:       queueName,
		MessageBody:     body,
		Expression:      expression,
		IntervalSeconds: interval,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.repo.InsertSchedule(ctx, sched); err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("failed to insert schedule")
		return domain.Schedule{}, domain.ErrInternal
	}

	kind := metrics.OneShotKind
	if sched.Recurring() {
		kind = metrics.RecurringKind
	}
	s.metrics.IncSchedulesCreatedTotal(kind)
	log.Info().
		Str("schedule_id", sched.ID).
		Str("queue", queueName).
		Int64("run_at_epoch", runAt).
		Bool("recurring", sched.Recurring()).
		Msg("schedule created")
	return sched, nil
}

// Get returns one schedule, fired or not.
func (s *Service) Get(ctx context.Context, scheduleID string) (domain.Schedule, error) {
	if scheduleID == "" {
		return domain.Schedule{}, domain.NewValidationError("schedule_id is required")
	}
	sched, err := s.repo.GetSchedule(ctx, scheduleID)
	if err != nil {
		return domain.Schedule{}, storeErr(err, "failed to get schedule")
	}
	return sched, nil
}

// List returns schedules ordered by run_at_epoch. Fired one-shot rows are
// excluded unless includeFired is set; recurring rows never carry fired_at
// and always appear.
func (s *Service) List(ctx context.Context, includeFired bool, limit int) ([]domain.Schedule, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	schedules, err := s.repo.ListSchedules(ctx, includeFired, limit)
	if err != nil {
		return nil, storeErr(err, "failed to list schedules")
	}
	return schedules, nil
}

// Cancel deletes the schedule. Cancelling an id that is already gone
// reports cancelled=false rather than an error.
func (s *Service) Cancel(ctx context.Context, scheduleID string) (bool, error) {
	if scheduleID == "" {
		return false, domain.NewValidationError("schedule_id is required")
	}
	cancelled, err := s.repo.DeleteSchedule(ctx, scheduleID)
	if err != nil {
		return false, storeErr(err, "failed to cancel schedule")
	}
	if cancelled {
		s.metrics.IncSchedulesCancelledTotal()
		log.Info().Str("schedule_id", scheduleID).Msg("schedule cancelled")
	}
	return cancelled, nil
}

// UpdateRequest is a partial update; nil fields are left untouched.
type UpdateRequest struct {
	Name         *string
	QueueName    *string
	MessageBody  *string
	RunAtEpoch   *int64
	DelaySeconds *int64
	Expression   *string
}

// Update applies a partial update. Rescheduling fields (run_at_epoch,
// delay_seconds, schedule_expression) re-arm the schedule by clearing
// fired_at; a new expression is re-parsed and replaces the interval.
func (s *Service) Update(ctx context.Context, scheduleID string, req UpdateRequest) (domain.Schedule, error) {
	if scheduleID == "" {
		return domain.Schedule{}, domain.NewValidationError("schedule_id is required")
	}

	u := store.ScheduleUpdate{
		Name:        req.Name,
		QueueName:   req.QueueName,
		MessageBody: req.MessageBody,
		RunAtEpoch:  req.RunAtEpoch,
	}
	if req.DelaySeconds != nil {
		delay := *req.DelaySeconds
		if delay < 0 {
			delay = 0
		}
		runAt := s.now() + delay
		u.RunAtEpoch = &runAt
	}
	if req.Expression != nil {
		interval, err := rate.ParseExpression(*req.Expression)
		if err != nil {
			return domain.Schedule{}, err
		}
		u.Expression = req.Expression
		u.IntervalSeconds = &interval
		if u.RunAtEpoch == nil {
			runAt := s.now() + interval
			u.RunAtEpoch = &runAt
		}
	}
	if u.Name == nil && u.QueueName == nil && u.MessageBody == nil && u.RunAtEpoch == nil && u.Expression == nil {
		return domain.Schedule{}, domain.NewValidationError("no fields to update")
	}

	sched, err := s.repo.UpdateSchedule(ctx, scheduleID, u, s.now())
	if err != nil {
		return domain.Schedule{}, storeErr(err, "failed to update schedule")
	}
	return sched, nil
}

// RunDue is a single bounded dispatcher pass: it fires up to maxToRun due
// schedules in run_at_epoch order and returns how many fired. Each firing
// runs in one transaction (claim + enqueue), so a crash or a concurrent
// dispatcher can never half-fire a schedule. A store failure on one
// schedule is logged and skipped so the dispatcher stays live.
func (s *Service) RunDue(ctx context.Context, maxToRun int, deleteAfter bool) (int, error) {
	if maxToRun <= 0 {
		maxToRun = DefaultRunDueLimit
	}
	if maxToRun > MaxRunDueLimit {
		maxToRun = MaxRunDueLimit
	}

	now := s.now()
	due, err := s.repo.DueSchedules(ctx, now, maxToRun)
	if err != nil {
		return 0, storeErr(err, "failed to select due schedules")
	}

	count := 0
	for _, sched := range due {
		msg := domain.Message{
			ID:         "lq_" + uuid.NewString(),
			QueueName:  sched.QueueName,
			Body:       sched.MessageBody,
			EnqueuedAt: now,
			VisibleAt:  now,
		}
		fired, err := s.repo.FireSchedule(ctx, sched, msg, now, deleteAfter)
		if err != nil {
			log.Error().Err(err).Str("schedule_id", sched.ID).Msg("failed to fire schedule")
			continue
		}
		if !fired {
			// claimed by a concurrent dispatcher
			continue
		}

		count++
		outcome := metrics.DeletedOutcome
		switch {
		case sched.Recurring():
			outcome = metrics.RescheduledOutcome
		case !deleteAfter:
			outcome = metrics.MarkedFiredOutcome
		}
		s.metrics.IncSchedulesFiredTotalBy(1, outcome)
		s.metrics.IncMessagesSentTotalBy(1, sched.QueueName)
		log.Info().
			Str("schedule_id", sched.ID).
			Str("queue", sched.QueueName).
			Str("message_id", msg.ID).
			Str("outcome", outcome).
			Msg("schedule fired")
	}
	return count, nil
}

func storeErr(err error, msg string) error {
	var de domain.Error
	if errors.As(err, &de) {
		return de
	}
	log.Error().Err(err).Msg(msg)
	return domain.ErrInternal
}
