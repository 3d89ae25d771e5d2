package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"tickq/internal/domain"
	"tickq/internal/metrics"
	"tickq/internal/store"
)

const (
	// MaxBodyBytes caps a single message body (matches the SQS limit).
	MaxBodyBytes = 256 * 1024
	// MaxBatchSize caps entries per SendBatch call.
	MaxBatchSize = 10
	// MaxReceiveMessages caps messages per Receive call.
	MaxReceiveMessages = 10
)

// Service implements queue operations over the store. Queues are implicit:
// a queue exists exactly while it holds messages, so the first Send creates
// it and Purge effectively removes it.
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

// Send appends one available message and returns its id. A delay of 0
// makes the message deliverable immediately.
func (s *Service) Send(ctx context.Context, queueName, body string, delaySeconds int64) (string, error) {
	if queueName == "" {
		return "", domain.NewValidationError("queue_name is required")
	}
	if len(body) > MaxBodyBytes {
		return "", domain.NewValidationError("body exceeds max message size")
	}
	if delaySeconds < 0 {
		delaySeconds = 0
	}

	now := s.now()
	msg := domain.Message{
		ID:         "lq_" + uuid.NewString(),
		QueueName:  queueName,
		Body:       body,
		EnqueuedAt: now,
		VisibleAt:  now + delaySeconds,
	}
	if err := s.repo.InsertMessages(ctx, []domain.Message{msg}); err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("failed to insert message")
		return "", domain.ErrInternal
	}
	s.metrics.IncMessagesSentTotalBy(1, queueName)
	return msg.ID, nil
}

type BatchEntry struct {
	Body         string `json:"body"`
	DelaySeconds int64  `json:"delay_seconds"`
}

type BatchSuccess struct {
	Index     int    `json:"index"`
	MessageID string `json:"message_id"`
}

type BatchFailure struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type BatchResult struct {
	Successful []BatchSuccess `json:"successful"`
	Failed     []BatchFailure `json:"failed"`
}

// SendBatch enqueues up to MaxBatchSize messages in one transaction.
// Oversized bodies fail individually without sinking the batch.
func (s *Service) SendBatch(ctx context.Context, queueName string, entries []BatchEntry) (BatchResult, error) {
	if queueName == "" {
		return BatchResult{}, domain.NewValidationError("queue_name is required")
	}
	if len(entries) == 0 {
		return BatchResult{}, domain.NewValidationError("messages is required")
	}
	if len(entries) > MaxBatchSize {
		return BatchResult{}, domain.NewValidationError("send_batch supports up to 10 messages")
	}

	now := s.now()
	var result BatchResult
	var msgs []domain.Message
	for i, e := range entries {
		if len(e.Body) > MaxBodyBytes {
			result.Failed = append(result.Failed, BatchFailure{
				Index:   i,
				Code:    domain.ErrCodeValidation,
				Message: "body exceeds max message size",
			})
			continue
		}
		delay := e.DelaySeconds
		if delay < 0 {
			delay = 0
		}
		m := domain.Message{
			ID:         "lq_" + uuid.NewString(),
			QueueName:  queueName,
			Body:       e.Body,
			EnqueuedAt: now,
			VisibleAt:  now + delay,
		}
		msgs = append(msgs, m)
		result.Successful = append(result.Successful, BatchSuccess{Index: i, MessageID: m.ID})
	}

	if len(msgs) > 0 {
		if err := s.repo.InsertMessages(ctx, msgs); err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("failed to insert message batch")
			return BatchResult{}, domain.ErrInternal
		}
		s.metrics.IncMessagesSentTotalBy(int64(len(msgs)), queueName)
	}
	return result, nil
}

// Receive leases up to maxMessages available messages for
// visibilityTimeout seconds, incrementing each receive_count. An empty
// queue returns an empty slice. visibilityTimeout 0 leaves the messages
// immediately redeliverable.
func (s *Service) Receive(ctx context.Context, queueName string, maxMessages int, visibilityTimeout int64) ([]domain.Message, error) {
	if queueName == "" {
		return nil, domain.NewValidationError("queue_name is required")
	}
	if maxMessages <= 0 {
		return nil, domain.NewValidationError("max_messages must be positive")
	}
	if maxMessages > MaxReceiveMessages {
		maxMessages = MaxReceiveMessages
	}
	if visibilityTimeout < 0 {
		visibilityTimeout = 0
	}

	msgs, err := s.repo.LeaseMessages(ctx, queueName, maxMessages, visibilityTimeout, s.now())
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("failed to lease messages")
		return nil, domain.ErrInternal
	}
	if len(msgs) > 0 {
		s.metrics.IncMessagesReceivedTotalBy(int64(len(msgs)), queueName)
	}
	return msgs, nil
}

// Delete acknowledges a message. Deleting a message that is already gone
// reports deleted=false rather than an error.
func (s *Service) Delete(ctx context.Context, queueName, messageID string) (bool, error) {
	if queueName == "" {
		return false, domain.NewValidationError("queue_name is required")
	}
	if messageID == "" {
		return false, domain.NewValidationError("message_id is required")
	}
	deleted, err := s.repo.DeleteMessage(ctx, queueName, messageID)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Str("message_id", messageID).Msg("failed to delete message")
		return false, domain.ErrInternal
	}
	if deleted {
		s.metrics.IncMessagesDeletedTotalBy(1, queueName)
	}
	return deleted, nil
}

// ChangeVisibility re-arms (or with timeout 0 releases) the lease on an
// in-flight message.
func (s *Service) ChangeVisibility(ctx context.Context, queueName, messageID string, visibilityTimeout int64) (bool, error) {
	if queueName == "" {
		return false, domain.NewValidationError("queue_name is required")
	}
	if messageID == "" {
		return false, domain.NewValidationError("message_id is required")
	}
	if visibilityTimeout < 0 {
		visibilityTimeout = 0
	}
	updated, err := s.repo.SetMessageVisibility(ctx, queueName, messageID, s.now()+visibilityTimeout)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Str("message_id", messageID).Msg("failed to change visibility")
		return false, domain.ErrInternal
	}
	if !updated {
		return false, domain.ErrNotFoundMessage
	}
	return true, nil
}

// Purge deletes every message in the queue regardless of state.
func (s *Service) Purge(ctx context.Context, queueName string) (int, error) {
	if queueName == "" {
		return 0, domain.NewValidationError("queue_name is required")
	}
	n, err := s.repo.PurgeQueue(ctx, queueName)
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("failed to purge queue")
		return 0, domain.ErrInternal
	}
	log.Info().Str("queue", queueName).Int("purged", n).Msg("queue purged")
	s.metrics.IncMessagesPurgedTotalBy(int64(n), queueName)
	s.metrics.SetQueueDepth(queueName, 0)
	return n, nil
}

// Attributes reports visible / in-flight / total counts for the queue.
func (s *Service) Attributes(ctx context.Context, queueName string) (domain.QueueAttributes, error) {
	if queueName == "" {
		return domain.QueueAttributes{}, domain.NewValidationError("queue_name is required")
	}
	attrs, err := s.repo.QueueAttributes(ctx, queueName, s.now())
	if err != nil {
		log.Error().Err(err).Str("queue", queueName).Msg("failed to read queue attributes")
		return domain.QueueAttributes{}, domain.ErrInternal
	}
	s.metrics.SetQueueDepth(queueName, int64(attrs.Total))
	return attrs, nil
}

// ListQueues returns the names of all queues currently holding messages.
func (s *Service) ListQueues(ctx context.Context) ([]string, error) {
	queues, err := s.repo.ListQueues(ctx)
	if err != nil {
		log.Error().Err(err).Msg("failed to list queues")
		return nil, domain.ErrInternal
	}
	return queues, nil
}
