package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"tickq/internal/domain"
	"tickq/internal/queue"
)

// Handler consumes one message body. Returning nil acknowledges (deletes)
// the message; returning an error leaves the lease to lapse so the message
// is redelivered after the visibility timeout.
type Handler interface {
	Handle(ctx context.Context, msg domain.Message) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, msg domain.Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg domain.Message) error { return f(ctx, msg) }

// Pool is the consumer leg of the pipeline: it polls the queues it has
// handlers for, leases batches of messages, and fans them out to
// goroutines bounded by a semaphore.
type Pool struct {
	queues     *queue.Service
	handlers   map[string]Handler // by queue name
	sem        chan struct{}
	pollEvery  time.Duration
	visibility int64 // lease seconds, also the per-message deadline
}

func NewPool(queues *queue.Service, handlers map[string]Handler, size int, pollEvery time.Duration, visibilityTimeout int64) *Pool {
	if visibilityTimeout <= 0 {
		visibilityTimeout = 30
	}
	return &Pool{
		queues:     queues,
		handlers:   handlers,
		sem:        make(chan struct{}, size),
		pollEvery:  pollEvery,
		visibility: visibilityTimeout,
	}
}

func (p *Pool) Run(ctx context.Context) {
	t := time.NewTicker(p.pollEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			for queueName, h := range p.handlers {
				p.drain(ctx, queueName, h)
			}
		}
	}
}

func (p *Pool) drain(ctx context.Context, queueName string, h Handler) {
	for {
		msgs, err := p.queues.Receive(ctx, queueName, queue.MaxReceiveMessages, p.visibility)
		if err != nil {
			log.Error().Err(err).Str("queue", queueName).Msg("receive failed")
			return
		}
		if len(msgs) == 0 {
			return
		}
		for _, msg := range msgs {
			p.sem <- struct{}{}
			go func(m domain.Message) {
				defer func() { <-p.sem }()
				c, cancel := context.WithTimeout(ctx, time.Duration(p.visibility)*time.Second)
				defer cancel()
				if err := h.Handle(c, m); err != nil {
					// no ack: the lease lapses and the message redelivers
					log.Warn().Err(err).Str("queue", queueName).Str("message_id", m.ID).Msg("handler failed")
					return
				}
				if _, err := p.queues.Delete(ctx, queueName, m.ID); err != nil {
					log.Error().Err(err).Str("queue", queueName).Str("message_id", m.ID).Msg("ack failed")
				}
			}(msg)
		}
	}
}
