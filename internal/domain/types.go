package domain

// Schedule is a time-triggered instruction to enqueue MessageBody onto
// QueueName. IntervalSeconds/Expression are set together for recurring
// schedules and never for one-shot ones. All timestamps are epoch seconds.
type Schedule struct {
	ID              string `json:"schedule_id"`
	Name            string `json:"schedule_name,omitempty"`
	RunAtEpoch      int64  `json:"run_at_epoch"`
	QueueName       string `json:"queue_name"`
	MessageBody     string `json:"message_body"`
	Expression      string `json:"schedule_expression,omitempty"`
	IntervalSeconds *int64 `json:"interval_seconds,omitempty"`
	LastFiredAt     *int64 `json:"last_fired_at,omitempty"`
	FiredAt         *int64 `json:"fired_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}

// Recurring reports whether the schedule re-arms itself after firing.
func (s Schedule) Recurring() bool { return s.IntervalSeconds != nil }

// Message is a queued payload. A message is available when
// now >= VisibleAt, in-flight otherwise; deletion removes the row.
type Message struct {
	ID           string `json:"message_id"`
	QueueName    string `json:"queue_name"`
	Body         string `json:"body"`
	EnqueuedAt   int64  `json:"enqueued_at"`
	VisibleAt    int64  `json:"visible_at"`
	ReceiveCount int    `json:"receive_count"`
}

// QueueAttributes are point-in-time counts for one queue.
type QueueAttributes struct {
	QueueName string `json:"queue_name"`
	Visible   int    `json:"visible"`
	InFlight  int    `json:"in_flight"`
	Total     int    `json:"total"`
}
