package metrics

type Service interface {
	IncSchedulesCreatedTotal(kind string)
	IncSchedulesFiredTotalBy(count int64, outcome string)
	IncSchedulesCancelledTotal()
	IncMessagesSentTotalBy(count int64, queueName string)
	IncMessagesReceivedTotalBy(count int64, queueName string)
	IncMessagesDeletedTotalBy(count int64, queueName string)
	IncMessagesPurgedTotalBy(count int64, queueName string)
	SetQueueDepth(queueName string, depth int64)
}

const (
	OneShotKind   = "one_shot"
	RecurringKind = "recurring"

	DeletedOutcome     = "deleted"
	MarkedFiredOutcome = "marked_fired"
	RescheduledOutcome = "rescheduled"
)

func NewMetricsService(metricsEnabled bool) Service {
	if metricsEnabled {
		return newPrometheusMetricsService()
	}
	return newNoopMetricsService()
}
