package metrics

// NoopMetricsService keeps the call sites unconditional when metrics are
// disabled.
type NoopMetricsService struct{}

func newNoopMetricsService() *NoopMetricsService { return &NoopMetricsService{} }

func (n *NoopMetricsService) IncSchedulesCreatedTotal(kind string)                  {}
func (n *NoopMetricsService) IncSchedulesFiredTotalBy(count int64, outcome string)  {}
func (n *NoopMetricsService) IncSchedulesCancelledTotal()                           {}
func (n *NoopMetricsService) IncMessagesSentTotalBy(count int64, queueName string)  {}
func (n *NoopMetricsService) IncMessagesReceivedTotalBy(count int64, queueName string) {
}
func (n *NoopMetricsService) IncMessagesDeletedTotalBy(count int64, queueName string) {
}
func (n *NoopMetricsService) IncMessagesPurgedTotalBy(count int64, queueName string) {
}
func (n *NoopMetricsService) SetQueueDepth(queueName string, depth int64) {}
