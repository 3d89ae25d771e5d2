package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type PrometheusMetricsService struct {
	schedulesCreatedTotal   *prometheus.CounterVec
	schedulesFiredTotal     *prometheus.CounterVec
	schedulesCancelledTotal prometheus.Counter
	messagesSentTotal       *prometheus.CounterVec
	messagesReceivedTotal   *prometheus.CounterVec
	messagesDeletedTotal    *prometheus.CounterVec
	messagesPurgedTotal     *prometheus.CounterVec
	queueDepth              *prometheus.GaugeVec
}

func newPrometheusMetricsService() *PrometheusMetricsService {
	srv := &PrometheusMetricsService{
		schedulesCreatedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_schedules_created_total",
				Help: "Total number of schedules created",
			},
			[]string{"kind"},
		),

		schedulesFiredTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_schedules_fired_total",
				Help: "Total number of schedules fired by run_due, by post-fire outcome",
			},
			[]string{"outcome"},
		),

		schedulesCancelledTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tickq_schedules_cancelled_total",
				Help: "Total number of schedules cancelled",
			},
		),

		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_messages_sent_total",
				Help: "Total number of messages enqueued, directly or by firing schedules",
			},
			[]string{"queue_name"},
		),

		messagesReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_messages_received_total",
				Help: "Total number of message leases handed out. Redeliveries count again",
			},
			[]string{"queue_name"},
		),

		messagesDeletedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_messages_deleted_total",
				Help: "Total number of messages acknowledged by consumers",
			},
			[]string{"queue_name"},
		),

		messagesPurgedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tickq_messages_purged_total",
				Help: "Total number of messages removed by queue purges",
			},
			[]string{"queue_name"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tickq_queue_depth",
				Help: "Current number of undeleted messages in the queue",
			},
			[]string{"queue_name"},
		),
	}

	prometheus.MustRegister(
		srv.schedulesCreatedTotal,
		srv.schedulesFiredTotal,
		srv.schedulesCancelledTotal,
		srv.messagesSentTotal,
		srv.messagesReceivedTotal,
		srv.messagesDeletedTotal,
		srv.messagesPurgedTotal,
		srv.queueDepth,
	)

	return srv
}

func (p *PrometheusMetricsService) IncSchedulesCreatedTotal(kind string) {
	p.schedulesCreatedTotal.WithLabelValues(kind).Inc()
}

func (p *PrometheusMetricsService) IncSchedulesFiredTotalBy(count int64, outcome string) {
	p.schedulesFiredTotal.WithLabelValues(outcome).Add(float64(count))
}

func (p *PrometheusMetricsService) IncSchedulesCancelledTotal() {
	p.schedulesCancelledTotal.Inc()
}

func (p *PrometheusMetricsService) IncMessagesSentTotalBy(count int64, queueName string) {
	p.messagesSentTotal.WithLabelValues(queueName).Add(float64(count))
}

func (p *PrometheusMetricsService) IncMessagesReceivedTotalBy(count int64, queueName string) {
	p.messagesReceivedTotal.WithLabelValues(queueName).Add(float64(count))
}

func (p *PrometheusMetricsService) IncMessagesDeletedTotalBy(count int64, queueName string) {
	p.messagesDeletedTotal.WithLabelValues(queueName).Add(float64(count))
}

func (p *PrometheusMetricsService) IncMessagesPurgedTotalBy(count int64, queueName string) {
	p.messagesPurgedTotal.WithLabelValues(queueName).Add(float64(count))
}

func (p *PrometheusMetricsService) SetQueueDepth(queueName string, depth int64) {
	p.queueDepth.WithLabelValues(queueName).Set(float64(depth))
}
