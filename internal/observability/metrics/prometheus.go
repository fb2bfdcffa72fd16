// Package metrics provides Prometheus metrics for the outreach engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	AttemptsStarted       prometheus.Counter
	AttemptsCompleted     *prometheus.CounterVec
	PlansCompleted        prometheus.Counter
	PlansNoContact        prometheus.Counter
	TasksCreated          *prometheus.CounterVec
	TasksResolved         prometheus.Counter
	TasksExpired          prometheus.Counter
	DialogueMessages      prometheus.Counter
	NormalizerFallbacks   prometheus.Counter
	SchedulerPassDuration prometheus.Histogram
	OutboxPending         prometheus.Gauge
	KafkaMessagesProduced prometheus.Counter
	KafkaMessagesConsumed prometheus.Counter
}

// New creates and registers all metrics
func New() *Metrics {
	m := &Metrics{
		AttemptsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_attempts_started_total",
			Help: "Total outreach attempts started",
		}),
		AttemptsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_attempts_completed_total",
			Help: "Total outreach attempts finished, by outcome status",
		}, []string{"status"}),
		PlansCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_plans_completed_total",
			Help: "Total outreach plans completed",
		}),
		PlansNoContact: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outreach_plans_no_contact_total",
			Help: "Total outreach plans closed without reaching the patient",
		}),
		TasksCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "escalation_tasks_created_total",
			Help: "Total escalation tasks created, by severity",
		}, []string{"severity"}),
		TasksResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escalation_tasks_resolved_total",
			Help: "Total escalation tasks resolved",
		}),
		TasksExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "escalation_tasks_expired_total",
			Help: "Total escalation tasks expired past their SLA",
		}),
		DialogueMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_messages_total",
			Help: "Total dialogue turns sent and received",
		}),
		NormalizerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dialogue_normalizer_fallbacks_total",
			Help: "Total replies normalized via the completion-service fallback",
		}),
		SchedulerPassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scheduler_pass_duration_seconds",
			Help:    "Scheduler pass duration",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Outbox entries awaiting publication",
		}),
		KafkaMessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_produced_total",
			Help: "Total Kafka messages produced",
		}),
		KafkaMessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kafka_messages_consumed_total",
			Help: "Total Kafka messages consumed",
		}),
	}

	prometheus.MustRegister(
		m.AttemptsStarted,
		m.AttemptsCompleted,
		m.PlansCompleted,
		m.PlansNoContact,
		m.TasksCreated,
		m.TasksResolved,
		m.TasksExpired,
		m.DialogueMessages,
		m.NormalizerFallbacks,
		m.SchedulerPassDuration,
		m.OutboxPending,
		m.KafkaMessagesProduced,
		m.KafkaMessagesConsumed,
	)

	return m
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
