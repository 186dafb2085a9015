package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Visit lifecycle
	VisitTransitions *prometheus.CounterVec
	SyncAttempts     *prometheus.CounterVec
	SyncLatency      prometheus.Histogram
	Resubmissions    prometheus.Counter

	// Billing
	ValidationFindings *prometheus.CounterVec
	ClaimsCreated      prometheus.Counter
	ClaimsSkipped      *prometheus.CounterVec
	ClaimsSubmitted    prometheus.Counter

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// New creates all application metrics and registers them with reg.
// Passing nil uses a private registry, which keeps tests independent.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		VisitTransitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "visit_transitions_total",
			Help:      "Visit status transitions by target status",
		}, []string{"status"}),
		SyncAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregator_sync_total",
			Help:      "Aggregator pushes by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		SyncLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "aggregator_sync_duration_seconds",
			Help:      "Duration of aggregator pushes",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		Resubmissions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aggregator_resubmissions_total",
			Help:      "Pushes of visits that were already submitted",
		}),

		ValidationFindings: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "billing_findings_total",
			Help:      "Billing findings produced by rule",
		}, []string{"rule"}),
		ClaimsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_created_total",
			Help:      "Draft claims created from verified visits",
		}),
		ClaimsSkipped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_skipped_total",
			Help:      "Verified visits skipped during claim generation",
		}, []string{"reason"}),
		ClaimsSubmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "claims_submitted_total",
			Help:      "Claims moved from draft to submitted",
		}),

		OutboxEventsProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewNop returns metrics bound to a throwaway registry.
func NewNop() *Metrics {
	return New("test", nil)
}
