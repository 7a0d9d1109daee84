// Package metrics exposes Prometheus collectors for the journal, dispatcher,
// and recovery components. No component requires a non-nil *Registry:
// components that take one check it for nil before each recording and
// record nothing when it is nil.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups the collectors this runtime exposes and registers them
// against a caller-supplied prometheus.Registerer (typically
// prometheus.DefaultRegisterer, but tests can pass a scratch registry).
type Registry struct {
	NotificationsDelivered prometheus.Counter
	BufferFlushDuration    prometheus.Histogram
	BufferSize             *prometheus.GaugeVec
	QueueAdmitted          *prometheus.CounterVec
	RecoveryAttempts       prometheus.Counter
	RecoveryPending        prometheus.Gauge
}

// New constructs and registers a Registry. reg may be nil, in which case
// metrics are created but never exposed (useful for tests).
func New(reg prometheus.Registerer) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{
		NotificationsDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbos",
			Name:      "notifications_delivered_total",
			Help:      "Notifications delivered to in-process waiters via LISTEN/NOTIFY.",
		}),
		BufferFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dbos",
			Name:      "buffer_flush_duration_seconds",
			Help:      "Duration of a single buffered-writer flush pass.",
		}),
		BufferSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "dbos",
			Name:      "buffer_size",
			Help:      "Number of entries currently held in a write-back buffer.",
		}, []string{"buffer"}),
		QueueAdmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dbos",
			Name:      "queue_admitted_total",
			Help:      "Workflows admitted from ENQUEUED to PENDING per queue.",
		}, []string{"queue"}),
		RecoveryAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dbos",
			Name:      "recovery_attempts_total",
			Help:      "Workflow recovery attempts made by the recovery engine.",
		}),
		RecoveryPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dbos",
			Name:      "recovery_pending",
			Help:      "Workflows still awaiting recovery on startup.",
		}),
	}

	reg.MustRegister(
		r.NotificationsDelivered,
		r.BufferFlushDuration,
		r.BufferSize,
		r.QueueAdmitted,
		r.RecoveryAttempts,
		r.RecoveryPending,
	)
	return r
}
