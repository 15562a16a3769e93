package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "sensinact"

// Metrics contains the gateway metrics. All Record methods are safe to call
// on a nil *Metrics, which makes metrics optional for every component.
type Metrics struct {
	// Transaction metrics
	TransactionsTotal   *prometheus.CounterVec
	TransactionDuration prometheus.Histogram
	CommandQueueDepth   prometheus.Gauge

	// Accumulator metrics
	NotificationsQueued    *prometheus.CounterVec
	NotificationsMerged    *prometheus.CounterVec
	NotificationsDelivered *prometheus.CounterVec
	LifecycleCancelled     prometheus.Counter
	UpdatesRejected        *prometheus.CounterVec

	// Sink metrics
	SinkPublished *prometheus.CounterVec
	SinkErrors    *prometheus.CounterVec

	// Ingest metrics
	UpdatesReceived *prometheus.CounterVec

	// Health and NATS metrics
	HealthCheckStatus *prometheus.GaugeVec
	NATSConnected     prometheus.Gauge
	NATSReconnects    prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all gateway metrics
func NewMetrics() *Metrics {
	return &Metrics{
		TransactionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "transactions",
				Name:      "total",
				Help:      "Total number of gateway transactions by outcome (completed, discarded)",
			},
			[]string{"status"},
		),

		TransactionDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transactions",
				Name:      "duration_seconds",
				Help:      "Gateway transaction duration in seconds, including notification delivery",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),

		CommandQueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "commands",
				Name:      "queue_depth",
				Help:      "Number of commands waiting for the gateway thread",
			},
		),

		NotificationsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "queued_total",
				Help:      "Notifications queued as new accumulator entries",
			},
			[]string{"kind"},
		),

		NotificationsMerged: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "merged_total",
				Help:      "Notifications merged into an existing accumulator entry",
			},
			[]string{"kind"},
		),

		NotificationsDelivered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "delivered_total",
				Help:      "Notifications handed to the sink",
			},
			[]string{"kind"},
		),

		LifecycleCancelled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "lifecycle_cancelled_total",
				Help:      "Create and delete pairs cancelled within one transaction",
			},
		),

		UpdatesRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "rejected_total",
				Help:      "Updates rejected by the accumulator",
			},
			[]string{"kind", "reason"},
		),

		SinkPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "published_total",
				Help:      "Notifications published by each sink",
			},
			[]string{"sink"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Notification delivery failures by sink",
			},
			[]string{"sink"},
		),

		UpdatesReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "ingest",
				Name:      "updates_total",
				Help:      "Southbound updates received by outcome",
			},
			[]string{"status"},
		),

		HealthCheckStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "health",
				Name:      "status",
				Help:      "Health check status (0=unhealthy, 1=healthy)",
			},
			[]string{"component"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.TransactionsTotal,
		m.TransactionDuration,
		m.CommandQueueDepth,
		m.NotificationsQueued,
		m.NotificationsMerged,
		m.NotificationsDelivered,
		m.LifecycleCancelled,
		m.UpdatesRejected,
		m.SinkPublished,
		m.SinkErrors,
		m.UpdatesReceived,
		m.HealthCheckStatus,
		m.NATSConnected,
		m.NATSReconnects,
	}
}

// RecordTransaction records the outcome and duration of a transaction
func (m *Metrics) RecordTransaction(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.TransactionsTotal.WithLabelValues(status).Inc()
	m.TransactionDuration.Observe(d.Seconds())
}

// RecordCommandQueueDepth records the number of pending commands
func (m *Metrics) RecordCommandQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.CommandQueueDepth.Set(float64(depth))
}

func (m *Metrics) RecordNotificationQueued(kind string) {
	if m == nil {
		return
	}
	m.NotificationsQueued.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotificationMerged(kind string) {
	if m == nil {
		return
	}
	m.NotificationsMerged.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordNotificationDelivered(kind string) {
	if m == nil {
		return
	}
	m.NotificationsDelivered.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordLifecycleCancelled() {
	if m == nil {
		return
	}
	m.LifecycleCancelled.Inc()
}

func (m *Metrics) RecordUpdateRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.UpdatesRejected.WithLabelValues(kind, reason).Inc()
}

// RecordSinkPublished counts a notification published by a sink
func (m *Metrics) RecordSinkPublished(sink string) {
	if m == nil {
		return
	}
	m.SinkPublished.WithLabelValues(sink).Inc()
}

// RecordSinkError counts a delivery failure of a sink
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordUpdateReceived counts a southbound update by outcome
func (m *Metrics) RecordUpdateReceived(status string) {
	if m == nil {
		return
	}
	m.UpdatesReceived.WithLabelValues(status).Inc()
}

// RecordHealth records the health of a component
func (m *Metrics) RecordHealth(component string, healthy bool) {
	if m == nil {
		return
	}
	v := 0.0
	if healthy {
		v = 1.0
	}
	m.HealthCheckStatus.WithLabelValues(component).Set(v)
}

// RecordNATSConnected records the NATS connection status
func (m *Metrics) RecordNATSConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.NATSConnected.Set(1)
	} else {
		m.NATSConnected.Set(0)
	}
}

// RecordNATSReconnect counts a NATS reconnection
func (m *Metrics) RecordNATSReconnect() {
	if m == nil {
		return
	}
	m.NATSReconnects.Inc()
}
