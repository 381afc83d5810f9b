// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Decision metrics
	CandidatesEvaluated prometheus.Counter
	Decisions           *prometheus.CounterVec
	Rejections          *prometheus.CounterVec
	EvaluationLatency   prometheus.Histogram
	SafetyLatency       prometheus.Histogram

	// Position metrics
	OpenPositions *prometheus.GaugeVec
	Transitions   *prometheus.CounterVec
	StaleTicks    prometheus.Counter

	// Failure metrics
	ExecutionFailures   *prometheus.CounterVec
	PersistenceFailures prometheus.Counter
	PendingEvents       prometheus.Gauge

	// Notification metrics
	NotificationsSent    *prometheus.CounterVec
	NotificationsDropped *prometheus.CounterVec

	// Risk metrics
	DailyRealizedPnL prometheus.Gauge
	RiskPaused       prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulTick prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "moonshot_engine"
	}

	return &Metrics{
		// Decision metrics
		CandidatesEvaluated: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "candidates_evaluated_total",
			Help:      "Total number of candidates evaluated",
		}),
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "decisions_total",
			Help:      "Total number of decisions by outcome and pool",
		}, []string{"outcome", "pool"}),
		Rejections: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "rejections_total",
			Help:      "Total number of rejections by reason",
		}, []string{"reason"}),
		EvaluationLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "decision",
			Name:      "evaluation_latency_seconds",
			Help:      "End-to-end candidate evaluation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		SafetyLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "safety",
			Name:      "query_latency_seconds",
			Help:      "Safety query latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}),

		// Position metrics
		OpenPositions: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "open",
			Help:      "Number of live positions by pool",
		}, []string{"pool"}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "transitions_total",
			Help:      "Total number of position transitions by event type",
		}, []string{"type"}),
		StaleTicks: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "position",
			Name:      "stale_ticks_total",
			Help:      "Total number of ticks skipped on stale prices",
		}),

		// Failure metrics
		ExecutionFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "failures_total",
			Help:      "Total number of orders that failed after retries by side",
		}, []string{"side"}),
		PersistenceFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "persistence_failures_total",
			Help:      "Total number of failed event appends",
		}),
		PendingEvents: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "storage",
			Name:      "pending_events",
			Help:      "Recorded events waiting to be re-appended to the event log",
		}),

		// Notification metrics
		NotificationsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "sent_total",
			Help:      "Total number of notifications delivered by sink",
		}, []string{"sink"}),
		NotificationsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "dropped_total",
			Help:      "Total number of notifications dropped on a full queue by kind",
		}, []string{"kind"}),

		// Risk metrics
		DailyRealizedPnL: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "daily_realized_pnl",
			Help:      "Realized P&L of the current trading day",
		}),
		RiskPaused: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "risk",
			Name:      "paused",
			Help:      "1 while new admissions are paused",
		}),

		// Database metrics
		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastSuccessfulTick: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_tick_timestamp",
			Help:      "Unix timestamp of the last evaluated position tick",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordEvaluation records one candidate evaluation and its latency.
func RecordEvaluation(seconds float64) {
	DefaultMetrics.CandidatesEvaluated.Inc()
	DefaultMetrics.EvaluationLatency.Observe(seconds)
}

// RecordAdmission records an admitted candidate.
func RecordAdmission(pool string) {
	DefaultMetrics.Decisions.WithLabelValues("admitted", pool).Inc()
}

// RecordRejection records a rejected candidate.
func RecordRejection(reason string) {
	DefaultMetrics.Decisions.WithLabelValues("rejected", "").Inc()
	DefaultMetrics.Rejections.WithLabelValues(reason).Inc()
}

// RecordSafetyLatency records safety query latency.
func RecordSafetyLatency(seconds float64) {
	DefaultMetrics.SafetyLatency.Observe(seconds)
}

// UpdateOpenPositions sets the live position gauge for a pool.
func UpdateOpenPositions(pool string, n int) {
	DefaultMetrics.OpenPositions.WithLabelValues(pool).Set(float64(n))
}

// RecordTransition records an applied position event.
func RecordTransition(eventType string) {
	DefaultMetrics.Transitions.WithLabelValues(eventType).Inc()
}

// RecordStaleTick records a tick skipped on a stale price.
func RecordStaleTick() {
	DefaultMetrics.StaleTicks.Inc()
}

// RecordTick marks a successfully evaluated tick.
func RecordTick(unixSeconds float64) {
	DefaultMetrics.LastSuccessfulTick.Set(unixSeconds)
}

// RecordExecutionFailure records an order that failed after retries.
func RecordExecutionFailure(side string) {
	DefaultMetrics.ExecutionFailures.WithLabelValues(side).Inc()
}

// RecordPersistenceFailure records a failed event append.
func RecordPersistenceFailure() {
	DefaultMetrics.PersistenceFailures.Inc()
}

// SetPendingEvents sets the number of events awaiting a retried append.
func SetPendingEvents(n int) {
	DefaultMetrics.PendingEvents.Set(float64(n))
}

// RecordNotificationSent records a delivered notification.
func RecordNotificationSent(sink string) {
	DefaultMetrics.NotificationsSent.WithLabelValues(sink).Inc()
}

// RecordNotificationDropped records a notification dropped on a full queue.
func RecordNotificationDropped(kind string) {
	DefaultMetrics.NotificationsDropped.WithLabelValues(kind).Inc()
}

// UpdateRisk sets the risk gauges.
func UpdateRisk(dailyPnL float64, paused bool) {
	DefaultMetrics.DailyRealizedPnL.Set(dailyPnL)
	if paused {
		DefaultMetrics.RiskPaused.Set(1)
	} else {
		DefaultMetrics.RiskPaused.Set(0)
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
