package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for chat2course
type Metrics struct {
	// Session metrics
	SessionsCreated *prometheus.CounterVec
	SessionsResumed prometheus.Counter
	ChunkOutcomes   *prometheus.CounterVec
	ChunkDuration   *prometheus.HistogramVec
	ActivityErrors  *prometheus.CounterVec

	// Learner metrics
	LimitAdjustments *prometheus.CounterVec
	MaxCharLength    prometheus.Gauge
	MaxSections      prometheus.Gauge
	StrategyScore    *prometheus.GaugeVec

	// Remote course API metrics
	MoodleRequests *prometheus.CounterVec
	MoodleLatency  *prometheus.HistogramVec

	// Maintenance metrics
	MaintenanceRuns *prometheus.CounterVec
	SessionsSwept   prometheus.Counter
}

var (
	metricsOnce   sync.Once
	sharedMetrics *Metrics
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		sharedMetrics = &Metrics{
			SessionsCreated: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_sessions_created_total",
					Help: "Sessions created, by chosen strategy",
				},
				[]string{"strategy"},
			),
			SessionsResumed: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "chat2course_sessions_resumed_total",
					Help: "Create calls answered by an existing unexpired session",
				},
			),
			ChunkOutcomes: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_chunk_outcomes_total",
					Help: "Processed chunks by strategy and result",
				},
				[]string{"strategy", "success"},
			),
			ChunkDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat2course_chunk_duration_seconds",
					Help:    "Time spent processing one chunk",
					Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
				},
				[]string{"strategy"},
			),
			ActivityErrors: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_activity_errors_total",
					Help: "Page activities that failed inside an otherwise processed chunk",
				},
				[]string{"kind"},
			),
			LimitAdjustments: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_limit_adjustments_total",
					Help: "Learner limit changes by field and direction",
				},
				[]string{"field", "direction"},
			),
			MaxCharLength: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "chat2course_max_char_length",
					Help: "Current learned max_char_length",
				},
			),
			MaxSections: promauto.NewGauge(
				prometheus.GaugeOpts{
					Name: "chat2course_max_sections",
					Help: "Current learned max_sections",
				},
			),
			StrategyScore: promauto.NewGaugeVec(
				prometheus.GaugeOpts{
					Name: "chat2course_strategy_success_ema",
					Help: "Exponential moving average of chunk success per strategy",
				},
				[]string{"strategy"},
			),
			MoodleRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_moodle_requests_total",
					Help: "Moodle web service calls by function and error kind",
				},
				[]string{"function", "kind"},
			),
			MoodleLatency: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "chat2course_moodle_request_duration_seconds",
					Help:    "Moodle web service call latency",
					Buckets: prometheus.DefBuckets,
				},
				[]string{"function"},
			),
			MaintenanceRuns: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "chat2course_maintenance_runs_total",
					Help: "Maintenance job runs by job and result",
				},
				[]string{"job", "success"},
			),
			SessionsSwept: promauto.NewCounter(
				prometheus.CounterOpts{
					Name: "chat2course_sessions_swept_total",
					Help: "Expired sessions purged by the sweep job",
				},
			),
		}
	})
	return sharedMetrics
}

// RecordChunk records one chunk processing attempt
func (m *Metrics) RecordChunk(strategy string, success bool, d time.Duration) {
	m.ChunkOutcomes.WithLabelValues(strategy, strconv.FormatBool(success)).Inc()
	m.ChunkDuration.WithLabelValues(strategy).Observe(d.Seconds())
}

// RecordLimits publishes the current learned limits and one adjustment
func (m *Metrics) RecordLimits(field, direction string, maxCharLength, maxSections int) {
	if field != "" {
		m.LimitAdjustments.WithLabelValues(field, direction).Inc()
	}
	m.MaxCharLength.Set(float64(maxCharLength))
	m.MaxSections.Set(float64(maxSections))
}

// RecordMoodleCall records a Moodle web service request; kind is empty on success
func (m *Metrics) RecordMoodleCall(function, kind string, d time.Duration) {
	if kind == "" {
		kind = "ok"
	}
	m.MoodleRequests.WithLabelValues(function, kind).Inc()
	m.MoodleLatency.WithLabelValues(function).Observe(d.Seconds())
}

// RecordMaintenance records a maintenance job run
func (m *Metrics) RecordMaintenance(job string, err error) {
	m.MaintenanceRuns.WithLabelValues(job, strconv.FormatBool(err == nil)).Inc()
}
