package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics are low-cardinality (no camera_id/session_id labels)

var (
	// SessionsActive is the number of currently running detect sessions
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flood_sessions_active",
			Help: "Currently running detect sessions",
		},
	)

	// SessionsTotal counts started sessions by source type
	SessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flood_sessions_total",
			Help: "Total detect sessions started by source type",
		},
		[]string{"source_type"},
	)

	// SessionsFinishedTotal counts finished sessions by terminal status
	SessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flood_sessions_finished_total",
			Help: "Total detect sessions finished by terminal status",
		},
		[]string{"source_type", "status"},
	)

	// TicksTotal counts ticks delivered to clients
	TicksTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_ticks_total",
			Help: "Total ticks delivered to clients",
		},
	)

	// FramesSkippedTotal counts decoded-and-discarded pacing frames
	FramesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_frames_skipped_total",
			Help: "Total source frames skipped by the pacing loop",
		},
	)

	// InferenceLatency tracks dual-model inference latency per tick
	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flood_inference_latency_ms",
			Help:    "Dual-model inference latency per tick in milliseconds",
			Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000},
		},
	)

	// InferenceErrorsTotal counts failed inference ticks
	InferenceErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_inference_errors_total",
			Help: "Total inference failures (tick skipped, session kept)",
		},
	)

	// PersistErrorsTotal counts failed DB writes
	PersistErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_persist_errors_total",
			Help: "Total failed session/tick DB writes",
		},
	)

	// SendFailuresTotal counts outbound channel failures ending a session
	SendFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "flood_send_failures_total",
			Help: "Total outbound send failures that ended a session",
		},
	)
)

// Helper functions for metrics recording

func SessionStarted(sourceType string) {
	SessionsActive.Inc()
	SessionsTotal.WithLabelValues(sourceType).Inc()
}

func SessionEnded(sourceType, status string) {
	SessionsActive.Dec()
	SessionsFinishedTotal.WithLabelValues(sourceType, status).Inc()
}

func RecordTick() {
	TicksTotal.Inc()
}

func RecordFrameSkipped() {
	FramesSkippedTotal.Inc()
}

func ObserveInference(d time.Duration) {
	InferenceLatency.Observe(float64(d) / float64(time.Millisecond))
}

func RecordInferenceError() {
	InferenceErrorsTotal.Inc()
}

func RecordPersistError() {
	PersistErrorsTotal.Inc()
}

func RecordSendFailure() {
	SendFailuresTotal.Inc()
}
