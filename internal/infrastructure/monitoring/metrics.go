package monitoring

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Channel metrics
	FramesEncoded *prometheus.CounterVec
	FramesDecoded *prometheus.CounterVec
	FramingErrors *prometheus.CounterVec
	ChannelBytes  *prometheus.CounterVec

	// Worker metrics
	WorkersActive prometheus.Gauge
	WorkerExits   *prometheus.CounterVec

	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Event metrics
	EventsDispatched *prometheus.CounterVec

	// Artifact metrics
	ArtifactsWritten *prometheus.CounterVec
	ArtifactBytes    prometheus.Counter

	// Run phase timings
	PhaseDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector backed by its own registry, so
// several bridges in one process never collide on registration.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		FramesEncoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_frames_encoded_total",
				Help: "Total number of frames written to the worker",
			},
			[]string{"channel"},
		),
		FramesDecoded: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_frames_decoded_total",
				Help: "Total number of frames decoded from the worker",
			},
			[]string{"channel"},
		),
		FramingErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_framing_errors_total",
				Help: "Total number of malformed frames by kind",
			},
			[]string{"channel", "kind"},
		),
		ChannelBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_channel_bytes_total",
				Help: "Bytes moved over each worker channel",
			},
			[]string{"channel", "direction"},
		),

		WorkersActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "xsbridge_workers_active",
				Help: "Number of live worker processes",
			},
		),
		WorkerExits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_worker_exits_total",
				Help: "Worker exits by exit code and signal",
			},
			[]string{"code", "signal"},
		),

		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_sessions_total",
				Help: "Profiling sessions by outcome",
			},
			[]string{"outcome"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "xsbridge_session_duration_seconds",
				Help:    "Time from start of capture to session completion",
				Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
		),

		EventsDispatched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_events_dispatched_total",
				Help: "Debug events received by tag",
			},
			[]string{"tag", "handled"},
		),

		ArtifactsWritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xsbridge_artifacts_written_total",
				Help: "Profile artifacts persisted by status",
			},
			[]string{"status"},
		),
		ArtifactBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "xsbridge_artifact_bytes_total",
				Help: "Bytes written to profile artifacts",
			},
		),

		PhaseDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xsbridge_phase_duration_seconds",
				Help:    "Duration of run phases and status requests",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"phase", "status"},
		),
	}
}

// Registry returns the registry the metrics are registered with.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// The recording helpers below accept a nil receiver so components can run
// without metrics.

// RecordFrameEncoded counts a frame written on a channel
func (m *Metrics) RecordFrameEncoded(channel string, size int) {
	if m == nil {
		return
	}
	m.FramesEncoded.WithLabelValues(channel).Inc()
	m.ChannelBytes.WithLabelValues(channel, "out").Add(float64(size))
}

// RecordFrameDecoded counts a frame decoded from a channel
func (m *Metrics) RecordFrameDecoded(channel string) {
	if m == nil {
		return
	}
	m.FramesDecoded.WithLabelValues(channel).Inc()
}

// RecordBytesRead counts raw bytes read from a channel
func (m *Metrics) RecordBytesRead(channel string, n int) {
	if m == nil {
		return
	}
	m.ChannelBytes.WithLabelValues(channel, "in").Add(float64(n))
}

// RecordFramingError counts a malformed frame
func (m *Metrics) RecordFramingError(channel, kind string) {
	if m == nil {
		return
	}
	m.FramingErrors.WithLabelValues(channel, kind).Inc()
}

// IncWorkersActive marks a worker as started
func (m *Metrics) IncWorkersActive() {
	if m == nil {
		return
	}
	m.WorkersActive.Inc()
}

// RecordWorkerExit marks a worker as exited
func (m *Metrics) RecordWorkerExit(code int, signal string) {
	if m == nil {
		return
	}
	m.WorkersActive.Dec()
	m.WorkerExits.WithLabelValues(strconv.Itoa(code), signal).Inc()
}

// RecordSession records a finished session
func (m *Metrics) RecordSession(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(outcome).Inc()
	m.SessionDuration.Observe(duration.Seconds())
}

// RecordEvent counts a dispatched event
func (m *Metrics) RecordEvent(tag string, handled bool) {
	if m == nil {
		return
	}
	m.EventsDispatched.WithLabelValues(tag, strconv.FormatBool(handled)).Inc()
}

// RecordArtifact counts a persistence attempt
func (m *Metrics) RecordArtifact(status string, size int) {
	if m == nil {
		return
	}
	m.ArtifactsWritten.WithLabelValues(status).Inc()
	if size > 0 {
		m.ArtifactBytes.Add(float64(size))
	}
}

// RecordPhase observes a finished run phase
func (m *Metrics) RecordPhase(phase, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase, status).Observe(duration.Seconds())
}
