package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_translator_active_sessions",
		Help: "Number of open live translation sessions (0 or 1)",
	})

	sessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_sessions_total",
		Help: "Total number of live sessions by outcome",
	}, []string{"outcome"}) // outcome: "stopped", "error", "remote_close"

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_translator_session_duration_seconds",
		Help:    "Duration of live sessions in seconds",
		Buckets: []float64{5, 30, 60, 300, 900, 1800, 3600},
	})

	connectLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_translator_connect_latency_seconds",
		Help:    "Time from connect to setup complete",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Capture and send metrics
	framesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_frames_sent_total",
		Help: "Total capture frames handed to the live session",
	})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_frames_dropped_total",
		Help: "Audio frames or chunks dropped, by reason",
	}, []string{"reason"})

	audioBytesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_audio_bytes_total",
		Help: "Total PCM audio bytes processed",
	}, []string{"direction"}) // direction: "in" or "out"

	inputLevel = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "live_translator_input_level_rms",
		Help: "RMS level of the most recent capture frame",
	})

	// Playback metrics
	playbackScheduled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_playback_buffers_total",
		Help: "Total decoded buffers scheduled for playback",
	})

	playbackLate = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_playback_late_total",
		Help: "Buffers that arrived after their computed start time",
	})

	playbackInterruptions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_playback_interruptions_total",
		Help: "Total playback cancellations",
	})

	// Transcript and export metrics
	turnsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "live_translator_turns_total",
		Help: "Total completed turns",
	})

	exportWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_export_writes_total",
		Help: "Total export writes by status",
	}, []string{"status"})

	// Text translation metrics
	translationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_translation_requests_total",
		Help: "Total text translation requests",
	}, []string{"status"})

	translationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "live_translator_translation_latency_seconds",
		Help:    "Text translation latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1.0, 2.0, 5.0, 10.0},
	})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "live_translator_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "live_translator_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single live session
type SessionMetrics struct {
	sessionID   string
	startTime   time.Time
	connectedAt time.Time
	ended       bool
	mu          sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordConnected records the handshake latency once
func (m *SessionMetrics) RecordConnected() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.connectedAt.IsZero() {
		return
	}
	m.connectedAt = time.Now()
	connectLatency.Observe(m.connectedAt.Sub(m.startTime).Seconds())
}

// RecordSessionEnd records the end of a session; later calls are ignored
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ended {
		return
	}
	m.ended = true
	activeSessions.Dec()
	sessionsTotal.WithLabelValues(outcome).Inc()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
}

// RecordFrameSent records one capture frame handed to the session
func (m *SessionMetrics) RecordFrameSent(bytes int) {
	framesSent.Inc()
	audioBytesProcessed.WithLabelValues("in").Add(float64(bytes))
}

// RecordInputLevel records the RMS level of a capture frame
func (m *SessionMetrics) RecordInputLevel(rms float64) {
	inputLevel.Set(rms)
}

// RecordAudioBytes records audio bytes processed
func (m *SessionMetrics) RecordAudioBytes(direction string, bytes int64) {
	audioBytesProcessed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordPlayback records a scheduled buffer and whether it was late
func (m *SessionMetrics) RecordPlayback(late bool) {
	playbackScheduled.Inc()
	if late {
		playbackLate.Inc()
	}
}

// RecordInterruption records a playback cancellation
func (m *SessionMetrics) RecordInterruption() {
	playbackInterruptions.Inc()
}

// RecordTurn records a completed turn
func (m *SessionMetrics) RecordTurn() {
	turnsCompleted.Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	RecordError(errorType, component)
}

// RecordError records an error outside a session
func RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordDrop records a dropped frame or chunk
func RecordDrop(reason string) {
	framesDropped.WithLabelValues(reason).Inc()
}

// RecordExportWrite records one export write result
func RecordExportWrite(success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	exportWrites.WithLabelValues(status).Inc()
}

// RecordTranslation records a text translation request and its latency
func RecordTranslation(success bool, latency time.Duration) {
	status := "success"
	if !success {
		status = "error"
	}
	translationRequests.WithLabelValues(status).Inc()
	translationLatency.Observe(latency.Seconds())
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
