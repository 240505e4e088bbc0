// Package metrics exposes Prometheus instrumentation for the coaching
// gateway. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Live session metrics
	LiveSessionsActive  prometheus.Gauge
	LiveSessionsTotal   *prometheus.CounterVec
	LiveSessionDuration prometheus.Histogram
	AudioBytesTotal     *prometheus.CounterVec
	HeartbeatReaped     prometheus.Counter

	// Pipeline metrics
	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionDuration *prometheus.HistogramVec
	SuggestionsTotal      *prometheus.CounterVec

	// Error metrics
	ErrorsTotal *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec
}

// New creates a Metrics instance with its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "callcoach"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5},
		},
		[]string{"method"},
	)

	liveSessionsActive := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "live_sessions_active",
			Help:      "Number of registered coaching connections",
		},
	)

	liveSessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "live_sessions_total",
			Help:      "Total number of coaching connections by outcome",
		},
		[]string{"outcome"},
	)

	liveSessionDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "live_session_duration_seconds",
			Help:      "Coaching connection duration in seconds",
			Buckets:   []float64{10, 60, 300, 900, 1800, 3600, 7200},
		},
	)

	audioBytesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_bytes_total",
			Help:      "Audio bytes by disposition",
		},
		[]string{"disposition"},
	)

	heartbeatReaped := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_terminations_total",
			Help:      "Connections terminated for missing a heartbeat pong",
		},
	)

	transcriptionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription attempts by provider and outcome",
		},
		[]string{"provider", "outcome"},
	)

	transcriptionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Transcription latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20},
		},
		[]string{"provider"},
	)

	suggestionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_total",
			Help:      "Suggestions delivered by source",
		},
		[]string{"source"},
	)

	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Total number of pipeline errors",
		},
		[]string{"stage"},
	)

	rateLimitHits := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_hits_total",
			Help:      "Total number of rate limit hits",
		},
		[]string{"limit_type"},
	)

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		liveSessionsActive,
		liveSessionsTotal,
		liveSessionDuration,
		audioBytesTotal,
		heartbeatReaped,
		transcriptionsTotal,
		transcriptionDuration,
		suggestionsTotal,
		errorsTotal,
		rateLimitHits,
	)

	return &Metrics{
		registry:              registry,
		RequestsTotal:         requestsTotal,
		RequestDuration:       requestDuration,
		LiveSessionsActive:    liveSessionsActive,
		LiveSessionsTotal:     liveSessionsTotal,
		LiveSessionDuration:   liveSessionDuration,
		AudioBytesTotal:       audioBytesTotal,
		HeartbeatReaped:       heartbeatReaped,
		TranscriptionsTotal:   transcriptionsTotal,
		TranscriptionDuration: transcriptionDuration,
		SuggestionsTotal:      suggestionsTotal,
		ErrorsTotal:           errorsTotal,
		RateLimitHits:         rateLimitHits,
	}
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordLiveSessionStart records a coaching connection being registered.
func (m *Metrics) RecordLiveSessionStart() {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Inc()
}

// RecordLiveSessionEnd records a registered connection going away.
func (m *Metrics) RecordLiveSessionEnd(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.LiveSessionsActive.Dec()
	m.LiveSessionsTotal.WithLabelValues(outcome).Inc()
	m.LiveSessionDuration.Observe(duration.Seconds())
}

// RecordRejectedSession records a connection refused before registration.
func (m *Metrics) RecordRejectedSession(outcome string) {
	if m == nil {
		return
	}
	m.LiveSessionsTotal.WithLabelValues(outcome).Inc()
}

// RecordAudio records audio bytes ("ingested", "flushed", "dropped").
func (m *Metrics) RecordAudio(disposition string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioBytesTotal.WithLabelValues(disposition).Add(float64(n))
}

// RecordHeartbeatTermination records a connection reaped by the heartbeat.
func (m *Metrics) RecordHeartbeatTermination() {
	if m == nil {
		return
	}
	m.HeartbeatReaped.Inc()
}

// RecordTranscription records one provider call ("ok", "short", "error").
func (m *Metrics) RecordTranscription(provider, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.TranscriptionsTotal.WithLabelValues(provider, outcome).Inc()
	m.TranscriptionDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

// RecordSuggestions records delivered suggestions.
func (m *Metrics) RecordSuggestions(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SuggestionsTotal.WithLabelValues(source).Add(float64(n))
}

// RecordError records a pipeline error for stage.
func (m *Metrics) RecordError(stage string) {
	if m == nil {
		return
	}
	m.ErrorsTotal.WithLabelValues(stage).Inc()
}

// RecordRateLimitHit records a rate limit hit.
func (m *Metrics) RecordRateLimitHit(limitType string) {
	if m == nil {
		return
	}
	m.RateLimitHits.WithLabelValues(limitType).Inc()
}

// statusRecorder only needs the status code; it is never used on
// upgraded connections because Instrument skips them.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (w *statusRecorder) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument records request counts and latency for every request except
// WebSocket upgrades, which are tracked as live sessions instead.
func (m *Metrics) Instrument(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Upgrade") != "" {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		m.RecordRequest(r.Method, rec.status, time.Since(start))
	})
}
