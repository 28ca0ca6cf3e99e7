package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the risk dashboard service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Analysis metrics
	AnalysisRequests   prometheus.Counter
	AnalysisFailures   *prometheus.CounterVec
	AnalysisDuration   prometheus.Histogram
	ScoresClamped      prometheus.Counter
	MissingConditions  prometheus.Counter
	RiskLevelsReturned *prometheus.CounterVec

	// Speech metrics
	SpeechRequests    prometheus.Counter
	SpeechFailures    *prometheus.CounterVec
	SynthesisDuration prometheus.Histogram
	AudioDuration     prometheus.Histogram
	AudioBytes        prometheus.Histogram

	// Playback metrics
	ActivePlaybacks     prometheus.Gauge
	PlaybacksStarted    prometheus.Counter
	PlaybacksFinished   *prometheus.CounterVec
	PlaybacksSuperseded prometheus.Counter

	// Session metrics
	ActiveSessions   prometheus.Gauge
	SessionsCreated  prometheus.Counter
	SessionsExpired  prometheus.Counter
	SessionsDuration prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg.
// A nil registerer leaves them unregistered, which is what tests use.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Analysis metrics
		AnalysisRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_analysis_requests_total",
			Help: "Total number of risk analysis requests",
		}),
		AnalysisFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_analysis_failures_total",
			Help: "Total number of failed risk analyses by reason",
		}, []string{"reason"}),
		AnalysisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpredi_analysis_duration_seconds",
			Help:    "Duration of risk analysis calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		ScoresClamped: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_analysis_scores_clamped_total",
			Help: "Total number of risk scores clamped into [0,100]",
		}),
		MissingConditions: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_analysis_missing_conditions_total",
			Help: "Total number of requested conditions absent from analysis results",
		}),
		RiskLevelsReturned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_analysis_risk_levels_total",
			Help: "Total number of disease risks returned by level",
		}, []string{"level"}),

		// Speech metrics
		SpeechRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_speech_requests_total",
			Help: "Total number of speech report requests",
		}),
		SpeechFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_speech_failures_total",
			Help: "Total number of failed speech reports by reason",
		}, []string{"reason"}),
		SynthesisDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpredi_speech_synthesis_duration_seconds",
			Help:    "Duration of speech synthesis calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		}),
		AudioDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpredi_speech_audio_duration_seconds",
			Help:    "Duration of decoded speech audio",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8), // 1s to ~2 minutes
		}),
		AudioBytes: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpredi_speech_audio_bytes",
			Help:    "Size of decoded PCM payloads in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 14), // 1KB to ~8MB
		}),

		// Playback metrics
		ActivePlaybacks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medpredi_active_playbacks",
			Help: "Current number of live playback handles",
		}),
		PlaybacksStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_playbacks_started_total",
			Help: "Total number of playbacks started",
		}),
		PlaybacksFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_playbacks_finished_total",
			Help: "Total number of playbacks finished by final state",
		}, []string{"state"}),
		PlaybacksSuperseded: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_playbacks_superseded_total",
			Help: "Total number of playbacks stopped by a newer speech request",
		}),

		// Session metrics
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "medpredi_active_sessions",
			Help: "Current number of dashboard sessions",
		}),
		SessionsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_sessions_created_total",
			Help: "Total number of sessions created",
		}),
		SessionsExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "medpredi_sessions_expired_total",
			Help: "Total number of sessions removed after inactivity",
		}),
		SessionsDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "medpredi_session_duration_seconds",
			Help:    "Lifetime of dashboard sessions in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 14), // 1s to ~4.5 hours
		}),

		// HTTP API metrics
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "medpredi_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "medpredi_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordAnalysisRequest increments the analysis requests counter
func (m *Metrics) RecordAnalysisRequest() {
	if m == nil {
		return
	}
	m.AnalysisRequests.Inc()
}

// RecordAnalysisSuccess records a completed analysis and the levels it returned
func (m *Metrics) RecordAnalysisSuccess(durationSeconds float64, levels []string) {
	if m == nil {
		return
	}
	m.AnalysisDuration.Observe(durationSeconds)
	for _, level := range levels {
		m.RiskLevelsReturned.WithLabelValues(level).Inc()
	}
}

// RecordAnalysisFailure records a failed analysis
func (m *Metrics) RecordAnalysisFailure(reason string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AnalysisFailures.WithLabelValues(reason).Inc()
	m.AnalysisDuration.Observe(durationSeconds)
}

// RecordScoreClamped increments the clamped scores counter
func (m *Metrics) RecordScoreClamped() {
	if m == nil {
		return
	}
	m.ScoresClamped.Inc()
}

// RecordMissingConditions adds n absent conditions
func (m *Metrics) RecordMissingConditions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MissingConditions.Add(float64(n))
}

// RecordSpeechRequest increments the speech requests counter
func (m *Metrics) RecordSpeechRequest() {
	if m == nil {
		return
	}
	m.SpeechRequests.Inc()
}

// RecordSynthesis observes the duration of one synthesis call
func (m *Metrics) RecordSynthesis(durationSeconds float64) {
	if m == nil {
		return
	}
	m.SynthesisDuration.Observe(durationSeconds)
}

// RecordSpeechFailure records a failed speech report
func (m *Metrics) RecordSpeechFailure(reason string) {
	if m == nil {
		return
	}
	m.SpeechFailures.WithLabelValues(reason).Inc()
}

// RecordAudioDecoded records the size and length of a decoded payload
func (m *Metrics) RecordAudioDecoded(sizeBytes int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.AudioBytes.Observe(float64(sizeBytes))
	m.AudioDuration.Observe(durationSeconds)
}

// RecordPlaybackStarted records a new live handle
func (m *Metrics) RecordPlaybackStarted() {
	if m == nil {
		return
	}
	m.PlaybacksStarted.Inc()
	m.ActivePlaybacks.Inc()
}

// RecordPlaybackFinished records a handle reaching a final state
func (m *Metrics) RecordPlaybackFinished(state string) {
	if m == nil {
		return
	}
	m.PlaybacksFinished.WithLabelValues(state).Inc()
	m.ActivePlaybacks.Dec()
}

// RecordPlaybackSuperseded increments the superseded playbacks counter
func (m *Metrics) RecordPlaybackSuperseded() {
	if m == nil {
		return
	}
	m.PlaybacksSuperseded.Inc()
}

// SetActiveSessions sets the current number of sessions
func (m *Metrics) SetActiveSessions(count int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(count))
}

// RecordSessionCreated increments the sessions created counter
func (m *Metrics) RecordSessionCreated() {
	if m == nil {
		return
	}
	m.SessionsCreated.Inc()
}

// RecordSessionRemoved records a session's lifetime and whether it expired
func (m *Metrics) RecordSessionRemoved(durationSeconds float64, expired bool) {
	if m == nil {
		return
	}
	if expired {
		m.SessionsExpired.Inc()
	}
	m.SessionsDuration.Observe(durationSeconds)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
