package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uwase8/MedPredi/internal/analysis"
	"github.com/uwase8/MedPredi/internal/config"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/metrics"
	"github.com/uwase8/MedPredi/internal/session"
)

const (
	serviceName    = "medpredi"
	serviceVersion = "1.0.0"
)

// UpstreamStats reports provider request statistics
type UpstreamStats interface {
	GetStats() genai.ClientStats
}

// HTTPServer serves the dashboard API and the monitoring endpoints
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	logger   *slog.Logger
	config   *config.Config
	sessions *session.Manager
	analysis *analysis.Client
	upstream UpstreamStats
	gatherer prometheus.Gatherer
	limiter  *IPRateLimiter
	trusted  []netip.Prefix
	metrics  *metrics.Metrics

	startTime time.Time
}

// NewHTTPServer creates a new HTTP API server. upstream may be nil when the provider
// keeps no statistics; gatherer defaults to the global prometheus registry.
func NewHTTPServer(appConfig *config.Config, logger *slog.Logger, sessions *session.Manager,
	analysisClient *analysis.Client, upstream UpstreamStats, gatherer prometheus.Gatherer, m *metrics.Metrics) *HTTPServer {

	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		sessions:  sessions,
		analysis:  analysisClient,
		upstream:  upstream,
		gatherer:  gatherer,
		metrics:   m,
		startTime: time.Now(),
	}

	// Validate has already rejected malformed entries
	h.trusted, _ = appConfig.HTTP.TrustedProxyPrefixes()

	if appConfig.HTTP.RateLimit > 0 {
		h.limiter = NewIPRateLimiter(appConfig.HTTP.RateLimit, appConfig.HTTP.RateBurst, h.trusted...)
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.router,
		ReadTimeout:  appConfig.HTTP.GetReadTimeoutDuration(),
		WriteTimeout: appConfig.HTTP.GetWriteTimeoutDuration(),
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// Handler returns the root handler
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: h.config.HTTP.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", SessionHeader},
		ExposedHeaders: []string{SessionHeader},
		MaxAge:         300,
	}))

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/sessions", h.withMetrics("/sessions", h.handleSessions))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware)
		}

		r.Get("/risk-levels", h.withMetrics("/api/v1/risk-levels", h.handleRiskLevels))
		r.Get("/patient/default", h.withMetrics("/api/v1/patient/default", h.handleDefaultPatient))

		r.Group(func(r chi.Router) {
			r.Use(h.withSession)

			r.Post("/analyze", h.withMetrics("/api/v1/analyze", h.handleAnalyze))
			r.Get("/result", h.withMetrics("/api/v1/result", h.handleGetResult))
			r.Delete("/result", h.withMetrics("/api/v1/result", h.handleDeleteResult))
			r.Post("/speech", h.withMetrics("/api/v1/speech", h.handleSpeak))
			r.Get("/speech", h.withMetrics("/api/v1/speech", h.handleGetSpeech))
			r.Delete("/speech", h.withMetrics("/api/v1/speech", h.handleStopSpeech))
			r.Get("/speech/audio.wav", h.withMetrics("/api/v1/speech/audio.wav", h.handleSpeechAudio))
			r.Delete("/session", h.withMetrics("/api/v1/session", h.handleEndSession))
		})
	})

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
		slog.Bool("rate_limited", h.limiter != nil),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	analysisStats := h.analysis.GetStats()

	components := map[string]interface{}{
		"sessions": map[string]interface{}{
			"status":          "running",
			"active_sessions": h.sessions.GetActiveSessionCount(),
		},
		"analysis": map[string]interface{}{
			"status":          "running",
			"total_requests":  analysisStats.TotalRequests,
			"failed_requests": analysisStats.FailedRequests,
		},
	}

	upstream := map[string]interface{}{
		"status":   "configured",
		"provider": h.config.Provider,
	}
	if h.upstream != nil {
		stats := h.upstream.GetStats()
		upstream["total_requests"] = stats.TotalRequests
		upstream["success_rate"] = stats.SuccessRate
		upstream["active_requests"] = stats.ActiveRequests
	}
	components["upstream"] = upstream

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]interface{}{
			"name":    serviceName,
			"version": serviceVersion,
		},
		"components": components,
	}

	writeJSON(w, http.StatusOK, health)
}

// handleSessions lists all active sessions
func (h *HTTPServer) handleSessions(w http.ResponseWriter, r *http.Request) {
	infos := h.sessions.GetAllSessions()

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"total_sessions": len(infos),
		"timestamp":      time.Now().UTC(),
		"sessions":       infos,
	})
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// Credentials are intentionally omitted
	sanitizedConfig := map[string]interface{}{
		"http": map[string]interface{}{
			"port":            c.HTTP.Port,
			"address":         c.HTTP.Address,
			"read_timeout":    c.HTTP.ReadTimeout,
			"write_timeout":   c.HTTP.WriteTimeout,
			"cors_origins":    c.HTTP.CORSOrigins,
			"rate_limit":      c.HTTP.RateLimit,
			"rate_burst":      c.HTTP.RateBurst,
			"trusted_proxies": c.HTTP.TrustedProxies,
		},
		"provider": c.Provider,
		"genai": map[string]interface{}{
			"base_url":            c.GenAI.BaseURL,
			"analysis_model":      c.GenAI.AnalysisModel,
			"speech_model":        c.GenAI.SpeechModel,
			"voice":               c.GenAI.Voice,
			"timeout":             c.GenAI.Timeout,
			"max_retries":         c.GenAI.MaxRetries,
			"max_concurrent":      c.GenAI.MaxConcurrent,
			"requests_per_second": c.GenAI.RequestsPerSecond,
		},
		"openai": map[string]interface{}{
			"base_url":       c.OpenAI.BaseURL,
			"analysis_model": c.OpenAI.AnalysisModel,
			"speech_model":   c.OpenAI.SpeechModel,
			"voice":          c.OpenAI.Voice,
			"timeout":        c.OpenAI.Timeout,
		},
		"analysis": map[string]interface{}{
			"score_policy": h.analysis.GetStats().ScorePolicy,
			"timeout":      c.Analysis.Timeout,
		},
		"audio": map[string]interface{}{
			"sample_rate":    c.Audio.SampleRate,
			"channels":       c.Audio.Channels,
			"bit_depth":      c.Audio.BitDepth,
			"framing_prefix": c.Audio.FramingPrefix,
		},
		"playback": map[string]interface{}{
			"device":     c.Playback.Device,
			"output_dir": c.Playback.OutputDir,
			"realtime":   c.Playback.Realtime,
			"period_ms":  c.Playback.PeriodMs,
		},
		"session": map[string]interface{}{
			"timeout":          c.Session.Timeout,
			"cleanup_interval": c.Session.CleanupInterval,
		},
		"store": map[string]interface{}{
			"backend":    c.Store.Backend,
			"addr":       c.Store.Addr,
			"db":         c.Store.DB,
			"key_prefix": c.Store.KeyPrefix,
		},
		"logging": map[string]interface{}{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitizedConfig)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
		"analysis":  h.analysis.GetStats(),
		"sessions": map[string]interface{}{
			"active_count": h.sessions.GetActiveSessionCount(),
		},
	}

	if h.limiter != nil {
		stats["rate_limiter"] = map[string]interface{}{
			"tracked_clients": h.limiter.Len(),
		}
	}

	if h.upstream != nil {
		stats["upstream"] = h.upstream.GetStats()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	apiDoc := map[string]interface{}{
		"service": "MedPredi Clinical Risk Service",
		"version": serviceVersion,
		"session": fmt.Sprintf("API routes under /api/v1 carry the session in the %s header", SessionHeader),
		"endpoints": map[string]interface{}{
			"GET /":                        "API documentation",
			"GET /health":                  "Service health check",
			"GET /config":                  "Get service configuration",
			"GET /stats":                   "Get service statistics",
			"GET /sessions":                "List active sessions",
			"GET /metrics":                 "Prometheus metrics",
			"GET /api/v1/risk-levels":      "Risk level presentation table",
			"GET /api/v1/patient/default":  "Default patient record for the input form",
			"POST /api/v1/analyze":         "Analyze a patient record",
			"GET /api/v1/result":           "Latest result of the session",
			"DELETE /api/v1/result":        "Clear the session's result",
			"POST /api/v1/speech":          "Speak a clinical report",
			"GET /api/v1/speech":           "Current playback status",
			"DELETE /api/v1/speech":        "Stop the current playback",
			"GET /api/v1/speech/audio.wav": "Audio of the current playback",
			"DELETE /api/v1/session":       "End the session",
		},
		"timestamp": time.Now().UTC(),
	}

	writeJSON(w, http.StatusOK, apiDoc)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// errorResponse is the body of every failed API call
type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}
