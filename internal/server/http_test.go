package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwase8/MedPredi/internal/analysis"
	"github.com/uwase8/MedPredi/internal/audio"
	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/config"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/metrics"
	"github.com/uwase8/MedPredi/internal/playback"
	"github.com/uwase8/MedPredi/internal/session"
	"github.com/uwase8/MedPredi/internal/speech"
	"github.com/uwase8/MedPredi/internal/store"
)

const predictionJSON = `{
  "risks": [
    {"disease": "Cardiovascular Disease", "riskScore": 18, "riskLevel": "Low", "reasoning": "Normal lipids."},
    {"disease": "Type 2 Diabetes", "riskScore": 22, "riskLevel": "Low", "reasoning": "Normal glucose."},
    {"disease": "Hypertension", "riskScore": 35, "riskLevel": "Moderate", "reasoning": "Age."},
    {"disease": "CKD", "riskScore": 10, "riskLevel": "Low", "reasoning": "None."}
  ],
  "clinicalSummary": "Overall low risk profile.",
  "recommendations": ["Annual blood pressure check"]
}`

type fakeGenerator struct {
	mu   sync.Mutex
	text string
	err  error
}

func (f *fakeGenerator) GenerateJSON(ctx context.Context, prompt string, schema *genai.Schema) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.text, f.err
}

func (f *fakeGenerator) set(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.text, f.err = text, err
}

type fakeSynth struct {
	data *genai.InlineData
}

func (f *fakeSynth) SynthesizeSpeech(ctx context.Context, text, voice string) (*genai.InlineData, error) {
	return f.data, nil
}

func testConfig() config.Config {
	return config.Config{
		HTTP: config.HTTPConfig{
			Port:         8080,
			Address:      "127.0.0.1",
			ReadTimeout:  10,
			WriteTimeout: 60,
			CORSOrigins:  []string{"http://localhost:5173"},
		},
		Provider: config.ProviderGemini,
		GenAI: config.GenAIConfig{
			APIKey:        "test-secret-key",
			AnalysisModel: "analysis-model",
			SpeechModel:   "speech-model",
			Timeout:       30,
			MaxConcurrent: 1,
		},
		Audio:    config.AudioConfig{SampleRate: 24000, Channels: 1, BitDepth: 16},
		Playback: config.PlaybackConfig{Device: "null", Realtime: true, PeriodMs: 20},
		Session:  config.SessionConfig{Timeout: 60, CleanupInterval: 10},
		Store:    config.StoreConfig{Backend: "memory"},
		Logging:  config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

type testEnv struct {
	server   *HTTPServer
	handler  http.Handler
	gen      *fakeGenerator
	synth    *fakeSynth
	sessions *session.Manager
}

func newTestEnv(t *testing.T, mutate func(c *config.Config)) *testEnv {
	t.Helper()

	cfg := testConfig()
	if mutate != nil {
		mutate(&cfg)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)

	gen := &fakeGenerator{text: predictionJSON}
	// 10 seconds of audio paced in real time keeps the playback live during a test
	synth := &fakeSynth{data: &genai.InlineData{
		MIMEType: "audio/L16;codec=pcm;rate=24000",
		Data:     base64.StdEncoding.EncodeToString(audio.EncodePCM16(make([]int16, audio.DefaultSampleRate*10))),
	}}

	client, err := analysis.NewClient(gen, logger, analysis.Options{}, m)
	require.NoError(t, err)

	mgr, err := session.NewManager(logger, session.ManagerConfig{
		Analyzer: client,
		Results:  store.NewMemoryStore(0),
		NewSpeaker: func() (session.Speaker, error) {
			return speech.NewPipeline(synth, playback.NullDevice{}, logger, speech.Config{Realtime: true}, m)
		},
	}, m)
	require.NoError(t, err)
	t.Cleanup(mgr.Stop)

	srv := NewHTTPServer(&cfg, logger, mgr, client, nil, reg, m)

	return &testEnv{
		server:   srv,
		handler:  srv.Handler(),
		gen:      gen,
		synth:    synth,
		sessions: mgr,
	}
}

func (e *testEnv) do(method, path, body, sessionID string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}

	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "192.0.2.1:4321"
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if sessionID != "" {
		req.Header.Set(SessionHeader, sessionID)
	}

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func defaultRecordJSON(t *testing.T) string {
	t.Helper()
	data, err := json.Marshal(clinical.DefaultPatientRecord())
	require.NoError(t, err)
	return string(data)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	var health map[string]interface{}
	decode(t, rec, &health)
	assert.Equal(t, "healthy", health["status"])
	assert.Contains(t, health, "components")
}

func TestRootAndUnknownRoutes(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "POST /api/v1/analyze")

	rec = env.do(http.MethodGet, "/nope", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPut, "/api/v1/analyze", "{}", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestConfigEndpointOmitsCredentials(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/config", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), "test-secret-key")
	assert.Contains(t, rec.Body.String(), `"score_policy":"reject"`)
}

func TestAnalyzeAndFetchResult(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/analyze", defaultRecordJSON(t), "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	sessionID := rec.Header().Get(SessionHeader)
	_, err := uuid.Parse(sessionID)
	require.NoError(t, err)

	var result clinical.PredictionResult
	decode(t, rec, &result)
	assert.Len(t, result.Risks, 4)
	assert.Equal(t, "Overall low risk profile.", result.ClinicalSummary)

	rec = env.do(http.MethodGet, "/api/v1/result", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, sessionID, rec.Header().Get(SessionHeader))

	var stored clinical.PredictionResult
	decode(t, rec, &stored)
	assert.Equal(t, result, stored)

	// Another session sees nothing
	rec = env.do(http.MethodGet, "/api/v1/result", "", uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodDelete, "/api/v1/result", "", sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/result", "", sessionID)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAnalyzeErrors(t *testing.T) {
	invalidRecord := clinical.DefaultPatientRecord()
	invalidRecord.Age = 0
	invalidJSON, err := json.Marshal(invalidRecord)
	require.NoError(t, err)

	outOfRange := strings.Replace(predictionJSON, `"riskScore": 18`, `"riskScore": 150`, 1)

	tests := []struct {
		name      string
		body      string
		genText   string
		genErr    error
		status    int
		errorText string
	}{
		{
			name:      "malformed body",
			body:      "{not json",
			status:    http.StatusBadRequest,
			errorText: "Invalid request body",
		},
		{
			name:      "invalid record",
			body:      string(invalidJSON),
			status:    http.StatusBadRequest,
			errorText: "age",
		},
		{
			name:      "upstream failure",
			genErr:    errors.New("401 unauthorized"),
			status:    http.StatusBadGateway,
			errorText: "check your API key",
		},
		{
			name:      "no model output",
			genText:   "",
			status:    http.StatusBadGateway,
			errorText: "Failed to generate prediction",
		},
		{
			name:      "score out of range",
			genText:   outOfRange,
			status:    http.StatusUnprocessableEntity,
			errorText: "invalid",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			env.gen.set(tt.genText, tt.genErr)

			body := tt.body
			if body == "" {
				body = defaultRecordJSON(t)
			}

			rec := env.do(http.MethodPost, "/api/v1/analyze", body, "")
			assert.Equal(t, tt.status, rec.Code)

			var resp errorResponse
			decode(t, rec, &resp)
			assert.Contains(t, resp.Error, tt.errorText)

			// A failed analysis stores nothing
			rec = env.do(http.MethodGet, "/api/v1/result", "", rec.Header().Get(SessionHeader))
			assert.Equal(t, http.StatusNotFound, rec.Code)
		})
	}
}

func TestSpeechLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	// Nothing to speak yet
	rec := env.do(http.MethodPost, "/api/v1/speech", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	sessionID := rec.Header().Get(SessionHeader)

	rec = env.do(http.MethodGet, "/api/v1/speech", "", sessionID)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/analyze", defaultRecordJSON(t), sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/speech", "", sessionID)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var info playback.Info
	decode(t, rec, &info)
	assert.Equal(t, playback.StatePlaying, info.State)
	assert.Equal(t, audio.DefaultSampleRate, info.Buffer.SampleRate)

	rec = env.do(http.MethodGet, "/api/v1/speech", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/speech/audio.wav", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "audio/wav", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("RIFF")))
	require.NoError(t, audio.ValidateWAV(rec.Body.Bytes()))

	rec = env.do(http.MethodDelete, "/api/v1/speech", "", sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = env.do(http.MethodDelete, "/api/v1/speech", "", sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(http.MethodGet, "/api/v1/speech", "", sessionID)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &info)
	assert.Equal(t, playback.StateStopped, info.State)
}

func TestSpeechWithExplicitText(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodPost, "/api/v1/speech", `{"text": "Patient is stable."}`, "")
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(http.MethodPost, "/api/v1/speech", `{"text": 5}`, "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSpeechWithoutAudio(t *testing.T) {
	env := newTestEnv(t, nil)
	env.synth.data = nil

	rec := env.do(http.MethodPost, "/api/v1/speech", `{"text": "Patient is stable."}`, "")
	require.Equal(t, http.StatusBadGateway, rec.Code)

	var resp errorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Audio playback failed.", resp.Error)
	assert.Contains(t, resp.Detail, "no audio data returned")
}

func TestEndSession(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/result", "", "")
	sessionID := rec.Header().Get(SessionHeader)
	assert.Equal(t, 1, env.sessions.GetActiveSessionCount())

	rec = env.do(http.MethodDelete, "/api/v1/session", "", sessionID)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.sessions.GetActiveSessionCount())

	rec = env.do(http.MethodGet, "/sessions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total_sessions":0`)
}

func TestRiskLevelsAndDefaultPatient(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(http.MethodGet, "/api/v1/risk-levels", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var levels struct {
		Levels []clinical.LevelStyle `json:"levels"`
	}
	decode(t, rec, &levels)
	require.Len(t, levels.Levels, 4)
	assert.Equal(t, clinical.RiskCritical, levels.Levels[3].Level)
	assert.Equal(t, 3, levels.Levels[3].Severity)

	// Static routes do not create sessions
	assert.Empty(t, rec.Header().Get(SessionHeader))

	rec = env.do(http.MethodGet, "/api/v1/patient/default", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var record clinical.PatientRecord
	decode(t, rec, &record)
	assert.Equal(t, clinical.DefaultPatientRecord(), record)
}

func TestAPIRateLimit(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.HTTP.RateLimit = 1
		c.HTTP.RateBurst = 2
	})

	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/risk-levels", "", "").Code)
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/api/v1/risk-levels", "", "").Code)

	rec := env.do(http.MethodGet, "/api/v1/risk-levels", "", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// Monitoring endpoints are not limited
	assert.Equal(t, http.StatusOK, env.do(http.MethodGet, "/health", "", "").Code)
}

func TestAPIRateLimitKeysOnPeer(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.HTTP.RateLimit = 1
		c.HTTP.RateBurst = 1
	})

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/risk-levels", nil)
		req.RemoteAddr = "192.0.2.50:4321"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	for n := 2; n < 20; n++ {
		assert.Equal(t, http.StatusTooManyRequests, send(fmt.Sprintf("203.0.113.%d", n)))
	}
	assert.Equal(t, 1, env.server.limiter.Len())
}

func TestAPIRateLimitBehindTrustedProxy(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.HTTP.RateLimit = 1
		c.HTTP.RateBurst = 1
		c.HTTP.TrustedProxies = []string{"10.0.0.0/8"}
	})

	send := func(forwardedFor string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/risk-levels", nil)
		req.RemoteAddr = "10.1.2.3:4321"
		req.Header.Set("X-Forwarded-For", forwardedFor)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.1"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.1"))
	// A different client behind the same proxy has its own bucket
	assert.Equal(t, http.StatusOK, send("203.0.113.2"))
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-Session-ID")

	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/analyze", nil)
	req.Header.Set("Origin", "http://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(http.MethodPost, "/api/v1/analyze", defaultRecordJSON(t), "")

	rec := env.do(http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "medpredi_http_requests_total")
	assert.Contains(t, body, `endpoint="/api/v1/analyze"`)
	assert.Contains(t, body, "medpredi_analysis_requests_total 1")
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, nil)

	env.do(http.MethodPost, "/api/v1/analyze", defaultRecordJSON(t), "")

	rec := env.do(http.MethodGet, "/stats", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats struct {
		Analysis analysis.ClientStats `json:"analysis"`
	}
	decode(t, rec, &stats)
	assert.Equal(t, uint64(1), stats.Analysis.SuccessRequests)
}
