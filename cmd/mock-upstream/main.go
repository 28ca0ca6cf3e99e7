// Command mock-upstream serves a fake generateContent endpoint so the service can be run
// and exercised locally without provider credentials.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/uwase8/MedPredi/internal/audio"
	"github.com/uwase8/MedPredi/internal/genai"
)

// Modes select what the fake returns
const (
	modeOK    = "ok"
	modeEmpty = "empty"
	modeError = "error"
)

const samplePrediction = `{
  "risks": [
    {"disease": "Cardiovascular Disease", "riskScore": 24, "riskLevel": "Low", "reasoning": "Blood pressure and cholesterol are within normal limits."},
    {"disease": "Type 2 Diabetes", "riskScore": 31, "riskLevel": "Moderate", "reasoning": "BMI is slightly elevated while fasting glucose is normal."},
    {"disease": "Hypertension", "riskScore": 38, "riskLevel": "Moderate", "reasoning": "Age and activity level contribute modestly."},
    {"disease": "Chronic Kidney Disease", "riskScore": 12, "riskLevel": "Low", "reasoning": "No diabetes or hypertension diagnosis."}
  ],
  "clinicalSummary": "The patient has a low to moderate overall risk profile with no urgent findings.",
  "recommendations": ["Recheck blood pressure in six months", "Increase weekly physical activity", "Annual fasting glucose test"]
}`

type mockServer struct {
	mode    string
	latency time.Duration
	sample  []int16 // recorded speech returned instead of the tone when set
	logger  *slog.Logger
}

func (m *mockServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/v1beta/models/*", m.handleGenerateContent)
	return r
}

func (m *mockServer) handleGenerateContent(w http.ResponseWriter, r *http.Request) {
	model, action, ok := strings.Cut(chi.URLParam(r, "*"), ":")
	if !ok || action != "generateContent" {
		http.NotFound(w, r)
		return
	}

	if r.Header.Get("x-goog-api-key") == "" {
		writeAPIError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "API key not valid. Please pass a valid API key.")
		return
	}

	var request genai.GenerateContentRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeAPIError(w, http.StatusBadRequest, "INVALID_ARGUMENT", "Invalid JSON payload received.")
		return
	}

	speech := request.GenerationConfig != nil && len(request.GenerationConfig.ResponseModalities) > 0
	text := requestText(&request)

	m.logger.Info("generateContent request received",
		slog.String("model", model),
		slog.Bool("speech", speech),
		slog.Int("text_length", len(text)),
		slog.String("mode", m.mode))

	time.Sleep(m.latency)

	if m.mode == modeError {
		writeAPIError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "The model is overloaded. Please try again later.")
		return
	}

	var part genai.Part
	switch {
	case m.mode == modeEmpty:
		part = genai.Part{}
	case speech:
		part = genai.Part{InlineData: &genai.InlineData{
			MIMEType: "audio/L16;codec=pcm;rate=24000",
			Data:     base64.StdEncoding.EncodeToString(audio.EncodePCM16(speechTone(text))),
		}}
	default:
		part = genai.Part{Text: samplePrediction}
	}

	response := genai.GenerateContentResponse{
		Candidates: []genai.Candidate{{
			Content:      &genai.Content{Role: "model", Parts: []genai.Part{part}},
			FinishReason: "STOP",
		}},
		ModelVersion: model,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func requestText(request *genai.GenerateContentRequest) string {
	var sb strings.Builder
	for _, content := range request.Contents {
		for _, part := range content.Parts {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func (m *mockServer) speech(text string) []int16 {
	if m.sample != nil {
		return m.sample
	}
	return speechTone(text)
}

// loadSample reads a recorded report. It must already be in the wire format the
// service expects, so no resampling happens here.
func loadSample(path string) ([]int16, *audio.WAVInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read sample %s: %w", path, err)
	}

	info, err := audio.GetWAVInfo(data)
	if err != nil {
		return nil, nil, fmt.Errorf("sample %s: %w", path, err)
	}

	if info.SampleRate != audio.DefaultSampleRate || info.Channels != audio.DefaultChannels || info.BitsPerSample != audio.BitDepth {
		return nil, nil, fmt.Errorf("sample %s must be %d Hz mono 16-bit, got %d Hz %d channels %d-bit",
			path, audio.DefaultSampleRate, info.SampleRate, info.Channels, info.BitsPerSample)
	}

	buf, err := audio.DecodeWAV(data)
	if err != nil {
		return nil, nil, fmt.Errorf("sample %s: %w", path, err)
	}

	return buf.PCM16(), info, nil
}

// speechTone renders a quiet 220 Hz tone lasting about 60ms per word, capped at 10s
func speechTone(text string) []int16 {
	words := len(strings.Fields(text))
	duration := time.Duration(words) * 60 * time.Millisecond
	duration = min(max(duration, 500*time.Millisecond), 10*time.Second)

	n := int(duration.Seconds() * audio.DefaultSampleRate)
	samples := make([]int16, n)
	for i := range samples {
		samples[i] = int16(4000 * math.Sin(2*math.Pi*220*float64(i)/audio.DefaultSampleRate))
	}
	return samples
}

func writeAPIError(w http.ResponseWriter, code int, status, message string) {
	var body genai.APIError
	body.Error.Code = code
	body.Error.Status = status
	body.Error.Message = message

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func main() {
	addr := flag.String("addr", ":9000", "Listen address")
	mode := flag.String("mode", modeOK, "Response mode: ok, empty or error")
	latency := flag.Duration("latency", 200*time.Millisecond, "Simulated model latency")
	samplePath := flag.String("sample", "", "Optional 24 kHz mono WAV returned as synthesized speech")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	switch *mode {
	case modeOK, modeEmpty, modeError:
	default:
		logger.Error("Unknown mode", slog.String("mode", *mode))
		os.Exit(1)
	}

	m := &mockServer{mode: *mode, latency: *latency, logger: logger}

	if *samplePath != "" {
		sample, info, err := loadSample(*samplePath)
		if err != nil {
			logger.Error("Failed to load speech sample", slog.String("error", err.Error()))
			os.Exit(1)
		}
		m.sample = sample
		logger.Info("Speech sample loaded",
			slog.String("path", *samplePath),
			slog.Float64("duration_seconds", info.Duration),
			slog.Uint64("frames", uint64(info.NumFrames)))
	}

	logger.Info("Mock upstream starting",
		slog.String("addr", *addr),
		slog.String("base_url", "http://localhost"+*addr+"/v1beta"),
		slog.String("mode", *mode))

	if err := http.ListenAndServe(*addr, m.routes()); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
