package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/uwase8/MedPredi/internal/analysis"
	"github.com/uwase8/MedPredi/internal/audio"
	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/session"
	"github.com/uwase8/MedPredi/internal/speech"
	"github.com/uwase8/MedPredi/internal/store"
)

// SessionHeader carries the dashboard session id in both directions
const SessionHeader = "X-Session-ID"

const maxBodyBytes = 64 << 10

type sessionKey struct{}

// withSession resolves the caller's session and echoes its id back
func (h *HTTPServer) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, created, err := h.sessions.Session(r.Header.Get(SessionHeader))
		if err != nil {
			h.logger.Error("Failed to resolve session",
				slog.String("request_id", middleware.GetReqID(r.Context())),
				slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to create session")
			return
		}

		if created {
			h.logger.Debug("New dashboard session",
				slog.String("session_id", sess.ID),
				slog.String("client_ip", clientIP(r, h.trusted)))
		}

		w.Header().Set(SessionHeader, sess.ID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *session.Session {
	sess, _ := r.Context().Value(sessionKey{}).(*session.Session)
	return sess
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched when
// allowEmpty is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}, allowEmpty bool) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return err
	}
	return nil
}

// handleRiskLevels returns the level presentation table
func (h *HTTPServer) handleRiskLevels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"levels": clinical.LevelStyles(),
	})
}

// handleDefaultPatient returns the record the input form starts from
func (h *HTTPServer) handleDefaultPatient(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, clinical.DefaultPatientRecord())
}

// handleAnalyze implements POST /api/v1/analyze
func (h *HTTPServer) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var record clinical.PatientRecord
	if err := decodeBody(w, r, &record, false); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	sess := sessionFrom(r)
	result, err := sess.Analyze(r.Context(), &record)
	if err != nil {
		h.writeAnalysisError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPServer) writeAnalysisError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		inputErr      *clinical.InputError
		validationErr *analysis.ValidationError
		analysisErr   *analysis.AnalysisError
	)

	switch {
	case errors.As(err, &inputErr):
		writeError(w, http.StatusBadRequest, inputErr.Error())
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Error:  "The prediction returned by the model was invalid. Please try again.",
			Detail: validationErr.Error(),
		})
	case errors.As(err, &analysisErr):
		writeJSON(w, http.StatusBadGateway, errorResponse{
			Error:  "Failed to generate prediction. Please check your API key and try again.",
			Detail: analysisErr.Error(),
		})
	default:
		h.logger.Error("Analysis request failed",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to store prediction")
	}
}

// handleGetResult implements GET /api/v1/result
func (h *HTTPServer) handleGetResult(w http.ResponseWriter, r *http.Request) {
	result, err := sessionFrom(r).Result(r.Context())
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "No result for this session")
		return
	}
	if err != nil {
		h.logger.Error("Failed to load result", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to load result")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// handleDeleteResult implements DELETE /api/v1/result
func (h *HTTPServer) handleDeleteResult(w http.ResponseWriter, r *http.Request) {
	if err := sessionFrom(r).ClearResult(r.Context()); err != nil {
		h.logger.Error("Failed to clear result", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to clear result")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type speakRequest struct {
	Text string `json:"text"`
}

// handleSpeak implements POST /api/v1/speech
func (h *HTTPServer) handleSpeak(w http.ResponseWriter, r *http.Request) {
	var req speakRequest
	if err := decodeBody(w, r, &req, true); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	handle, err := sessionFrom(r).Speak(r.Context(), req.Text)
	if err != nil {
		var audioErr *speech.AudioError
		switch {
		case errors.Is(err, session.ErrNoReport):
			writeError(w, http.StatusNotFound, "No clinical summary to speak. Run an analysis first.")
		case errors.Is(err, speech.ErrEmptyText):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, speech.ErrClosed):
			writeError(w, http.StatusConflict, "Session has ended")
		case errors.As(err, &audioErr):
			writeJSON(w, http.StatusBadGateway, errorResponse{
				Error:  "Audio playback failed.",
				Detail: audioErr.Error(),
			})
		default:
			h.logger.Error("Speech request failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "Failed to speak report")
		}
		return
	}

	writeJSON(w, http.StatusCreated, handle.Info())
}

// handleGetSpeech implements GET /api/v1/speech
func (h *HTTPServer) handleGetSpeech(w http.ResponseWriter, r *http.Request) {
	handle := sessionFrom(r).Playback()
	if handle == nil {
		writeError(w, http.StatusNotFound, "No playback for this session")
		return
	}

	writeJSON(w, http.StatusOK, handle.Info())
}

// handleStopSpeech implements DELETE /api/v1/speech
func (h *HTTPServer) handleStopSpeech(w http.ResponseWriter, r *http.Request) {
	sessionFrom(r).StopSpeech()
	w.WriteHeader(http.StatusNoContent)
}

// handleSpeechAudio serves the current playback's buffer as a WAV file
func (h *HTTPServer) handleSpeechAudio(w http.ResponseWriter, r *http.Request) {
	handle := sessionFrom(r).Playback()
	if handle == nil {
		writeError(w, http.StatusNotFound, "No playback for this session")
		return
	}

	data, err := audio.EncodeBufferWAV(handle.Buffer())
	if err != nil {
		h.logger.Error("Failed to encode playback audio",
			slog.String("playback_id", handle.ID()),
			slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to encode audio")
		return
	}

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf("inline; filename=%q", handle.ID()+".wav"))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// handleEndSession implements DELETE /api/v1/session
func (h *HTTPServer) handleEndSession(w http.ResponseWriter, r *http.Request) {
	h.sessions.RemoveSession(sessionFrom(r).ID)
	w.WriteHeader(http.StatusNoContent)
}
