package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uwase8/MedPredi/internal/clinical"
	"github.com/uwase8/MedPredi/internal/metrics"
	"github.com/uwase8/MedPredi/internal/playback"
	"github.com/uwase8/MedPredi/internal/speech"
	"github.com/uwase8/MedPredi/internal/store"
)

const (
	defaultTimeout         = 30 * time.Minute
	defaultCleanupInterval = 30 * time.Second
)

// ErrNoReport is returned by Speak when neither text nor a stored result is available
var ErrNoReport = errors.New("no clinical summary to speak")

// Analyzer produces a prediction for a patient record
type Analyzer interface {
	Analyze(ctx context.Context, record *clinical.PatientRecord) (*clinical.PredictionResult, error)
}

// Speaker plays a spoken report and owns at most one live playback
type Speaker interface {
	Speak(ctx context.Context, text string) (*playback.Handle, error)
	Current() *playback.Handle
	Stop()
	Close()
}

var _ Speaker = (*speech.Pipeline)(nil)

// SpeakerFactory creates the speaker of a new session
type SpeakerFactory func() (Speaker, error)

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	Timeout         time.Duration
	CleanupInterval time.Duration
	Analyzer        Analyzer
	Results         store.ResultStore
	NewSpeaker      SpeakerFactory
}

// Session is one dashboard session
type Session struct {
	ID           string
	StartTime    time.Time
	LastActivity time.Time

	voice   Speaker
	manager *Manager

	analyses uint64
	reports  uint64

	mu sync.RWMutex
}

// Info is a snapshot of a session for monitoring
type Info struct {
	ID           string         `json:"id"`
	StartTime    time.Time      `json:"start_time"`
	LastActivity time.Time      `json:"last_activity"`
	Duration     time.Duration  `json:"duration"`
	Analyses     uint64         `json:"analyses"`
	Reports      uint64         `json:"reports"`
	Playback     *playback.Info `json:"playback,omitempty"`
}

// Manager manages all dashboard sessions
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	metrics  *metrics.Metrics

	timeout         time.Duration
	cleanupInterval time.Duration

	analyzer   Analyzer
	results    store.ResultStore
	newSpeaker SpeakerFactory

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager and starts its cleanup routine
func NewManager(logger *slog.Logger, config ManagerConfig, m *metrics.Metrics) (*Manager, error) {
	if config.Analyzer == nil {
		return nil, fmt.Errorf("analyzer cannot be nil")
	}

	if config.Results == nil {
		return nil, fmt.Errorf("result store cannot be nil")
	}

	if config.NewSpeaker == nil {
		return nil, fmt.Errorf("speaker factory cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if config.Timeout <= 0 {
		config.Timeout = defaultTimeout
	}

	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	ctx, cancel := context.WithCancel(context.Background())

	mgr := &Manager{
		sessions:        make(map[string]*Session),
		logger:          logger,
		metrics:         m,
		timeout:         config.Timeout,
		cleanupInterval: config.CleanupInterval,
		analyzer:        config.Analyzer,
		results:         config.Results,
		newSpeaker:      config.NewSpeaker,
		ctx:             ctx,
		cancel:          cancel,
		cleanup:         make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// Session returns the session for id, creating it when needed. Only UUIDs are accepted
// as client-supplied ids; anything else gets a fresh session. The second return value
// reports whether the session was created by this call.
func (m *Manager) Session(id string) (*Session, bool, error) {
	id = strings.TrimSpace(id)
	if parsed, err := uuid.Parse(id); err == nil {
		id = parsed.String()
	} else {
		id = ""
	}

	if id != "" {
		m.mu.RLock()
		session, exists := m.sessions[id]
		m.mu.RUnlock()

		if exists {
			session.touch()
			return session, false, nil
		}
	} else {
		id = uuid.NewString()
	}

	return m.createSession(id)
}

func (m *Manager) createSession(id string) (*Session, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Another request may have created it while we were unlocked
	if existing, exists := m.sessions[id]; exists {
		existing.touch()
		return existing, false, nil
	}

	speaker, err := m.newSpeaker()
	if err != nil {
		return nil, false, fmt.Errorf("failed to create speech pipeline: %w", err)
	}

	now := time.Now()
	session := &Session{
		ID:           id,
		StartTime:    now,
		LastActivity: now,
		voice:        speaker,
		manager:      m,
	}
	m.sessions[id] = session

	m.metrics.RecordSessionCreated()
	m.metrics.SetActiveSessions(len(m.sessions))

	m.logger.Info("Session created",
		slog.String("session_id", id),
		slog.Int("active_sessions", len(m.sessions)))

	return session, true, nil
}

// GetActiveSessionCount returns the number of current sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of every session
func (m *Manager) GetAllSessions() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, session := range sessions {
		infos = append(infos, session.Info())
	}
	return infos
}

// RemoveSession stops the session's playback and deletes its stored result
func (m *Manager) RemoveSession(id string) bool {
	return m.removeSession(id, false)
}

func (m *Manager) removeSession(id string, expired bool) bool {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.finalize(session)

	m.metrics.RecordSessionRemoved(time.Since(session.StartTime).Seconds(), expired)
	m.metrics.SetActiveSessions(count)

	m.logger.Info("Session removed",
		slog.String("session_id", id),
		slog.Bool("expired", expired),
		slog.Duration("duration", time.Since(session.StartTime)),
		slog.Uint64("analyses", session.analysisCount()))

	return true
}

// finalize releases everything a session holds
func (m *Manager) finalize(session *Session) {
	session.voice.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := m.results.Delete(ctx, session.ID); err != nil {
		m.logger.Warn("Failed to delete session result",
			slog.String("session_id", session.ID),
			slog.String("error", err.Error()))
	}
}

// Stop closes every session's speaker and stops the cleanup routine
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	// Stored results are left to expire so a restarted instance can serve them
	for _, session := range sessions {
		session.voice.Close()
	}
	m.metrics.SetActiveSessions(0)

	m.logger.Info("Session manager stopped",
		slog.Int("closed_sessions", len(sessions)))
}

// startCleanupRoutine runs in a separate goroutine to remove idle sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.timeout),
		slog.Duration("check_interval", m.cleanupInterval))

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]string, 0)

	m.mu.RLock()
	for id, session := range m.sessions {
		if now.Sub(session.lastActivity()) > m.timeout {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	m.logger.Info("Cleaning up expired sessions",
		slog.Int("expired_count", len(expired)))

	for _, id := range expired {
		m.removeSession(id, true)
	}
}

// Analyze runs a risk analysis and stores the result as the session's latest.
// A failed analysis leaves the previous result in place.
func (s *Session) Analyze(ctx context.Context, record *clinical.PatientRecord) (*clinical.PredictionResult, error) {
	s.touch()

	result, err := s.manager.analyzer.Analyze(ctx, record)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.analyses++
	s.mu.Unlock()

	if err := s.manager.results.Put(ctx, s.ID, result); err != nil {
		return nil, fmt.Errorf("failed to store result: %w", err)
	}

	return result, nil
}

// Result returns the session's latest result or store.ErrNotFound
func (s *Session) Result(ctx context.Context) (*clinical.PredictionResult, error) {
	s.touch()
	return s.manager.results.Get(ctx, s.ID)
}

// ClearResult forgets the session's latest result
func (s *Session) ClearResult(ctx context.Context) error {
	s.touch()
	return s.manager.results.Delete(ctx, s.ID)
}

// Speak plays text as a spoken report, replacing any report still playing. Blank text
// falls back to the clinical summary of the stored result.
func (s *Session) Speak(ctx context.Context, text string) (*playback.Handle, error) {
	s.touch()

	if strings.TrimSpace(text) == "" {
		result, err := s.manager.results.Get(ctx, s.ID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoReport
		}
		if err != nil {
			return nil, err
		}
		text = result.ClinicalSummary
	}

	h, err := s.voice.Speak(ctx, text)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.reports++
	s.mu.Unlock()

	return h, nil
}

// Playback returns the session's most recent playback, or nil
func (s *Session) Playback() *playback.Handle {
	s.touch()
	return s.voice.Current()
}

// StopSpeech stops the session's playback; it is a no-op when nothing plays
func (s *Session) StopSpeech() {
	s.touch()
	s.voice.Stop()
}

// Info returns a snapshot of the session
func (s *Session) Info() Info {
	h := s.voice.Current()

	s.mu.RLock()
	defer s.mu.RUnlock()

	info := Info{
		ID:           s.ID,
		StartTime:    s.StartTime,
		LastActivity: s.LastActivity,
		Duration:     time.Since(s.StartTime),
		Analyses:     s.analyses,
		Reports:      s.reports,
	}

	if h != nil {
		playbackInfo := h.Info()
		info.Playback = &playbackInfo
	}

	return info
}

func (s *Session) touch() {
	s.mu.Lock()
	s.LastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) lastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivity
}

func (s *Session) analysisCount() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.analyses
}
