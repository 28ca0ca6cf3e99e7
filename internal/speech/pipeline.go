package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/uwase8/MedPredi/internal/audio"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/metrics"
	"github.com/uwase8/MedPredi/internal/playback"
)

// DefaultFramingPrefix is prepended to every report before synthesis
const DefaultFramingPrefix = "Clinical Report: "

var (
	// ErrNoAudio means the synthesis service returned no inline audio payload
	ErrNoAudio = errors.New("no audio data returned")

	// ErrDecode means the payload is not valid base64 PCM-16
	ErrDecode = errors.New("audio payload could not be decoded")

	// ErrEmptyText is returned before any request when there is nothing to say
	ErrEmptyText = errors.New("speech text cannot be empty")

	// ErrClosed is returned by Speak after Close
	ErrClosed = errors.New("speech pipeline is closed")
)

// AudioError reports a failed speech report
type AudioError struct {
	Err error
}

func (e *AudioError) Error() string {
	return fmt.Sprintf("speech failed: %v", e.Err)
}

func (e *AudioError) Unwrap() error {
	return e.Err
}

// Synthesizer renders text as speech. A nil payload with a nil error means the
// service returned no audio.
type Synthesizer interface {
	SynthesizeSpeech(ctx context.Context, text, voice string) (*genai.InlineData, error)
}

// Config contains pipeline configuration
type Config struct {
	Voice         string
	FramingPrefix string
	SampleRate    int
	Channels      int
	Realtime      bool
	Period        time.Duration
}

// Pipeline turns report text into a live playback
type Pipeline struct {
	synth   Synthesizer
	device  playback.Device
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	current *playback.Handle
	closed  bool
}

// NewPipeline creates a pipeline that plays on device
func NewPipeline(synth Synthesizer, device playback.Device, logger *slog.Logger, config Config, m *metrics.Metrics) (*Pipeline, error) {
	if synth == nil {
		return nil, fmt.Errorf("synthesizer cannot be nil")
	}

	if device == nil {
		return nil, fmt.Errorf("playback device cannot be nil")
	}

	if logger == nil {
		logger = slog.Default()
	}

	if config.FramingPrefix == "" {
		config.FramingPrefix = DefaultFramingPrefix
	}

	if config.SampleRate <= 0 {
		config.SampleRate = audio.DefaultSampleRate
	}

	if config.Channels <= 0 {
		config.Channels = audio.DefaultChannels
	}

	return &Pipeline{
		synth:   synth,
		device:  device,
		config:  config,
		logger:  logger,
		metrics: m,
	}, nil
}

// Speak synthesizes text, decodes the returned PCM and starts playback immediately.
// Any playback still live on this pipeline is stopped first. The synthesis request
// honours ctx; the playback itself outlives it and ends on Stop or completion.
func (p *Pipeline) Speak(ctx context.Context, text string) (*playback.Handle, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	if p.isClosed() {
		return nil, ErrClosed
	}

	p.metrics.RecordSpeechRequest()

	buf, err := p.synthesize(ctx, text)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	// Close may have run while the synthesis request was in flight
	if p.closed {
		return nil, ErrClosed
	}

	p.supersede()

	h, err := playback.Start(p.device, buf, playback.Options{
		Realtime: p.config.Realtime,
		Period:   p.config.Period,
		OnFinish: p.onFinish,
	})
	if err != nil {
		p.metrics.RecordSpeechFailure("device")
		p.logger.Warn("Failed to start playback",
			slog.String("device", p.device.Name()),
			slog.String("error", err.Error()))
		return nil, &AudioError{Err: err}
	}

	p.current = h
	p.metrics.RecordPlaybackStarted()

	p.logger.Info("Playback started",
		slog.String("playback_id", h.ID()),
		slog.String("device", p.device.Name()),
		slog.Int("frames", buf.Frames()),
		slog.Duration("duration", buf.Duration()))

	return h, nil
}

// synthesize requests speech and decodes it into a buffer
func (p *Pipeline) synthesize(ctx context.Context, text string) (*audio.Buffer, error) {
	startTime := time.Now()
	data, err := p.synth.SynthesizeSpeech(ctx, p.config.FramingPrefix+text, p.config.Voice)
	p.metrics.RecordSynthesis(time.Since(startTime).Seconds())

	if err != nil {
		return nil, p.fail("upstream", fmt.Errorf("speech request failed: %w", err))
	}

	if data == nil || data.Data == "" {
		return nil, p.fail("no_audio", ErrNoAudio)
	}

	raw, err := audio.DecodeBase64(data.Data)
	if err != nil {
		return nil, p.fail("decode", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	buf, err := audio.DecodePCM16(raw, p.config.SampleRate, p.config.Channels)
	if err != nil {
		return nil, p.fail("decode", fmt.Errorf("%w: %v", ErrDecode, err))
	}

	p.metrics.RecordAudioDecoded(len(raw), buf.Duration().Seconds())

	p.logger.Debug("Speech payload decoded",
		slog.String("mime_type", data.MIMEType),
		slog.Int("bytes", len(raw)),
		slog.Duration("synthesis_time", time.Since(startTime)))

	return buf, nil
}

func (p *Pipeline) fail(reason string, err error) error {
	p.metrics.RecordSpeechFailure(reason)
	p.logger.Warn("Speech report failed",
		slog.String("reason", reason),
		slog.String("error", err.Error()))
	return &AudioError{Err: err}
}

// supersede stops the current playback. Callers hold p.mu.
func (p *Pipeline) supersede() {
	prev := p.current
	if prev == nil {
		return
	}

	if prev.State() == playback.StatePlaying {
		p.metrics.RecordPlaybackSuperseded()
		p.logger.Info("Stopping previous playback",
			slog.String("playback_id", prev.ID()))
	}
	prev.Stop()
}

// onFinish runs on the playback goroutine and must not take p.mu
func (p *Pipeline) onFinish(h *playback.Handle) {
	p.metrics.RecordPlaybackFinished(string(h.State()))

	attrs := []any{
		slog.String("playback_id", h.ID()),
		slog.String("state", string(h.State())),
		slog.Duration("position", h.Position()),
	}
	if err := h.Err(); err != nil {
		p.logger.Warn("Playback failed", append(attrs, slog.String("error", err.Error()))...)
		return
	}
	p.logger.Info("Playback finished", attrs...)
}

// Current returns the most recent playback, which may already have ended, or nil
func (p *Pipeline) Current() *playback.Handle {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// Stop halts the current playback and releases its device connection. It is safe to
// call at any time and any number of times.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.current != nil {
		p.current.Stop()
	}
}

// Close stops playback and rejects further Speak calls
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.closed = true
	if p.current != nil {
		p.current.Stop()
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
