package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uwase8/MedPredi/internal/audio"
	"github.com/uwase8/MedPredi/internal/genai"
	"github.com/uwase8/MedPredi/internal/playback"
)

type fakeSynth struct {
	mu    sync.Mutex
	data  *genai.InlineData
	err   error
	text  string
	voice string
	block bool
}

func (f *fakeSynth) SynthesizeSpeech(ctx context.Context, text, voice string) (*genai.InlineData, error) {
	f.mu.Lock()
	f.text = text
	f.voice = voice
	f.mu.Unlock()

	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.data, f.err
}

// countingDevice wraps the null device and counts opened and released sinks
type countingDevice struct {
	mu     sync.Mutex
	opened int
	closed int
}

func (d *countingDevice) Name() string { return "counting" }

func (d *countingDevice) Open(id string, sampleRate, channels int) (playback.Sink, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.opened++
	return &countingSink{device: d}, nil
}

func (d *countingDevice) counts() (int, int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opened, d.closed
}

type countingSink struct {
	device *countingDevice
}

func (s *countingSink) Write(samples []float32) error { return nil }

func (s *countingSink) Close() error {
	s.device.mu.Lock()
	defer s.device.mu.Unlock()
	s.device.closed++
	return nil
}

func pcmPayload(samples []int16) *genai.InlineData {
	return &genai.InlineData{
		MIMEType: "audio/L16;codec=pcm;rate=24000",
		Data:     base64.StdEncoding.EncodeToString(audio.EncodePCM16(samples)),
	}
}

func newTestPipeline(t *testing.T, synth Synthesizer, device playback.Device, config Config) *Pipeline {
	t.Helper()
	p, err := NewPipeline(synth, device, slog.New(slog.NewTextHandler(io.Discard, nil)), config, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func waitDone(t *testing.T, h *playback.Handle) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.Wait(ctx))
}

func TestSpeakDecodesPayload(t *testing.T) {
	synth := &fakeSynth{data: &genai.InlineData{MIMEType: "audio/L16", Data: "AEAAwA=="}}
	p := newTestPipeline(t, synth, playback.NullDevice{}, Config{Voice: "Kore"})

	h, err := p.Speak(context.Background(), "Overall low risk.")
	require.NoError(t, err)
	waitDone(t, h)

	samples, err := h.Buffer().Channel(0)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, samples)
	assert.Equal(t, audio.DefaultSampleRate, h.Buffer().SampleRate())
	assert.Equal(t, 1, h.Buffer().NumChannels())
	assert.Equal(t, playback.StateCompleted, h.State())

	assert.Equal(t, "Clinical Report: Overall low risk.", synth.text)
	assert.Equal(t, "Kore", synth.voice)
	assert.Same(t, h, p.Current())
}

func TestSpeakNoAudio(t *testing.T) {
	for _, data := range []*genai.InlineData{nil, {MIMEType: "audio/L16", Data: ""}} {
		device := &countingDevice{}
		p := newTestPipeline(t, &fakeSynth{data: data}, device, Config{})

		h, err := p.Speak(context.Background(), "summary")
		assert.Nil(t, h)

		var audioErr *AudioError
		require.True(t, errors.As(err, &audioErr))
		assert.ErrorIs(t, err, ErrNoAudio)

		opened, _ := device.counts()
		assert.Equal(t, 0, opened)
		assert.Nil(t, p.Current())
	}
}

func TestSpeakDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"not base64", "!!not-base64!!"},
		{"odd byte count", base64.StdEncoding.EncodeToString([]byte{1, 2, 3})},
		{"padding only", "===="},
		{"excess padding", "AAA====="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t, &fakeSynth{data: &genai.InlineData{Data: tt.data}}, playback.NullDevice{}, Config{})

			_, err := p.Speak(context.Background(), "summary")
			var audioErr *AudioError
			require.True(t, errors.As(err, &audioErr))
			assert.ErrorIs(t, err, ErrDecode)
		})
	}
}

func TestSpeakUpstreamError(t *testing.T) {
	upstream := errors.New("quota exceeded")
	p := newTestPipeline(t, &fakeSynth{err: upstream}, playback.NullDevice{}, Config{})

	_, err := p.Speak(context.Background(), "summary")
	var audioErr *AudioError
	require.True(t, errors.As(err, &audioErr))
	assert.ErrorIs(t, err, upstream)
}

func TestSpeakHonoursContext(t *testing.T) {
	p := newTestPipeline(t, &fakeSynth{block: true}, playback.NullDevice{}, Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Speak(ctx, "summary")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSpeakEmptyText(t *testing.T) {
	synth := &fakeSynth{data: pcmPayload([]int16{1})}
	p := newTestPipeline(t, synth, playback.NullDevice{}, Config{})

	_, err := p.Speak(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Empty(t, synth.text)
}

func TestSpeakSupersedesPreviousPlayback(t *testing.T) {
	// 10 seconds of audio paced in real time stays live for the whole test
	synth := &fakeSynth{data: pcmPayload(make([]int16, audio.DefaultSampleRate*10))}
	device := &countingDevice{}
	p := newTestPipeline(t, synth, device, Config{Realtime: true})

	first, err := p.Speak(context.Background(), "first")
	require.NoError(t, err)
	assert.Equal(t, playback.StatePlaying, first.State())

	second, err := p.Speak(context.Background(), "second")
	require.NoError(t, err)

	assert.Equal(t, playback.StateStopped, first.State())
	assert.Equal(t, playback.StatePlaying, second.State())
	assert.Same(t, second, p.Current())

	opened, closed := device.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 1, closed)

	p.Stop()
	p.Stop()
	assert.Equal(t, playback.StateStopped, second.State())

	opened, closed = device.counts()
	assert.Equal(t, 2, opened)
	assert.Equal(t, 2, closed)
}

func TestNaturalCompletionReleasesDevice(t *testing.T) {
	synth := &fakeSynth{data: pcmPayload(make([]int16, audio.DefaultSampleRate/20))} // 50ms
	device := &countingDevice{}
	p := newTestPipeline(t, synth, device, Config{Realtime: true, Period: 10 * time.Millisecond})

	h, err := p.Speak(context.Background(), "short")
	require.NoError(t, err)

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("playback never completed")
	}

	assert.Equal(t, playback.StateCompleted, h.State())
	_, closed := device.counts()
	assert.Equal(t, 1, closed)

	// Stopping a finished playback does nothing more
	p.Stop()
	_, closed = device.counts()
	assert.Equal(t, 1, closed)
}

func TestZeroLengthPCMPlaysZeroFrames(t *testing.T) {
	// A line break left over from transport wrapping decodes to zero bytes
	synth := &fakeSynth{data: &genai.InlineData{Data: "\r\n"}}
	p := newTestPipeline(t, synth, playback.NullDevice{}, Config{})

	h, err := p.Speak(context.Background(), "summary")
	require.NoError(t, err)
	waitDone(t, h)
	assert.Equal(t, 0, h.Buffer().Frames())
}

func TestCloseRejectsSpeak(t *testing.T) {
	synth := &fakeSynth{data: pcmPayload(make([]int16, audio.DefaultSampleRate*10))}
	device := &countingDevice{}
	p := newTestPipeline(t, synth, device, Config{Realtime: true})

	h, err := p.Speak(context.Background(), "report")
	require.NoError(t, err)

	p.Close()
	assert.Equal(t, playback.StateStopped, h.State())

	_, err = p.Speak(context.Background(), "again")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewPipelineErrors(t *testing.T) {
	_, err := NewPipeline(nil, playback.NullDevice{}, nil, Config{}, nil)
	assert.Error(t, err)

	_, err = NewPipeline(&fakeSynth{}, nil, nil, Config{}, nil)
	assert.Error(t, err)
}
