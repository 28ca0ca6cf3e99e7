package audio

import (
	"fmt"
	"math"
	"time"
)

// Buffer holds decoded audio as one float32 slice per channel.
// Sample values are normalised to [-1.0, 1.0).
type Buffer struct {
	sampleRate int
	channels   [][]float32
	frames     int
}

// BufferInfo summarises a buffer for logging and API responses
type BufferInfo struct {
	SampleRate int     `json:"sample_rate"`
	Channels   int     `json:"channels"`
	Frames     int     `json:"frames"`
	Duration   float64 `json:"duration_seconds"`
}

// NewBuffer allocates a silent buffer of the given shape
func NewBuffer(sampleRate, numChannels, frames int) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}

	if numChannels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", numChannels)
	}

	if frames < 0 {
		return nil, fmt.Errorf("frame count cannot be negative, got %d", frames)
	}

	channels := make([][]float32, numChannels)
	for i := range channels {
		channels[i] = make([]float32, frames)
	}

	return &Buffer{
		sampleRate: sampleRate,
		channels:   channels,
		frames:     frames,
	}, nil
}

// SampleRate returns the buffer sample rate in Hz
func (b *Buffer) SampleRate() int {
	return b.sampleRate
}

// NumChannels returns the number of channels
func (b *Buffer) NumChannels() int {
	return len(b.channels)
}

// Frames returns the number of sample frames per channel
func (b *Buffer) Frames() int {
	return b.frames
}

// Duration returns the playback length of the buffer
func (b *Buffer) Duration() time.Duration {
	return FramesToDuration(b.frames, b.sampleRate)
}

// Channel returns the sample data for one channel. The slice is shared, not copied.
func (b *Buffer) Channel(ch int) ([]float32, error) {
	if ch < 0 || ch >= len(b.channels) {
		return nil, fmt.Errorf("channel %d out of range [0, %d)", ch, len(b.channels))
	}
	return b.channels[ch], nil
}

// Interleaved returns frames [start, end) as interleaved samples
func (b *Buffer) Interleaved(start, end int) ([]float32, error) {
	if start < 0 || end > b.frames || start > end {
		return nil, fmt.Errorf("invalid frame range: start=%d, end=%d, available=%d", start, end, b.frames)
	}

	n := len(b.channels)
	out := make([]float32, (end-start)*n)
	for i := start; i < end; i++ {
		for ch := 0; ch < n; ch++ {
			out[(i-start)*n+ch] = b.channels[ch][i]
		}
	}
	return out, nil
}

// PCM16 converts the whole buffer back to interleaved 16-bit samples
func (b *Buffer) PCM16() []int16 {
	n := len(b.channels)
	out := make([]int16, b.frames*n)
	for i := 0; i < b.frames; i++ {
		for ch := 0; ch < n; ch++ {
			out[i*n+ch] = FloatToPCM16(b.channels[ch][i])
		}
	}
	return out
}

// Info returns a summary of the buffer
func (b *Buffer) Info() BufferInfo {
	return BufferInfo{
		SampleRate: b.sampleRate,
		Channels:   len(b.channels),
		Frames:     b.frames,
		Duration:   b.Duration().Seconds(),
	}
}

// FramesToDuration converts a frame count at a sample rate into a duration
func FramesToDuration(frames, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / float64(sampleRate) * float64(time.Second))
}

// FloatToPCM16 converts a normalised sample to int16, clipping out-of-range values
func FloatToPCM16(v float32) int16 {
	if math.IsNaN(float64(v)) {
		return 0
	}

	s := math.Round(float64(v) * pcmScale)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}
