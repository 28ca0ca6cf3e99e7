package audio

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

// Speech payload format: 16-bit signed little-endian PCM, mono, 24 kHz
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	BitDepth          = 16
	BytesPerSample    = BitDepth / 8

	pcmScale = 32768.0
)

// ErrFrameAlignment is returned when a PCM payload does not hold a whole number of frames
var ErrFrameAlignment = errors.New("pcm payload is not frame aligned")

// DecodeBase64 decodes the transport encoding of an inline audio payload.
// Embedded whitespace is ignored. Padding is optional, but when present it must
// be one or two '=' completing a 4-character group.
func DecodeBase64(payload string) ([]byte, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, payload)
	if len(cleaned)%4 == 0 {
		if strings.HasSuffix(cleaned, "==") {
			cleaned = cleaned[:len(cleaned)-2]
		} else if strings.HasSuffix(cleaned, "=") {
			cleaned = cleaned[:len(cleaned)-1]
		}
	}

	data, err := base64.RawStdEncoding.DecodeString(cleaned)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio payload: %w", err)
	}
	return data, nil
}

// DecodePCM16 unpacks interleaved 16-bit little-endian samples into a Buffer,
// dividing every sample by 32768 so values fall in [-1.0, 1.0).
// An empty payload yields a zero-frame buffer.
func DecodePCM16(data []byte, sampleRate, numChannels int) (*Buffer, error) {
	if numChannels < 1 {
		return nil, fmt.Errorf("channel count must be at least 1, got %d", numChannels)
	}

	frameSize := BytesPerSample * numChannels
	if len(data)%frameSize != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d-byte frames", ErrFrameAlignment, len(data), frameSize)
	}

	frameCount := len(data) / frameSize
	buf, err := NewBuffer(sampleRate, numChannels, frameCount)
	if err != nil {
		return nil, err
	}

	for ch := 0; ch < numChannels; ch++ {
		channelData := buf.channels[ch]
		for i := 0; i < frameCount; i++ {
			offset := (i*numChannels + ch) * BytesPerSample
			sample := int16(binary.LittleEndian.Uint16(data[offset : offset+BytesPerSample]))
			channelData[i] = float32(float64(sample) / pcmScale)
		}
	}

	return buf, nil
}

// DecodeBase64PCM16 decodes a base64 payload straight into a Buffer
func DecodeBase64PCM16(payload string, sampleRate, numChannels int) (*Buffer, error) {
	data, err := DecodeBase64(payload)
	if err != nil {
		return nil, err
	}
	return DecodePCM16(data, sampleRate, numChannels)
}

// EncodePCM16 packs samples as little-endian bytes
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*BytesPerSample:], uint16(s))
	}
	return out
}
