package playback

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/uwase8/MedPredi/internal/audio"
)

// Device names accepted by NewDevice
const (
	DeviceNull = "null"
	DeviceWAV  = "wav"
)

// Sink is one open connection to an output device.
// Write receives interleaved samples in [-1.0, 1.0).
type Sink interface {
	Write(samples []float32) error
	Close() error
}

// Device opens sinks for playbacks
type Device interface {
	Name() string
	Open(id string, sampleRate, channels int) (Sink, error)
}

// NewDevice creates a device by name. outputDir is only used by the wav device.
func NewDevice(name, outputDir string) (Device, error) {
	switch name {
	case DeviceNull, "":
		return NullDevice{}, nil
	case DeviceWAV:
		return NewWAVDevice(outputDir)
	default:
		return nil, fmt.Errorf("unknown playback device '%s'", name)
	}
}

// NullDevice discards all audio
type NullDevice struct{}

func (NullDevice) Name() string { return DeviceNull }

func (NullDevice) Open(id string, sampleRate, channels int) (Sink, error) {
	return &nullSink{}, nil
}

type nullSink struct{}

func (*nullSink) Write(samples []float32) error { return nil }
func (*nullSink) Close() error                  { return nil }

// WAVDevice writes every playback to <dir>/<id>.wav
type WAVDevice struct {
	dir string
}

// NewWAVDevice creates the output directory if needed
func NewWAVDevice(dir string) (*WAVDevice, error) {
	if dir == "" {
		return nil, fmt.Errorf("wav device requires an output directory")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory %s: %w", dir, err)
	}

	return &WAVDevice{dir: dir}, nil
}

func (d *WAVDevice) Name() string { return DeviceWAV }

// Dir returns the output directory
func (d *WAVDevice) Dir() string { return d.dir }

// Open creates the file and reserves space for the header, which is written on Close
// once the data size is known.
func (d *WAVDevice) Open(id string, sampleRate, channels int) (Sink, error) {
	if _, err := audio.NewWAVHeader(sampleRate, channels, 0); err != nil {
		return nil, err
	}

	path := filepath.Join(d.dir, id+".wav")
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	sink := &wavSink{
		file:       file,
		w:          bufio.NewWriter(file),
		sampleRate: sampleRate,
		channels:   channels,
	}

	if _, err := sink.w.Write(make([]byte, 44)); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to reserve WAV header: %w", err)
	}

	return sink, nil
}

type wavSink struct {
	file       *os.File
	w          *bufio.Writer
	sampleRate int
	channels   int
	dataSize   uint32
	closeOnce  sync.Once
	closeErr   error
}

func (s *wavSink) Write(samples []float32) error {
	pcm := make([]int16, len(samples))
	for i, v := range samples {
		pcm[i] = audio.FloatToPCM16(v)
	}

	if err := binary.Write(s.w, binary.LittleEndian, pcm); err != nil {
		return fmt.Errorf("failed to write samples: %w", err)
	}
	s.dataSize += uint32(len(samples) * audio.BytesPerSample)
	return nil
}

func (s *wavSink) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.finalize()
	})
	return s.closeErr
}

func (s *wavSink) finalize() error {
	defer s.file.Close()

	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("failed to flush samples: %w", err)
	}

	header, err := audio.NewWAVHeader(s.sampleRate, s.channels, s.dataSize)
	if err != nil {
		return err
	}

	if _, err := s.file.Seek(0, 0); err != nil {
		return fmt.Errorf("failed to seek to WAV header: %w", err)
	}

	if err := binary.Write(s.file, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	return s.file.Close()
}
