package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uwase8/MedPredi/internal/audio"
)

// State is the lifecycle position of a playback
type State string

const (
	StatePlaying   State = "playing"
	StateStopped   State = "stopped"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

const defaultPeriod = 20 * time.Millisecond

// Options control how a buffer is fed to the device
type Options struct {
	// ID names the playback; a UUID is generated when empty
	ID string

	// Realtime paces writes at the buffer's sample rate. When false the buffer is
	// written as fast as the sink accepts it.
	Realtime bool

	// Period is the amount of audio written per device write
	Period time.Duration

	// OnFinish runs once on the pump goroutine, after the sink is released.
	// It must not call Stop or Wait on the same handle.
	OnFinish func(h *Handle)
}

// Handle controls one active playback
type Handle struct {
	id     string
	device string
	buffer *audio.Buffer
	sink   Sink
	opts   Options

	cancel context.CancelFunc
	done   chan struct{}

	mu         sync.RWMutex
	state      State
	position   int
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// Info is a snapshot of a handle for status reporting
type Info struct {
	ID         string           `json:"id"`
	Device     string           `json:"device"`
	State      State            `json:"state"`
	Position   float64          `json:"position_seconds"`
	Buffer     audio.BufferInfo `json:"buffer"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
	Error      string           `json:"error,omitempty"`
}

// Start connects buf to a new sink on device and begins playback immediately
func Start(device Device, buf *audio.Buffer, opts Options) (*Handle, error) {
	if device == nil {
		return nil, fmt.Errorf("playback device cannot be nil")
	}

	if buf == nil {
		return nil, fmt.Errorf("audio buffer cannot be nil")
	}

	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	if opts.Period <= 0 {
		opts.Period = defaultPeriod
	}

	sink, err := device.Open(opts.ID, buf.SampleRate(), buf.NumChannels())
	if err != nil {
		return nil, fmt.Errorf("failed to open %s device: %w", device.Name(), err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	h := &Handle{
		id:        opts.ID,
		device:    device.Name(),
		buffer:    buf,
		sink:      sink,
		opts:      opts,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StatePlaying,
		startedAt: time.Now(),
	}

	go h.run(ctx)

	return h, nil
}

// run pumps the buffer into the sink one period at a time
func (h *Handle) run(ctx context.Context) {
	defer close(h.done)

	frames := h.buffer.Frames()
	periodFrames := int(h.opts.Period.Seconds() * float64(h.buffer.SampleRate()))
	if periodFrames < 1 {
		periodFrames = 1
	}

	var tick <-chan time.Time
	if h.opts.Realtime {
		ticker := time.NewTicker(h.opts.Period)
		defer ticker.Stop()
		tick = ticker.C
	}

	for pos := 0; pos < frames; {
		select {
		case <-ctx.Done():
			h.finish(StateStopped, nil)
			return
		default:
		}

		end := pos + periodFrames
		if end > frames {
			end = frames
		}

		chunk, err := h.buffer.Interleaved(pos, end)
		if err == nil {
			err = h.sink.Write(chunk)
		}
		if err != nil {
			h.finish(StateFailed, fmt.Errorf("device write failed at frame %d: %w", pos, err))
			return
		}

		pos = end
		h.mu.Lock()
		h.position = pos
		h.mu.Unlock()

		if tick != nil {
			select {
			case <-ctx.Done():
				h.finish(StateStopped, nil)
				return
			case <-tick:
			}
		}
	}

	h.finish(StateCompleted, nil)
}

// finish releases the sink and records the terminal state. Only run calls it.
func (h *Handle) finish(state State, err error) {
	closeErr := h.sink.Close()
	if err == nil && closeErr != nil {
		state = StateFailed
		err = fmt.Errorf("failed to release device: %w", closeErr)
	}

	h.mu.Lock()
	h.state = state
	h.err = err
	h.finishedAt = time.Now()
	h.mu.Unlock()

	h.cancel()

	if h.opts.OnFinish != nil {
		h.opts.OnFinish(h)
	}
}

// Stop halts playback and waits until the device connection is released.
// Calling Stop again, or after natural completion, has no further effect.
func (h *Handle) Stop() {
	h.cancel()
	<-h.done
}

// Done is closed once the playback has stopped, completed or failed
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Wait blocks until the playback ends or ctx is cancelled
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ID returns the playback identifier
func (h *Handle) ID() string {
	return h.id
}

// Buffer returns the decoded audio being played
func (h *Handle) Buffer() *audio.Buffer {
	return h.buffer
}

// State returns the current lifecycle state
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// Err returns the failure cause for a failed playback
func (h *Handle) Err() error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.err
}

// Position returns how much audio has been handed to the device
func (h *Handle) Position() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return audio.FramesToDuration(h.position, h.buffer.SampleRate())
}

// Info returns a snapshot of the handle
func (h *Handle) Info() Info {
	h.mu.RLock()
	defer h.mu.RUnlock()

	info := Info{
		ID:        h.id,
		Device:    h.device,
		State:     h.state,
		Position:  audio.FramesToDuration(h.position, h.buffer.SampleRate()).Seconds(),
		Buffer:    h.buffer.Info(),
		StartedAt: h.startedAt,
	}

	if !h.finishedAt.IsZero() {
		finishedAt := h.finishedAt
		info.FinishedAt = &finishedAt
	}

	if h.err != nil {
		info.Error = h.err.Error()
	}

	return info
}
