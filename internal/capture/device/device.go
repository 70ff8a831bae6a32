// Package device captures audio from a local input device and feeds it into
// an [audio.FrameQueue].
//
// The host audio API sits behind [Backend]. Builds with the "portaudio" tag
// get a PortAudio backend from [DefaultBackend]; other builds get a backend
// whose methods return [ErrUnsupported].
//
// The device callback never blocks: each hardware buffer becomes one
// [audio.AudioFrame] pushed with [audio.FrameQueue.TryPush], and frames that
// do not fit are dropped and counted.
package device

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mnemo/pkg/audio"
)

// ErrUnsupported is returned when the binary was built without an audio host
// backend.
var ErrUnsupported = errors.New("device: audio capture not supported in this build (rebuild with -tags portaudio)")

// SourceLabel tags frames produced by a Recorder.
const SourceLabel = "device"

// DefaultDevice selects the host's default input device.
const DefaultDevice = -1

// DeviceInfo describes one input device.
type DeviceInfo struct {
	Index             int
	Name              string
	HostAPI           string
	MaxInputChannels  int
	DefaultSampleRate float64
	Default           bool
}

// StreamConfig parameterises an input stream. Streams are always mono int16.
type StreamConfig struct {
	// DeviceIndex selects the device from Backend.Devices, or DefaultDevice.
	DeviceIndex     int
	SampleRate      int
	FramesPerBuffer int
}

// Stream is an open input stream.
type Stream interface {
	Stop() error
	Close() error
}

// Backend is the host audio API.
type Backend interface {
	// Open starts a stream that invokes cb from the audio thread with each
	// hardware buffer. cb must not retain samples after it returns.
	Open(cfg StreamConfig, cb func(samples []int16)) (Stream, error)
	// Devices lists available input devices.
	Devices() ([]DeviceInfo, error)
}

// ListDevices returns the input devices the backend can see.
func ListDevices(b Backend) ([]DeviceInfo, error) {
	devs, err := b.Devices()
	if err != nil {
		return nil, fmt.Errorf("device: list devices: %w", err)
	}
	return devs, nil
}

// Config configures a [Recorder].
type Config struct {
	DeviceIndex int
	SampleRate  int
	// BufferSizeBytes is the hardware buffer size in bytes of int16 PCM; each
	// callback delivers BufferSizeBytes/2 samples.
	BufferSizeBytes int
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithFrameHook registers fn to be called for every frame handed to the
// queue. It runs on the audio thread and must be cheap.
func WithFrameHook(fn func()) Option {
	return func(r *Recorder) { r.onFrame = fn }
}

// WithDropHook registers fn to be called with the running dropped count each
// time a frame is dropped. It runs on the audio thread and must be cheap.
func WithDropHook(fn func(total uint64)) Option {
	return func(r *Recorder) { r.onDrop = fn }
}

// WithClock overrides the timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// Recorder streams one input device into a frame queue.
type Recorder struct {
	backend Backend
	cfg     Config
	queue   *audio.FrameQueue
	now     func() time.Time
	onFrame func()
	onDrop  func(uint64)

	seq     atomic.Uint64
	dropped atomic.Uint64

	mu      sync.Mutex
	stream  Stream
	stopped bool
}

// New returns a Recorder writing into queue.
func New(backend Backend, cfg Config, queue *audio.FrameQueue, opts ...Option) (*Recorder, error) {
	if backend == nil {
		return nil, errors.New("device: backend must not be nil")
	}
	if queue == nil {
		return nil, errors.New("device: queue must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("device: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.BufferSizeBytes < 2 {
		return nil, fmt.Errorf("device: buffer size must be at least 2 bytes, got %d", cfg.BufferSizeBytes)
	}
	r := &Recorder{backend: backend, cfg: cfg, queue: queue, now: time.Now}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Queue returns the queue frames are pushed into.
func (r *Recorder) Queue() *audio.FrameQueue { return r.queue }

// Dropped returns how many frames were dropped because the queue was full.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// Recording reports whether the stream is open.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Start opens the input stream. Calling Start while recording is a no-op.
// A stopped Recorder cannot be restarted because its queue is closed.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stream != nil {
		slog.Info("device capture already recording")
		return nil
	}
	if r.stopped {
		return fmt.Errorf("device: start: %w", audio.ErrQueueClosed)
	}

	stream, err := r.backend.Open(StreamConfig{
		DeviceIndex:     r.cfg.DeviceIndex,
		SampleRate:      r.cfg.SampleRate,
		FramesPerBuffer: r.cfg.BufferSizeBytes / 2,
	}, r.callback)
	if err != nil {
		return fmt.Errorf("device: open stream: %w", err)
	}
	r.stream = stream
	slog.Info("device capture started",
		"device", r.cfg.DeviceIndex,
		"sample_rate", r.cfg.SampleRate,
		"frames_per_buffer", r.cfg.BufferSizeBytes/2)
	return nil
}

// callback runs on the audio thread.
func (r *Recorder) callback(samples []int16) {
	if len(samples) == 0 {
		return
	}
	frame := audio.AudioFrame{
		Timestamp:  r.now(),
		Samples:    audio.Int16ToSamples(samples),
		SampleRate: r.cfg.SampleRate,
		Source:     SourceLabel,
		Sequence:   r.seq.Add(1) - 1,
	}
	if r.queue.TryPush(frame) {
		if r.onFrame != nil {
			r.onFrame()
		}
		return
	}
	total := r.dropped.Add(1)
	slog.Warn("device capture queue full, dropping frame", "sequence", frame.Sequence, "dropped", total)
	if r.onDrop != nil {
		r.onDrop(total)
	}
}

// Stop stops and closes the stream, then closes the queue so the consumer
// drains and exits. Stop is idempotent.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	stream := r.stream
	r.stream = nil
	r.stopped = true
	r.mu.Unlock()

	var errs []error
	if stream != nil {
		if err := stream.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop stream: %w", err))
		}
		if err := stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close stream: %w", err))
		}
		slog.Info("device capture stopped", "frames", r.seq.Load(), "dropped", r.dropped.Load())
	}
	r.queue.Close()
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	return nil
}
