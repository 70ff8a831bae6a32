package device_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/mnemo/internal/capture/device"
	"github.com/MrWong99/mnemo/pkg/audio"
)

// fakeBackend records Open calls and lets the test drive the callback.
type fakeBackend struct {
	mu      sync.Mutex
	opens   int
	cfg     device.StreamConfig
	cb      func([]int16)
	stream  *fakeStream
	openErr error
	devices []device.DeviceInfo
}

type fakeStream struct {
	mu      sync.Mutex
	stopped bool
	closed  bool
}

func (s *fakeStream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (b *fakeBackend) Open(cfg device.StreamConfig, cb func([]int16)) (device.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++
	if b.openErr != nil {
		return nil, b.openErr
	}
	b.cfg = cfg
	b.cb = cb
	b.stream = &fakeStream{}
	return b.stream, nil
}

func (b *fakeBackend) Devices() ([]device.DeviceInfo, error) { return b.devices, nil }

func (b *fakeBackend) deliver(samples []int16) {
	b.mu.Lock()
	cb := b.cb
	b.mu.Unlock()
	cb(samples)
}

func newRecorder(t *testing.T, b device.Backend, queueSize int, opts ...device.Option) *device.Recorder {
	t.Helper()
	r, err := device.New(b, device.Config{
		DeviceIndex:     device.DefaultDevice,
		SampleRate:      16000,
		BufferSizeBytes: 3200,
	}, audio.NewFrameQueue(queueSize), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return r
}

func TestRecorder_CallbackProducesFrames(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	fixed := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := newRecorder(t, b, 8, device.WithClock(func() time.Time { return fixed }))

	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	if b.cfg.FramesPerBuffer != 1600 || b.cfg.SampleRate != 16000 || b.cfg.DeviceIndex != device.DefaultDevice {
		t.Errorf("stream config = %+v", b.cfg)
	}

	buf := make([]int16, 1600)
	buf[0] = 16384
	b.deliver(buf)
	b.deliver(buf)

	ctx := context.Background()
	for want := uint64(0); want < 2; want++ {
		f, ok := r.Queue().Pop(ctx)
		if !ok {
			t.Fatalf("Pop %d: queue closed", want)
		}
		if f.Sequence != want || f.Source != device.SourceLabel || f.SampleRate != 16000 || len(f.Samples) != 1600 {
			t.Errorf("frame %d = seq %d src %q rate %d len %d", want, f.Sequence, f.Source, f.SampleRate, len(f.Samples))
		}
		if f.Samples[0] != 0.5 || !f.Timestamp.Equal(fixed) {
			t.Errorf("frame %d sample[0]=%v ts=%v", want, f.Samples[0], f.Timestamp)
		}
	}
}

func TestRecorder_DropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	var (
		mu       sync.Mutex
		lastDrop uint64
		frames   int
	)
	r := newRecorder(t, b, 2,
		device.WithDropHook(func(total uint64) { mu.Lock(); lastDrop = total; mu.Unlock() }),
		device.WithFrameHook(func() { mu.Lock(); frames++; mu.Unlock() }),
	)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	for range 5 {
		b.deliver(make([]int16, 1600))
	}
	if r.Dropped() != 3 {
		t.Errorf("Dropped = %d, want 3", r.Dropped())
	}
	mu.Lock()
	defer mu.Unlock()
	if lastDrop != 3 || frames != 2 {
		t.Errorf("hooks saw drops=%d frames=%d, want 3/2", lastDrop, frames)
	}
}

func TestRecorder_StartIdempotent(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	r := newRecorder(t, b, 4)
	for range 3 {
		if err := r.Start(); err != nil {
			t.Fatal(err)
		}
	}
	if b.opens != 1 {
		t.Errorf("Open called %d times, want 1", b.opens)
	}
	if !r.Recording() {
		t.Error("Recording = false after Start")
	}
}

func TestRecorder_StopClosesStreamAndQueue(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{}
	r := newRecorder(t, b, 4)
	if err := r.Start(); err != nil {
		t.Fatal(err)
	}
	b.deliver(make([]int16, 1600))

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !b.stream.stopped || !b.stream.closed {
		t.Errorf("stream stopped=%v closed=%v", b.stream.stopped, b.stream.closed)
	}
	if !r.Queue().Closed() {
		t.Error("queue not closed after Stop")
	}

	// The frame pushed before Stop still drains.
	if _, ok := r.Queue().Pop(context.Background()); !ok {
		t.Error("buffered frame lost on Stop")
	}
	if _, ok := r.Queue().Pop(context.Background()); ok {
		t.Error("Pop after drain: want closed")
	}

	if err := r.Stop(); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := r.Start(); !errors.Is(err, audio.ErrQueueClosed) {
		t.Errorf("Start after Stop err = %v, want ErrQueueClosed", err)
	}
}

func TestRecorder_OpenError(t *testing.T) {
	t.Parallel()

	boom := errors.New("no microphone")
	r := newRecorder(t, &fakeBackend{openErr: boom}, 4)
	if err := r.Start(); !errors.Is(err, boom) {
		t.Errorf("Start err = %v, want %v", err, boom)
	}
	if r.Recording() {
		t.Error("Recording = true after failed Start")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	q := audio.NewFrameQueue(1)
	tests := []struct {
		name    string
		backend device.Backend
		cfg     device.Config
		queue   *audio.FrameQueue
	}{
		{"nil backend", nil, device.Config{SampleRate: 16000, BufferSizeBytes: 3200}, q},
		{"nil queue", &fakeBackend{}, device.Config{SampleRate: 16000, BufferSizeBytes: 3200}, nil},
		{"zero rate", &fakeBackend{}, device.Config{BufferSizeBytes: 3200}, q},
		{"tiny buffer", &fakeBackend{}, device.Config{SampleRate: 16000, BufferSizeBytes: 1}, q},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := device.New(tt.backend, tt.cfg, tt.queue); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestListDevices(t *testing.T) {
	t.Parallel()

	b := &fakeBackend{devices: []device.DeviceInfo{{Index: 0, Name: "Built-in Microphone", MaxInputChannels: 1, Default: true}}}
	devs, err := device.ListDevices(b)
	if err != nil {
		t.Fatal(err)
	}
	if len(devs) != 1 || devs[0].Name != "Built-in Microphone" {
		t.Errorf("devices = %+v", devs)
	}
}
