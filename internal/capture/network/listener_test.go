package network_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/mnemo/internal/capture/network"
	"github.com/MrWong99/mnemo/pkg/audio"
)

// wsURL converts an httptest server HTTP URL to a WebSocket URL.
func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func newListener(t *testing.T, cfg network.Config, opts ...network.Option) (*network.Listener, *httptest.Server) {
	t.Helper()
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	l, err := network.New(cfg, audio.NewFrameQueue(16), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(l)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = l.Stop(ctx)
		srv.Close()
	})
	return l, srv
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func write(t *testing.T, conn *websocket.Conn, typ websocket.MessageType, data []byte) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := conn.Write(ctx, typ, data); err != nil {
		t.Fatalf("Write: %v", err)
	}
}

func pop(t *testing.T, q *audio.FrameQueue) audio.AudioFrame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	f, ok := q.Pop(ctx)
	if !ok {
		t.Fatal("Pop: no frame before timeout")
	}
	return f
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestListener_BinaryMessagesBecomeFrames(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	var frames atomic.Int32
	l, srv := newListener(t, network.Config{},
		network.WithClock(func() time.Time { return fixed }),
		network.WithFrameHook(func() { frames.Add(1) }),
	)
	conn := dial(t, wsURL(srv))

	write(t, conn, websocket.MessageBinary, audio.EncodePCM16([]float32{0.5, -0.5, 0}))
	write(t, conn, websocket.MessageBinary, audio.EncodePCM16([]float32{0.25}))

	f0 := pop(t, l.Queue())
	f1 := pop(t, l.Queue())
	if f0.Sequence != 0 || f1.Sequence != 1 {
		t.Errorf("sequences = %d, %d; want 0, 1", f0.Sequence, f1.Sequence)
	}
	if len(f0.Samples) != 3 || f0.SampleRate != 16000 || !f0.Timestamp.Equal(fixed) {
		t.Errorf("frame 0 = %+v", f0)
	}
	if !strings.HasPrefix(f0.Source, network.SourcePrefix) || f0.Source != f1.Source {
		t.Errorf("sources = %q, %q", f0.Source, f1.Source)
	}
	if d := f0.Samples[0] - 0.5; d > 1e-4 || d < -1e-4 {
		t.Errorf("sample[0] = %v, want ~0.5", f0.Samples[0])
	}
	waitFor(t, "frame hook", func() bool { return frames.Load() == 2 })
}

func TestListener_TextIgnoredAndOddByteTruncated(t *testing.T) {
	t.Parallel()

	l, srv := newListener(t, network.Config{})
	conn := dial(t, wsURL(srv))

	write(t, conn, websocket.MessageText, []byte(strings.Repeat("hello ", 50)))
	write(t, conn, websocket.MessageBinary, []byte{0x00, 0x40, 0x7f})

	f := pop(t, l.Queue())
	if len(f.Samples) != 1 || f.Samples[0] != 0.5 {
		t.Errorf("samples = %v, want [0.5]", f.Samples)
	}
	if f.Sequence != 0 {
		t.Errorf("sequence = %d, want 0 (text must not consume a sequence number)", f.Sequence)
	}
}

func TestListener_OversizedMessageClosesOnlyThatConnection(t *testing.T) {
	t.Parallel()

	l, srv := newListener(t, network.Config{MaxMessageBytes: 64})
	bad := dial(t, wsURL(srv))
	good := dial(t, wsURL(srv))
	waitFor(t, "two connections", func() bool { return l.ActiveConnections() == 2 })

	write(t, bad, websocket.MessageBinary, make([]byte, 128))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, _, err := bad.Read(ctx)
	if got := websocket.CloseStatus(err); got != websocket.StatusMessageTooBig {
		t.Errorf("close status = %v (err %v), want StatusMessageTooBig", got, err)
	}

	write(t, good, websocket.MessageBinary, make([]byte, 32))
	if f := pop(t, l.Queue()); len(f.Samples) != 16 {
		t.Errorf("good connection frame len = %d, want 16", len(f.Samples))
	}
	waitFor(t, "one connection", func() bool { return l.ActiveConnections() == 1 })
}

func TestListener_ConnectionHook(t *testing.T) {
	t.Parallel()

	var active atomic.Int64
	l, srv := newListener(t, network.Config{}, network.WithConnectionHook(func(d int64) { active.Add(d) }))

	conn := dial(t, wsURL(srv))
	waitFor(t, "connect", func() bool { return active.Load() == 1 && l.ActiveConnections() == 1 })

	conn.Close(websocket.StatusNormalClosure, "bye")
	waitFor(t, "disconnect", func() bool { return active.Load() == 0 && l.ActiveConnections() == 0 })
}

func TestListener_StartStop(t *testing.T) {
	t.Parallel()

	l, err := network.New(network.Config{Host: "127.0.0.1", Port: 0, SampleRate: 16000}, audio.NewFrameQueue(4))
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := l.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	addr := l.Addr()
	if addr == nil {
		t.Fatal("Addr = nil after Start")
	}

	conn := dial(t, "ws://"+addr.String())
	write(t, conn, websocket.MessageBinary, make([]byte, 8))
	pop(t, l.Queue())
	waitFor(t, "connection", func() bool { return l.ActiveConnections() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if l.ActiveConnections() != 0 {
		t.Errorf("ActiveConnections after Stop = %d", l.ActiveConnections())
	}
	if !l.Queue().Closed() {
		t.Error("queue not closed after Stop")
	}
	if _, _, err := conn.Read(ctx); err == nil {
		t.Error("client read after Stop: want error")
	}
	if err := l.Stop(ctx); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	if err := l.Start(); err == nil {
		t.Error("Start after Stop: want error")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	if _, err := network.New(network.Config{SampleRate: 16000}, nil); err == nil {
		t.Error("nil queue: want error")
	}
	if _, err := network.New(network.Config{}, audio.NewFrameQueue(1)); err == nil {
		t.Error("zero sample rate: want error")
	}
}

func TestConfig_Addr(t *testing.T) {
	t.Parallel()
	if got := (network.Config{Host: "0.0.0.0", Port: 8765}).Addr(); got != "0.0.0.0:8765" {
		t.Errorf("Addr = %q", got)
	}
}
