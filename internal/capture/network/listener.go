// Package network accepts audio from remote capture devices (for example
// smart glasses) over WebSocket.
//
// Each binary message carries little-endian int16 mono PCM at the configured
// sample rate and becomes one [audio.AudioFrame]. Text messages are logged
// and ignored. Frames are pushed with a blocking [audio.FrameQueue.Push], so
// a slow consumer applies backpressure to the socket instead of dropping
// audio.
//
// Every connection is served by its own goroutine with its own sequence
// counter. A failing connection is logged and closed without affecting the
// others. There is no ping or idle timeout.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/mnemo/pkg/audio"
)

// DefaultMaxMessageBytes caps a single WebSocket message.
const DefaultMaxMessageBytes = 10 << 20

// textPreviewRunes bounds how much of an ignored text message is logged.
const textPreviewRunes = 100

// SourcePrefix prefixes the source label of network frames; the connection
// id follows.
const SourcePrefix = "network:"

// Config configures a [Listener].
type Config struct {
	Host            string
	Port            int
	SampleRate      int
	MaxMessageBytes int64
}

// Addr returns the host:port listen address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Option configures a Listener.
type Option func(*Listener)

// WithConnectionHook registers fn to be called with +1 on connect and -1 on
// disconnect.
func WithConnectionHook(fn func(delta int64)) Option {
	return func(l *Listener) { l.onConn = fn }
}

// WithFrameHook registers fn to be called for every frame queued.
func WithFrameHook(fn func()) Option {
	return func(l *Listener) { l.onFrame = fn }
}

// WithClock overrides the frame timestamp source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *Listener) { l.now = now }
}

// Listener is a WebSocket audio ingestion endpoint. It implements
// [http.Handler] so it can also be mounted on an existing mux.
type Listener struct {
	cfg     Config
	queue   *audio.FrameQueue
	now     func() time.Time
	onConn  func(int64)
	onFrame func()

	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Int64
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[string]*websocket.Conn
	srv     *http.Server
	ln      net.Listener
	stopped bool
}

// New returns a Listener pushing into queue.
func New(cfg Config, queue *audio.FrameQueue, opts ...Option) (*Listener, error) {
	if queue == nil {
		return nil, errors.New("network: queue must not be nil")
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("network: sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	ctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		cfg:    cfg,
		queue:  queue,
		now:    time.Now,
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*websocket.Conn),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// Queue returns the queue frames are pushed into.
func (l *Listener) Queue() *audio.FrameQueue { return l.queue }

// ActiveConnections returns the number of open connections.
func (l *Listener) ActiveConnections() int { return int(l.active.Load()) }

// Start binds the configured address and serves in the background.
func (l *Listener) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return fmt.Errorf("network: start: %w", audio.ErrQueueClosed)
	}
	if l.srv != nil {
		slog.Info("network capture already listening", "addr", l.ln.Addr().String())
		return nil
	}

	ln, err := net.Listen("tcp", l.cfg.Addr())
	if err != nil {
		return fmt.Errorf("network: listen %s: %w", l.cfg.Addr(), err)
	}
	l.ln = ln
	l.srv = &http.Server{Handler: l, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := l.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("network capture server stopped", "err", err)
		}
	}()
	slog.Info("network capture listening", "addr", ln.Addr().String(), "max_message_bytes", l.cfg.MaxMessageBytes)
	return nil
}

// Addr returns the bound address, or nil before Start.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

// ServeHTTP upgrades the request and reads audio until the peer disconnects
// or the listener stops.
func (l *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Capture devices do not send a browser Origin.
		InsecureSkipVerify: true,
	})
	if err != nil {
		slog.Warn("network capture upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(l.cfg.MaxMessageBytes)

	id := uuid.NewString()
	if !l.register(id, conn) {
		conn.Close(websocket.StatusGoingAway, "server shutting down")
		return
	}
	defer l.unregister(id)

	log := slog.With("conn_id", id, "remote", r.RemoteAddr)
	log.Info("network capture connection opened", "active", l.ActiveConnections())

	l.serveConn(l.ctx, conn, id, log)
}

func (l *Listener) serveConn(ctx context.Context, conn *websocket.Conn, id string, log *slog.Logger) {
	defer conn.CloseNow()

	var seq uint64
	source := SourcePrefix + id
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch status := websocket.CloseStatus(err); {
			case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
				log.Info("network capture connection closed", "frames", seq)
			case ctx.Err() != nil:
				log.Debug("network capture connection closed by shutdown", "frames", seq)
			default:
				log.Warn("network capture connection error", "frames", seq, "err", err)
			}
			return
		}

		if typ == websocket.MessageText {
			log.Info("network capture ignoring text message", "text", preview(string(data)))
			continue
		}

		samples := audio.DecodePCM16(data)
		if len(samples) == 0 {
			continue
		}
		frame := audio.AudioFrame{
			Timestamp:  l.now(),
			Samples:    samples,
			SampleRate: l.cfg.SampleRate,
			Source:     source,
			Sequence:   seq,
		}
		if err := l.queue.Push(ctx, frame); err != nil {
			log.Info("network capture stopped accepting frames", "frames", seq, "err", err)
			conn.Close(websocket.StatusGoingAway, "capture stopped")
			return
		}
		seq++
		if l.onFrame != nil {
			l.onFrame()
		}
	}
}

func (l *Listener) register(id string, conn *websocket.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped {
		return false
	}
	l.conns[id] = conn
	l.wg.Add(1)
	l.active.Add(1)
	if l.onConn != nil {
		l.onConn(1)
	}
	return true
}

func (l *Listener) unregister(id string) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
	l.active.Add(-1)
	if l.onConn != nil {
		l.onConn(-1)
	}
	l.wg.Done()
}

// Stop closes the listener and every open connection, waits for connection
// goroutines to exit and then closes the queue. Stop is idempotent.
func (l *Listener) Stop(ctx context.Context) error {
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	srv := l.srv
	conns := make([]*websocket.Conn, 0, len(l.conns))
	for _, c := range l.conns {
		conns = append(conns, c)
	}
	l.mu.Unlock()

	var errs []error
	if srv != nil {
		// Shutdown does not track hijacked WebSocket connections, so they are
		// closed separately below.
		if err := srv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
		}
	}
	l.cancel()
	for _, c := range conns {
		c.CloseNow()
	}

	done := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = append(errs, fmt.Errorf("wait for connections: %w", ctx.Err()))
	}

	l.queue.Close()
	slog.Info("network capture stopped", "closed_connections", len(conns))
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("network: stop: %w", err)
	}
	return nil
}

// preview returns at most textPreviewRunes runes of s.
func preview(s string) string {
	r := []rune(s)
	if len(r) <= textPreviewRunes {
		return s
	}
	return string(r[:textPreviewRunes])
}
