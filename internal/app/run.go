package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/mnemo/internal/capture/device"
	"github.com/MrWong99/mnemo/internal/capture/network"
	"github.com/MrWong99/mnemo/internal/session"
	"github.com/MrWong99/mnemo/pkg/audio"
)

// ReplaySource tags frames read from a WAV file.
const ReplaySource = "replay"

const adminShutdownTimeout = 5 * time.Second

// Replay runs one batch session over the WAV file at path. Audio at another
// rate is resampled to the capture rate; audio beyond the replay window is
// dropped.
func (a *App) Replay(ctx context.Context, path string) (session.Summary, error) {
	samples, rate, err := audio.ReadWAVFile(path)
	if err != nil {
		return session.Summary{}, fmt.Errorf("app: replay: %w", err)
	}
	want := a.cfg.Audio.Capture.SampleRateHz
	if rate != want {
		slog.Info("resampling replay input", "from_hz", rate, "to_hz", want)
		samples = audio.Resample(samples, rate, want)
	}
	if limit := a.cfg.SessionReplayWindowSec * want; limit > 0 && len(samples) > limit {
		slog.Warn("replay input exceeds session window, truncating",
			"window_sec", a.cfg.SessionReplayWindowSec,
			"input_sec", len(samples)/want)
		samples = samples[:limit]
	}
	frames := audio.SplitFrames(samples, want, a.chunkSamples(), ReplaySource, a.now().UTC())
	slog.Info("replaying file", "path", path, "frames", len(frames))
	return a.runner.RunSession(ctx, frames)
}

// chunkSamples is the capture buffer size in 16-bit samples.
func (a *App) chunkSamples() int {
	return max(a.cfg.Audio.Capture.BufferSizeBytes/2, 1)
}

// source is a running capture front end.
type source interface {
	stop(ctx context.Context) error
}

// Run captures live audio into one session until ctx is done, then finishes
// the session. The admin server and the config watcher from
// [App.WatchConfig] run alongside when configured.
func (a *App) Run(ctx context.Context) (session.Summary, error) {
	queue := audio.NewFrameQueue(a.cfg.Audio.Capture.QueueSize)
	src, err := a.startSource(queue)
	if err != nil {
		return session.Summary{}, fmt.Errorf("app: start capture: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	if addr := a.cfg.Server.AdminAddr; addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           a.AdminHandler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			slog.Info("admin server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("admin server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), adminShutdownTimeout)
			defer cancel()
			return srv.Shutdown(sctx)
		})
	}

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), adminShutdownTimeout)
		defer cancel()
		if err := src.stop(sctx); err != nil {
			slog.Warn("capture stop error", "err", err)
		}
		return nil
	})

	var sum session.Summary
	g.Go(func() error {
		var err error
		// The queue is closed when capture stops, so frames still buffered
		// at shutdown are drained into the session.
		sum, err = a.runner.RunLive(context.WithoutCancel(gctx), queue)
		if err != nil {
			return err
		}
		// Release the admin server once the session is finished.
		return errStopped
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errStopped) {
		return sum, err
	}
	return sum, nil
}

// errStopped ends the run group once the live session has been finished.
var errStopped = errors.New("session finished")

// startSource starts the network listener when enabled, otherwise the local
// capture device.
func (a *App) startSource(queue *audio.FrameQueue) (source, error) {
	ctx := context.Background()
	if a.cfg.Network.Enabled {
		l, err := network.New(network.Config{
			Host:            a.cfg.Network.Host,
			Port:            a.cfg.Network.Port,
			SampleRate:      a.cfg.Audio.Capture.SampleRateHz,
			MaxMessageBytes: a.cfg.Network.MaxMessageBytes,
		}, queue,
			network.WithConnectionHook(func(delta int64) { a.metrics.ActiveConnections.Add(ctx, delta) }),
			network.WithFrameHook(func() { a.metrics.RecordFrame(ctx, "network") }),
		)
		if err != nil {
			return nil, err
		}
		if err := l.Start(); err != nil {
			return nil, err
		}
		return listenerSource{l}, nil
	}

	r, err := device.New(a.backend, device.Config{
		DeviceIndex:     a.cfg.Audio.Capture.DeviceIndex,
		SampleRate:      a.cfg.Audio.Capture.SampleRateHz,
		BufferSizeBytes: a.cfg.Audio.Capture.BufferSizeBytes,
	}, queue,
		device.WithFrameHook(func() { a.metrics.RecordFrame(ctx, device.SourceLabel) }),
		device.WithDropHook(func(uint64) { a.metrics.RecordDroppedFrame(ctx, device.SourceLabel) }),
	)
	if err != nil {
		return nil, err
	}
	if err := r.Start(); err != nil {
		return nil, err
	}
	return recorderSource{r}, nil
}

type listenerSource struct{ l *network.Listener }

func (s listenerSource) stop(ctx context.Context) error { return s.l.Stop(ctx) }

type recorderSource struct{ r *device.Recorder }

func (s recorderSource) stop(context.Context) error { return s.r.Stop() }
