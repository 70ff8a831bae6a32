// Command mnemo captures speech from a wearable microphone or a network
// device, turns it into transcript events and proposes memories for review.
//
// Usage:
//
//	mnemo -config config.yaml                      # live capture until Ctrl+C
//	mnemo -config config.yaml -replay talk.wav     # one batch session from a file
//	mnemo -list-devices                            # show input devices
//	mnemo -approve -session 3 -memory 12           # approve a proposed memory
//	mnemo -reject -session 3 -memory 13 -reason "misheard"
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/mnemo/internal/app"
	"github.com/MrWong99/mnemo/internal/capture/device"
	"github.com/MrWong99/mnemo/internal/config"
	"github.com/MrWong99/mnemo/internal/observe"
	"github.com/MrWong99/mnemo/internal/session"
	"github.com/MrWong99/mnemo/pkg/store"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

type flags struct {
	configPath  string
	listDevices bool
	replay      string
	approve     bool
	reject      bool
	sessionID   int64
	memoryID    int64
	reason      string
}

func parseFlags() flags {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to the YAML configuration file")
	flag.BoolVar(&f.listDevices, "list-devices", false, "list audio input devices and exit")
	flag.StringVar(&f.replay, "replay", "", "process a WAV file as one session and exit")
	flag.BoolVar(&f.approve, "approve", false, "approve the memory given by -session and -memory")
	flag.BoolVar(&f.reject, "reject", false, "reject the memory given by -session and -memory")
	flag.Int64Var(&f.sessionID, "session", 0, "session id for -approve/-reject")
	flag.Int64Var(&f.memoryID, "memory", 0, "memory id for -approve/-reject")
	flag.StringVar(&f.reason, "reason", "", "rejection reason for -reject")
	flag.Parse()
	return f
}

func run() int {
	f := parseFlags()

	if f.listDevices {
		return listDevices()
	}

	cfg, err := config.Load(f.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mnemo: config file %q not found, copy configs/example.yaml to get started\n", f.configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mnemo: %v\n", err)
		}
		return 1
	}

	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.SlogLevel())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if f.approve || f.reject {
		return review(ctx, cfg, f)
	}

	capture := "device"
	switch {
	case f.replay != "":
		capture = app.ReplaySource
	case cfg.Network.Enabled:
		capture = "network"
	}
	tel, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "mnemo",
		ServiceVersion: version,
		ASRModel:       cfg.Audio.ASR.Model,
		SpeakerModel:   cfg.Audio.SpeakerID.Model,
		Capture:        capture,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	slog.Info("mnemo starting", "version", version, "config", f.configPath, "log_level", cfg.Server.LogLevel)
	printStartupSummary(cfg, f.replay)

	application, err := app.New(ctx, cfg,
		app.WithLogLevel(level),
		app.WithMetrics(tel.Metrics),
		app.WithMetricsHandler(tel.Handler),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := application.Shutdown(sctx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
	}()

	if f.replay != "" {
		sum, err := application.Replay(ctx, f.replay)
		if err != nil {
			slog.Error("replay failed", "err", err)
			return 1
		}
		printSummary(sum)
		return 0
	}

	if _, err := application.WatchConfig(f.configPath); err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	}

	slog.Info("capturing, press Ctrl+C to end the session")
	sum, err := application.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	printSummary(sum)
	return 0
}

// review applies one approve or reject decision and prints the new session
// status.
func review(ctx context.Context, cfg *config.Config, f flags) int {
	if f.approve == f.reject {
		fmt.Fprintln(os.Stderr, "mnemo: exactly one of -approve and -reject is required")
		return 2
	}
	if f.sessionID <= 0 || f.memoryID <= 0 {
		fmt.Fprintln(os.Stderr, "mnemo: -session and -memory are required")
		return 2
	}

	repo, err := app.OpenRepository(ctx, cfg)
	if err != nil {
		slog.Error("failed to open repository", "err", err)
		return 1
	}
	defer repo.Close()

	wf := session.NewWorkflow(repo)
	var res session.Result
	if f.approve {
		res, err = wf.Approve(ctx, f.sessionID, f.memoryID)
	} else {
		res, err = wf.Reject(ctx, f.sessionID, f.memoryID, f.reason)
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		fmt.Fprintf(os.Stderr, "mnemo: memory %d not found\n", f.memoryID)
		return 1
	case errors.Is(err, session.ErrWrongSession):
		fmt.Fprintf(os.Stderr, "mnemo: memory %d does not belong to session %d\n", f.memoryID, f.sessionID)
		return 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "mnemo: %v\n", err)
		return 1
	}
	fmt.Printf("session %d: %s (pending %d, approved %d, rejected %d)\n",
		f.sessionID, res.SessionStatus, res.Counts.Pending, res.Counts.Approved, res.Counts.Rejected)
	return 0
}

func listDevices() int {
	devices, err := device.ListDevices(device.DefaultBackend())
	if err != nil {
		fmt.Fprintf(os.Stderr, "mnemo: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Println("no input devices found")
		return 0
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %3d  %-40s  %-12s  %d ch  %.0f Hz\n",
			marker, d.Index, d.Name, d.HostAPI, d.MaxInputChannels, d.DefaultSampleRate)
	}
	return 0
}

func printSummary(sum session.Summary) {
	if sum.SessionID == 0 {
		return
	}
	fmt.Printf("session %d: %s, %d events, %d proposed memories\n",
		sum.SessionID, sum.Status, len(sum.Events), len(sum.MemoryIDs))
	for _, ev := range sum.Events {
		fmt.Printf("  [%s] %-8s %-20s %q\n",
			ev.Timestamp.Format(time.TimeOnly), ev.SpeakerID, ev.PredictedIntent, ev.Transcript)
	}
}

func printStartupSummary(cfg *config.Config, replay string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          mnemo, startup summary       ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Transcriber", providerLabel(cfg.Providers.Transcriber))
	printRow("Fallbacks", fmt.Sprint(len(cfg.Providers.TranscriberFallbacks)))
	printRow("Speaker", providerLabel(cfg.Providers.Speaker))
	printRow("Storage", string(cfg.Storage.Backend))
	switch {
	case replay != "":
		printRow("Source", "replay")
	case cfg.Network.Enabled:
		printRow("Source", "network "+cfg.Network.Addr())
	default:
		printRow("Source", fmt.Sprintf("device %d", cfg.Audio.Capture.DeviceIndex))
	}
	printRow("VAD threshold", fmt.Sprintf("%.1f dB", cfg.Audio.VAD.EnergyThresholdDB))
	if cfg.Server.AdminAddr != "" {
		printRow("Admin addr", cfg.Server.AdminAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func providerLabel(e config.ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + " / " + e.Model
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-14s  : %-19s ║\n", label, value)
}
