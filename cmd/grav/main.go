package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/sebas/grav/internal/banner"
	"github.com/sebas/grav/internal/grav/api"
	"github.com/sebas/grav/internal/grav/config"
	"github.com/sebas/grav/internal/grav/driver"
	"github.com/sebas/grav/internal/grav/health"
	"github.com/sebas/grav/internal/grav/media"
	"github.com/sebas/grav/internal/grav/metrics"
	"github.com/sebas/grav/internal/grav/rotation"
	"github.com/sebas/grav/internal/grav/session"
	"github.com/sebas/grav/internal/logger"
)

func main() {
	os.Exit(start())
}

// start runs grav and returns the process exit code. Deferred cleanup,
// including closing the log file, runs before main exits.
func start() int {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		return 2
	}

	// Initialize logger
	closeLog, err := initLogging(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logfile:", err)
		return 1
	}
	defer closeLog()

	banner.Print("grav session manager", []banner.ConfigLine{
		{Label: "HTTP API", Value: cfg.HTTPAddr},
		{Label: "gRPC health", Value: orNone(cfg.GRPCAddr)},
		{Label: "Advertise", Value: cfg.AdvertiseAddr},
		{Label: "Video sessions", Value: orNone(strings.Join(cfg.Video, ", "))},
		{Label: "Audio sessions", Value: orNone(strings.Join(cfg.Audio, ", "))},
		{Label: "Rotation", Value: rotationLine(cfg)},
		{Label: "Log level", Value: cfg.LogLevel},
	})

	if err := run(cfg); err != nil {
		slog.Error("grav stopped with error", "error", err)
		return 1
	}
	slog.Info("grav stopped")
	return 0
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Session plumbing
	videoSources := media.NewSourceTable(session.KindVideo)
	audioSources := media.NewSourceTable(session.KindAudio)
	factory := media.NewFactory(media.FactoryConfig{SourceTimeout: cfg.SourceTimeout})
	reg := session.NewRegistry(factory, videoSources, audioSources)
	defer reg.Close()

	m := metrics.New()
	playlist := rotation.NewPlaylist(reg)
	playlist.OnAdvance(m.IncRotations)

	drv := driver.New(reg, driver.Config{IdleSleep: cfg.IdleSleep, PassInterval: cfg.PassInterval})
	drv.OnPass(m.ObservePass)

	applyStartupSessions(cfg, reg, playlist)

	apiSrv := api.NewServer(cfg.HTTPAddr, api.Options{
		Registry:  reg,
		Playlist:  playlist,
		Driver:    drv,
		Video:     videoSources,
		Audio:     audioSources,
		Metrics:   m,
		Advertise: cfg.AdvertiseAddr,
	})

	g, gctx := errgroup.WithContext(ctx)

	var hs *health.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", cfg.GRPCAddr, err)
		}
		hs = health.NewServer()
		g.Go(func() error { return hs.Serve(lis) })
		g.Go(func() error {
			<-gctx.Done()
			hs.Stop()
			return nil
		})
	}

	g.Go(func() error {
		if hs != nil {
			hs.SetDriverRunning(true)
			defer hs.SetDriverRunning(false)
		}
		return drv.Run(gctx)
	})

	g.Go(func() error {
		return apiSrv.ListenAndServe(gctx)
	})

	if cfg.RotateInterval > 0 {
		g.Go(func() error {
			playlist.Run(gctx, cfg.RotateInterval)
			return nil
		})
	}

	<-gctx.Done()
	slog.Info("Shutting down")

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// applyStartupSessions brings up the configured sessions. Failures are
// logged and skipped so one bad address does not stop the rest.
func applyStartupSessions(cfg *config.Config, reg *session.Registry, playlist *rotation.Playlist) {
	create := func(addrs []string, kind session.Kind) {
		for _, addr := range addrs {
			if err := reg.Create(addr, kind); err != nil {
				slog.Error("Failed to create startup session", "address", addr, "kind", kind, "error", err)
			}
		}
	}
	create(cfg.Video, session.KindVideo)
	create(cfg.Audio, session.KindAudio)

	for addr, key := range cfg.EncryptionKeys {
		if err := reg.SetEncryptionKey(addr, key); err != nil {
			slog.Warn("Encryption key for unknown session", "address", addr, "error", err)
		}
	}

	for _, addr := range cfg.Rotate {
		if err := playlist.AddCandidate(addr); err != nil {
			slog.Warn("Skipping rotation candidate", "address", addr, "error", err)
		}
	}
	if len(cfg.Rotate) > 0 {
		if err := playlist.Advance(); err != nil {
			slog.Error("Initial rotation failed", "error", err)
		}
	}
}

func initLogging(cfg *config.Config) (func(), error) {
	if cfg.LogFile == "" {
		logger.SetLevel(cfg.LogLevel)
		logger.InitLogger(os.Stdout)
		return func() {}, nil
	}

	f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	logger.InitLoggerWithLevels(map[io.Writer]slog.Level{
		os.Stdout: logger.ParseLevel(cfg.LogLevel),
		f:         slog.LevelDebug,
	})
	return func() { _ = f.Close() }, nil
}

func rotationLine(cfg *config.Config) string {
	if len(cfg.Rotate) == 0 {
		return "(none)"
	}
	if cfg.RotateInterval == 0 {
		return fmt.Sprintf("%d candidates, manual", len(cfg.Rotate))
	}
	return fmt.Sprintf("%d candidates, every %s", len(cfg.Rotate), cfg.RotateInterval)
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
