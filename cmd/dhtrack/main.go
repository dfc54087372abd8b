// Command dhtrack runs the history-tracker companion: it opens (or creates)
// the archive, serves the loopback ingest endpoints for the browser capture
// script, and drives the media download engine.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/dhtrack/archive"
	"github.com/hazyhaar/dhtrack/config"
	"github.com/hazyhaar/dhtrack/downloader"
	"github.com/hazyhaar/dhtrack/track"
)

// logReporter narrates migration progress.
type logReporter struct {
	log     *slog.Logger
	current int
}

func (r *logReporter) NextVersion() {
	r.current++
	r.log.Info("archive: migrated", "step", r.current)
}

func main() {
	cfg, err := config.Load(os.Getenv("DHT_CONFIG"))
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch cfg.LogLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := archive.Open(ctx, cfg.Database.Path,
		archive.WithCanUpgrade(func(from, to int) bool {
			logger.Info("archive: upgrading", "from", from, "to", to)
			return true
		}),
		archive.WithReporter(&logReporter{log: logger}),
		archive.WithLogger(logger))
	if err != nil {
		logger.Error("archive: open", "path", cfg.Database.Path, "error", err)
		os.Exit(1)
	}
	defer a.Close()

	token := cfg.Listen.Token
	if token == "" {
		token = uuid.NewString()
	}

	server := track.New(a, track.Config{
		Port:         cfg.Listen.Port,
		Token:        token,
		MaxBodyBytes: cfg.Listen.MaxBodyBytes,
	}, logger)
	addr, err := server.Start()
	if err != nil {
		logger.Error("track: start", "error", err)
		os.Exit(1)
	}
	// The capture script is configured with these two values.
	logger.Info("ready", "addr", addr, "token", token)

	engine := downloader.New(a.Downloads, downloader.Config{
		Workers:   cfg.Download.Workers,
		BatchSize: cfg.Download.BatchSize,
		Timeout:   cfg.Download.Timeout,
		MaxBytes:  cfg.Download.MaxBytes,
		Logger:    logger,
	})
	finished, err := engine.Start()
	if err != nil {
		logger.Error("downloader: start", "error", err)
		os.Exit(1)
	}
	go func() {
		for f := range finished {
			logger.Info("download finished",
				"url", f.Item.NormalizedURL, "status", int64(f.Status), "bytes", f.Size)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	engine.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("track: shutdown", "error", err)
	}
}
