package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vincentbai/browsetrace/internal/browser"
	"github.com/vincentbai/browsetrace/internal/capture"
	"github.com/vincentbai/browsetrace/internal/config"
	"github.com/vincentbai/browsetrace/internal/database"
	"github.com/vincentbai/browsetrace/internal/logging"
	"github.com/vincentbai/browsetrace/internal/metrics"
	"github.com/vincentbai/browsetrace/internal/models"
	"github.com/vincentbai/browsetrace/internal/replay"
	"github.com/vincentbai/browsetrace/internal/server"
	"github.com/vincentbai/browsetrace/internal/session"
	"github.com/vincentbai/browsetrace/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := logging.NewLogger(cfg.Log.Env, cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Failed to create logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("browsetrace failed", zap.String("mode", cfg.Mode), zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	metrics.Init()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	switch cfg.Mode {
	case config.ModeServe:
		return server.NewServer(st, cfg.Server.Address, logger).Start(ctx)
	case config.ModeRecord:
		return record(ctx, cfg, st, logger)
	case config.ModeReplay:
		return replaySession(ctx, cfg, st, logger)
	}
	return fmt.Errorf("unknown mode %q", cfg.Mode)
}

func openStore(cfg *config.Config) (store.Store, func(), error) {
	if cfg.Output.Backend == config.BackendSQLite {
		if err := os.MkdirAll(filepath.Dir(cfg.Output.Database), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		db, err := database.NewDatabase(cfg.Output.Database)
		if err != nil {
			return nil, nil, err
		}
		return db, func() { db.Close() }, nil
	}

	format, err := store.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, nil, err
	}
	fileStore, err := store.NewFileStore(cfg.Output.Dir, format)
	if err != nil {
		return nil, nil, err
	}
	return fileStore, func() {}, nil
}

func record(ctx context.Context, cfg *config.Config, st store.Store, logger *zap.Logger) error {
	id := cfg.Session
	if id == "" {
		id = uuid.NewString()
	}

	chrome, err := browser.NewChrome(context.Background(), cfg.ChromeOptions(logger))
	if err != nil {
		return err
	}
	defer chrome.Close()

	recorder := session.NewRecorder(chrome, st, logger)
	recorder.Script = cfg.ScriptConfig()
	recorder.Viewport = &models.Viewport{Width: cfg.Browser.Width, Height: cfg.Browser.Height}
	recorder.Options = []capture.Option{
		capture.WithPolicy(cfg.Policy()),
		capture.WithSynthesizer(cfg.Synthesizer()),
		capture.WithMaxBodyBytes(cfg.Capture.MaxBodyBytes),
	}

	if cfg.Server.Enabled {
		srv := server.NewServer(st, cfg.Server.Address, logger)
		recorder.OnChannel = srv.Attach
		serverCtx, cancel := context.WithCancel(context.Background())
		serverDone := make(chan error, 1)
		go func() { serverDone <- srv.Start(serverCtx) }()
		defer func() {
			cancel()
			if err := <-serverDone; err != nil {
				logger.Warn("Server stopped with error", zap.Error(err))
			}
		}()
	}

	_, err = recorder.Record(ctx, id, cfg.URL)
	return err
}

func replaySession(ctx context.Context, cfg *config.Config, st store.Store, logger *zap.Logger) error {
	chrome, err := browser.NewChrome(context.Background(), cfg.ChromeOptions(logger))
	if err != nil {
		return err
	}
	defer chrome.Close()

	engine := replay.New(chrome, cfg.ReplayOptions(), logger)
	replayer := session.NewReplayer(st, engine, logger, os.Stdout)
	_, err = replayer.Replay(ctx, cfg.Session, cfg.URL)
	return err
}
