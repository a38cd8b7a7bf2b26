package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/tyranno/nanumpay-sub001/internal/auth"
	"github.com/tyranno/nanumpay-sub001/internal/config"
	"github.com/tyranno/nanumpay-sub001/internal/httpapi"
	"github.com/tyranno/nanumpay-sub001/internal/scheduler"
	"github.com/tyranno/nanumpay-sub001/internal/service"
	"github.com/tyranno/nanumpay-sub001/internal/snapshot"
	"github.com/tyranno/nanumpay-sub001/internal/storage/sqlite"
	"github.com/tyranno/nanumpay-sub001/pkg/logging"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logging.Setup(cfg.App.Env, cfg.App.LogLevel)

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config) error {
	schedCfg, err := cfg.Payout.Scheduler()
	if err != nil {
		return err
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer store.Close()
	slog.Info("Storage initialized", "database", cfg.Database.Path)

	snaps := snapshot.NewService(store, store)
	sched, err := scheduler.New(store, snaps, schedCfg)
	if err != nil {
		return err
	}
	payouts := service.NewPayoutService(store, snaps, sched)

	opts := httpapi.Options{Metrics: cfg.Metrics.Enabled}
	if cfg.Auth.JWTSecret != "" {
		opts.JWT = auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)
	} else {
		slog.Warn("auth.jwt_secret not set, /v1 is unauthenticated")
	}

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      h2c.NewHandler(httpapi.NewRouter(payouts, opts), &http2.Server{}),
		WriteTimeout: 120 * time.Second,
		ReadTimeout:  40 * time.Second,
		IdleTimeout:  time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "address", cfg.HTTP.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
