package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rendis/flowgraph/internal/adapters/redis"
	"github.com/rendis/flowgraph/internal/httpapi"
	"github.com/rendis/flowgraph/internal/logging"
	"github.com/rendis/flowgraph/internal/scheduler"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and status projector",
	Long: `Starts the editing API, the SSE status stream and the status projector.
Persisted status events are replayed before the API accepts requests. When a
Redis address is configured, status events are also consumed from pub/sub.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg := loadConfig()
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.ListenAddr = v
		}
		logger, level := commandLogger(cmd, cfg)
		return runServe(cmd.Context(), cfg, logger, level)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "TCP listen address (overrides settings)")
}

func runServe(parent context.Context, cfg Config, logger *slog.Logger, level *slog.LevelVar) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	api := httpapi.NewServer(httpapi.Deps{
		Store:     a.store,
		Sessions:  a.sessions,
		Projector: a.projector,
		Binder:    a.binder,
		Codec:     a.codec,
		Exprs:     a.exprs,
		Hub:       a.hub,
		Metrics:   a.metrics,
		Logger:    logger.With(slog.String("component", "http")),
	})

	swapper := newHandlerSwapper(startingHandler())
	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           swapper,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("addr", cfg.ListenAddr))
		serverErrors <- srv.ListenAndServe()
	}()

	restored, err := restoreInstances(ctx, a.store, a.projector, logger)
	if err != nil {
		logger.Error("instance restore incomplete", slog.String("error", err.Error()))
	}
	logger.Info("instances restored", slog.Int("count", restored))
	swapper.Swap(api.Handler())

	go func() {
		if err := a.projector.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("projector stopped", slog.String("error", err.Error()))
		}
	}()

	if cfg.RedisAddr != "" {
		transport := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB,
			redis.WithChannel(cfg.RedisChannel),
			redis.WithLogger(logger.With(slog.String("component", "redis"))))
		defer transport.Close()
		go func() {
			if err := transport.Consume(ctx, a.projector); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("status subscription stopped", slog.String("error", err.Error()))
			}
		}()
	}

	sched, err := scheduler.NewScheduler(a.projector,
		scheduler.WithSpec(cfg.SweepSpec),
		scheduler.WithInstanceTTL(cfg.instanceTTL()),
		scheduler.WithEventRetention(cfg.eventRetention()),
		scheduler.WithPruner(a.store),
		scheduler.WithLogger(logger.With(slog.String("component", "scheduler"))))
	if err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	reload := make(chan os.Signal, 1)
	signal.Notify(reload, syscall.SIGHUP)
	defer signal.Stop(reload)

	for {
		select {
		case err := <-serverErrors:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("http server: %w", err)
		case <-reload:
			cfg = applyReload(cfg, logger, level)
		case <-ctx.Done():
			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("graceful shutdown incomplete", slog.String("error", err.Error()))
				_ = srv.Close()
			}
			return nil
		}
	}
}

// applyReload re-reads the configuration on SIGHUP. Only the log level takes
// effect live; other changes are reported and wait for a restart.
func applyReload(old Config, logger *slog.Logger, level *slog.LevelVar) Config {
	next := loadConfig()
	diff := diffConfigs(old, next)
	if diff.LogLevelChanged {
		level.Set(logging.ParseLevel(next.LogLevel))
		logger.Info("log level changed", slog.String("level", next.LogLevel))
	}
	if len(diff.RestartNeeded) > 0 {
		logger.Warn("configuration changes need a restart", slog.Any("fields", diff.RestartNeeded))
	}
	return next
}
