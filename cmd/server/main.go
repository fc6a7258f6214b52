package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"

	"github.com/dkeye/Conference/internal/adapters/engine"
	router "github.com/dkeye/Conference/internal/adapters/http"
	"github.com/dkeye/Conference/internal/app"
	"github.com/dkeye/Conference/internal/app/orch"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/media"
	"github.com/dkeye/Conference/internal/notify"
)

func main() {
	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fx.New(
		fx.NopLogger,
		fx.Provide(
			loadConfig,
			dialEngine,
			startWorkers,
			newRegistry,
			newEventHub,
			newSink,
			newNotifier,
			newOrchestrator,
		),
		fx.Invoke(serveHTTP),
	).Run()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if cfg.Mode == "release" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	return cfg, nil
}

func dialEngine(lc fx.Lifecycle, cfg *config.Config) (media.Engine, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.RequestTimeout)
	defer cancel()
	client, err := engine.Dial(ctx, cfg.Engine.URL, cfg.Engine.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial media engine %s: %w", cfg.Engine.URL, err)
	}
	lc.Append(fx.StopHook(client.Close))
	return client, nil
}

// startWorkers exits the process shortly after any worker dies.
func startWorkers(lc fx.Lifecycle, cfg *config.Config, eng media.Engine, sd fx.Shutdowner) (*app.WorkerPool, error) {
	policy := &app.ExitPolicy{
		Grace: cfg.Workers.DeathGrace,
		Exit: func() {
			if err := sd.Shutdown(fx.ExitCode(1)); err != nil {
				log.Error().Err(err).Msg("shutdown after worker death")
				os.Exit(1)
			}
		},
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Engine.RequestTimeout)
	defer cancel()
	pool, err := app.NewWorkerPool(ctx, eng, cfg.Workers.Count, cfg.WorkerOptions(), policy)
	if err != nil {
		return nil, fmt.Errorf("start workers: %w", err)
	}
	lc.Append(fx.StopHook(pool.Close))
	return pool, nil
}

func newRegistry(cfg *config.Config, pool *app.WorkerPool) *app.Registry {
	return app.NewRegistry(pool, cfg.RouterOptions(), cfg.TransportConfig())
}

func newEventHub(lc fx.Lifecycle) *router.EventHub {
	hub := router.NewEventHub()
	lc.Append(fx.StopHook(hub.Close))
	return hub
}

func newNotifier(lc fx.Lifecycle, cfg *config.Config, sink notify.Sink) *notify.Notifier {
	n := notify.New(sink, notify.Options{
		MaxAttempts: cfg.Events.MaxAttempts,
		RetryStep:   cfg.Events.RetryStep,
		QueueSize:   cfg.Events.QueueSize,
	})
	lc.Append(fx.StopHook(func(ctx context.Context) error {
		err := n.Close(ctx)
		if dropped := n.Dropped(); dropped > 0 {
			log.Warn().Int64("dropped", dropped).Str("module", "notify").Msg("events dropped during run")
		}
		return err
	}))
	return n
}

// newOrchestrator ends every meeting on shutdown, before the notifier drains.
func newOrchestrator(lc fx.Lifecycle, cfg *config.Config, reg *app.Registry, n *notify.Notifier) *orch.Orchestrator {
	lc.Append(fx.StopHook(reg.EndAll))
	return orch.New(reg, n, cfg.Events.Topic)
}

func serveHTTP(lc fx.Lifecycle, cfg *config.Config, o *orch.Orchestrator, hub *router.EventHub) {
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.SetupRouter(cfg, o, hub),
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info().Str("addr", addr).Msg("Conference server started")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("server error")
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Info().Msg("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Server forced to shutdown")
				return err
			}
			log.Info().Msg("Server exited gracefully")
			return nil
		},
	})
}
