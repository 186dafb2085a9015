// Package app wires configuration into stores, services and workers. Both
// binaries build on it.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/evv-api/internal/config"
	"github.com/jwalitptl/evv-api/internal/repository"
	"github.com/jwalitptl/evv-api/internal/repository/memory"
	"github.com/jwalitptl/evv-api/internal/repository/postgres"
	"github.com/jwalitptl/evv-api/internal/service/claim"
	"github.com/jwalitptl/evv-api/internal/service/dashboard"
	"github.com/jwalitptl/evv-api/internal/service/event"
	"github.com/jwalitptl/evv-api/internal/service/evvsync"
	"github.com/jwalitptl/evv-api/internal/service/units"
	"github.com/jwalitptl/evv-api/internal/service/validation"
	"github.com/jwalitptl/evv-api/internal/service/visit"
	internalworker "github.com/jwalitptl/evv-api/internal/worker"
	"github.com/jwalitptl/evv-api/pkg/aggregator"
	"github.com/jwalitptl/evv-api/pkg/clock"
	"github.com/jwalitptl/evv-api/pkg/logger"
	"github.com/jwalitptl/evv-api/pkg/messaging/redis"
	"github.com/jwalitptl/evv-api/pkg/metrics"
	"github.com/jwalitptl/evv-api/pkg/worker"
)

const metricsNamespace = "evv"

type App struct {
	Config   *config.Config
	Log      *logger.Logger
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics
	Store    repository.Store

	Visits    *visit.Service
	Claims    *claim.Service
	Dashboard *dashboard.Service
	Events    *event.EventService

	closer []func() error
}

// NewLogger builds the process logger and makes it the zerolog default, so
// request-scoped loggers and library code share its level and format.
func NewLogger(cfg config.LogConfig) *logger.Logger {
	l := logger.NewLogger(&logger.Config{
		Level:      logger.ParseLevel(cfg.Level),
		TimeFormat: time.RFC3339,
		Output:     os.Stdout,
		JSON:       cfg.Format == "json",
	})
	log.Logger = *l.Zerolog()
	zerolog.DefaultContextLogger = &log.Logger
	return l
}

func New(ctx context.Context, cfg *config.Config, l *logger.Logger) (*App, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(metricsNamespace, reg)

	a := &App{Config: cfg, Log: l, Registry: reg, Metrics: m}

	clk := clock.New()
	store, err := a.openStore(ctx, clk)
	if err != nil {
		return nil, err
	}
	a.Store = store

	ur := cfg.UnitRule()
	rule := units.Rule{MinimumMinutes: ur.MinimumMinutes, UnitMinutes: ur.UnitMinutes}
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	rate, err := cfg.Claims.Rate()
	if err != nil {
		return nil, fmt.Errorf("invalid claims.unit_rate: %w", err)
	}

	validator := validation.NewValidator(store, rule, m)
	a.Events = event.NewEventService(store.Outbox(), l)
	adapter := evvsync.NewAdapter(aggregator.NewClient(cfg.Aggregator.ToClientConfig()), rule, m)

	a.Visits = visit.NewService(store, validator, adapter, a.Events, clk,
		visit.Config{StartGrace: cfg.Visits.StartGrace}, l, m)
	a.Claims = claim.NewService(store, validator, a.Events, rule, clk,
		claim.Config{UnitRate: rate, BlockOnErrors: cfg.Claims.BlockOnErrors}, l, m)
	a.Dashboard = dashboard.NewService(store, validator, clk, dashboard.Config{
		LateStartThreshold: cfg.Visits.LateStartThreshold,
		ExpiringWindow:     cfg.Claims.ExpiringWindow,
	})

	l.Info("Application initialized", "storage", cfg.Storage, "jurisdiction", cfg.Units.Jurisdiction)
	return a, nil
}

func (a *App) openStore(ctx context.Context, clk clock.Clock) (repository.Store, error) {
	if a.Config.Storage == "memory" {
		a.Log.Warn("Using in-memory storage; data is lost on restart")
		s := memory.NewStore()
		s.SetNow(clk.Now)
		return s, nil
	}

	db, err := postgres.NewDB(a.Config.Database)
	if err != nil {
		return nil, err
	}
	a.closer = append(a.closer, db.Close)

	if a.Config.Database.AutoMigrate {
		n, err := postgres.Migrate(ctx, db)
		if err != nil {
			return nil, err
		}
		a.Log.Info("Database migrations applied", "count", n)
	}
	return postgres.NewStore(db, a.Log, a.Metrics), nil
}

// Workers returns the background jobs: outbox delivery, sync retry and
// outbox cleanup. The Redis broker is connected here.
func (a *App) Workers(ctx context.Context) ([]func(context.Context), error) {
	broker, err := redis.NewRedisBroker(ctx, a.Config.Redis.ToBrokerConfig(), a.Log.Zerolog())
	if err != nil {
		return nil, err
	}
	a.closer = append(a.closer, broker.Close)

	wcfg := a.Config.Outbox.ToWorkerConfig()
	wcfg.Channel = a.Config.Redis.Channel
	processor, err := worker.NewOutboxProcessor(a.Store.Outbox(), broker, wcfg, a.Log, a.Metrics)
	if err != nil {
		return nil, fmt.Errorf("failed to create outbox processor: %w", err)
	}

	jobs := []func(context.Context){
		processor.Start,
		internalworker.NewEventCleanupWorker(a.Events, time.Hour, a.Log).Start,
	}
	if a.Config.SyncRetry.Enabled {
		jobs = append(jobs, internalworker.NewSyncRetryWorker(a.Visits, internalworker.SyncRetryConfig{
			PollInterval: a.Config.SyncRetry.PollInterval,
			MinAge:       a.Config.SyncRetry.MinAge,
			BatchSize:    a.Config.SyncRetry.BatchSize,
		}, a.Log).Start)
	}
	return jobs, nil
}

func (a *App) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			a.Log.Error(err, "Failed to release resource")
		}
	}
}
