package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/evv-api/internal/app"
	"github.com/jwalitptl/evv-api/internal/config"
	"github.com/jwalitptl/evv-api/internal/handler"
	claimHandler "github.com/jwalitptl/evv-api/internal/handler/claim"
	dashboardHandler "github.com/jwalitptl/evv-api/internal/handler/dashboard"
	visitHandler "github.com/jwalitptl/evv-api/internal/handler/visit"
	"github.com/jwalitptl/evv-api/internal/middleware"
	"github.com/jwalitptl/evv-api/internal/router"
	"github.com/jwalitptl/evv-api/pkg/auth"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	logger := app.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "failed to initialize application")
	}
	defer a.Close()

	if err := middleware.RegisterValidators(); err != nil {
		logger.Fatal(err, "failed to register request validators")
	}

	authMiddleware := middleware.NewAuthMiddleware(auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer), cfg.JWT.CacheTTL)

	r := router.NewRouter(
		authMiddleware,
		handler.NewHandler(a.Store, a.Registry),
		visitHandler.NewHandler(a.Visits),
		claimHandler.NewHandler(a.Claims),
		dashboardHandler.NewHandler(a.Dashboard),
		router.RouterConfig{
			Mode:           cfg.Server.Mode,
			RateLimit:      rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:      cfg.RateLimit.Burst,
			RequestTimeout: cfg.Server.RequestTimeout,
			CORSConfig:     middleware.DefaultCORSConfig(cfg.Server.AllowedOrigins),
			MetricsPrefix:  "evv_http",
			Registerer:     a.Registry,
		},
	)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	var wg sync.WaitGroup
	// With in-memory storage the outbox only exists in this process, so the
	// background jobs must run here.
	if cfg.Storage == "memory" {
		jobs, err := a.Workers(ctx)
		if err != nil {
			logger.Fatal(err, "failed to start background workers")
		}
		for _, job := range jobs {
			wg.Add(1)
			go func(run func(context.Context)) {
				defer wg.Done()
				run(ctx)
			}(job)
		}
	}

	go func() {
		logger.Info("Starting API server", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "API server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(err, "Server forced to shutdown")
	}
	wg.Wait()

	logger.Info("Server exited properly")
}
