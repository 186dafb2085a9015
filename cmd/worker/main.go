package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/evv-api/internal/app"
	"github.com/jwalitptl/evv-api/internal/config"
	"github.com/jwalitptl/evv-api/internal/handler"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logger := app.NewLogger(cfg.Log)

	if cfg.Storage != "postgres" {
		logger.Fatal(fmt.Errorf("storage %q", cfg.Storage), "The worker needs shared postgres storage")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal(err, "Failed to initialize application")
	}
	defer a.Close()

	jobs, err := a.Workers(ctx)
	if err != nil {
		logger.Fatal(err, "Failed to create workers")
	}

	srv := healthServer(cfg.Server.HealthPort, handler.NewHandler(a.Store, a.Registry))
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(err, "Health check server failed")
			stop()
		}
	}()

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(ctx)
		}(job)
	}
	logger.Info("Worker started", "jobs", len(jobs))

	<-ctx.Done()
	logger.Info("Shutting down...")
	_ = srv.Shutdown(context.Background())
	wg.Wait()
}

func healthServer(port int, h *handler.Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	h.RegisterRoutes(engine)

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: engine,
	}
}
