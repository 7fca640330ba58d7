package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"recipegen/internal/api"
	"recipegen/internal/config"
	"recipegen/internal/logger"
	"recipegen/internal/metrics"
	"recipegen/internal/recipe"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Fatalf("config: %v", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	sink, err := metrics.NewSink(registry)
	if err != nil {
		log.Fatalf("create metrics sink: %v", err)
	}

	svc, err := recipe.NewServiceFromConfig(&cfg.LLM, recipe.Options{
		RemoteRepair: cfg.Pipeline.RemoteRepair,
		Timeout:      cfg.Pipeline.Timeout,
		Sink:         recipe.NewMultiSink(recipe.LogSink{}, sink),
	})
	if err != nil {
		log.Fatalf("create recipe service: %v", err)
	}

	var store recipe.RecipeStore
	switch cfg.Store {
	case "sqlite":
		sqliteStore, err := recipe.NewSQLiteStore(cfg.Database.DSN)
		if err != nil {
			log.Fatalf("create sqlite recipe store: %v", err)
		}
		store = sqliteStore
	default:
		store = recipe.NewMemoryStore()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handler := api.NewHandler(svc, cfg.Keys(), api.Options{
		Store:       store,
		RateLimiter: api.NewRateLimiter(ctx, cfg.RateLimit.RPS, cfg.RateLimit.Burst),
		Observer:    sink,
		Metrics:     metrics.Handler(registry),
	})

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	handler.Routes(r)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Pipeline.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 优雅关闭
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		<-ctx.Done()
		logger.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "error", err)
		} else {
			logger.Info("server gracefully stopped")
		}

		if err := store.Close(); err != nil {
			logger.Error("close recipe store", "error", err)
		}
	}()

	logger.Info("server listening",
		"addr", addr,
		"provider", svc.ProviderName(),
		"model", svc.DefaultModel(),
		"store", cfg.Store,
	)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}
	<-closed
}
