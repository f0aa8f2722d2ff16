package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/api"
	"github.com/nikhilbhutani/multimodalrag/internal/api/handlers"
	"github.com/nikhilbhutani/multimodalrag/internal/app"
	"github.com/nikhilbhutani/multimodalrag/internal/config"
	"github.com/nikhilbhutani/multimodalrag/internal/queue"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := app.NewVectorStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open vector store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	// Redis connection (optional)
	rdb := app.NewRedis(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	embedder, err := app.NewEmbedder(cfg.Embedding, cfg.Store, rdb)
	if err != nil {
		slog.Error("failed to configure embeddings", "error", err)
		os.Exit(1)
	}

	backends := app.NewBackends(cfg.Generation)
	pipeline := app.NewPipeline(cfg, store, embedder, backends.Generator(cfg.Generation), app.NewSessionStore(cfg.Session, rdb))
	ingestSvc := app.NewIngestService(cfg.Ingest, store, embedder)

	checks := map[string]handlers.Pinger{
		"vector_store":    store,
		"primary_backend": backends.Primary,
	}
	if backends.Fallback != nil {
		checks["fallback_backend"] = backends.Fallback
	}

	deps := api.Deps{Query: pipeline, Ingest: ingestSvc, Checks: checks}
	if rdb != nil {
		qc := queue.NewClient(cfg.Redis)
		defer qc.Close()
		deps.Queue = qc
		checks["redis"] = handlers.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}

	router := api.NewRouter(cfg, deps)
	go router.Limiter().Cleanup(ctx)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Generation.PrimaryTimeout + cfg.Generation.FallbackTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server",
			"addr", cfg.Addr(),
			"vector_store", cfg.Store.Backend,
			"sessions", cfg.Session.Backend,
			"primary", backends.Primary.Name(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}
