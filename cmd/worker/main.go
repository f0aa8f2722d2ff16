package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/multimodalrag/internal/app"
	"github.com/nikhilbhutani/multimodalrag/internal/config"
	"github.com/nikhilbhutani/multimodalrag/internal/queue"
	"github.com/nikhilbhutani/multimodalrag/internal/queue/workers"
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
	if cfg.Store.Backend == "memory" {
		// units indexed here would be invisible to the API process
		slog.Warn("worker is running against an in-memory vector store")
	}

	ctx := context.Background()

	store, closeStore, err := app.NewVectorStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open vector store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	rdb := app.NewRedis(ctx, cfg.Redis)
	if rdb != nil {
		defer rdb.Close()
	}

	embedder, err := app.NewEmbedder(cfg.Embedding, cfg.Store, rdb)
	if err != nil {
		slog.Error("failed to configure embeddings", "error", err)
		os.Exit(1)
	}
	indexer := app.NewIngestService(cfg.Ingest, store, embedder)

	srv := asynq.NewServer(
		queue.RedisOpt(cfg.Redis),
		asynq.Config{
			Concurrency: cfg.Worker.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeContentIndex, workers.NewContentWorker(indexer))
	registry.Register(queue.TypeDocumentIndex, workers.NewDocumentWorker(indexer))

	slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency, "tasks", registry.Types())
	if err := srv.Run(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}
}
