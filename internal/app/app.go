// Package app wires configuration into the services shared by the API
// server and the ingestion worker.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/nikhilbhutani/multimodalrag/internal/cache"
	"github.com/nikhilbhutani/multimodalrag/internal/config"
	"github.com/nikhilbhutani/multimodalrag/internal/database"
	"github.com/nikhilbhutani/multimodalrag/internal/embedding"
	"github.com/nikhilbhutani/multimodalrag/internal/ingest"
	"github.com/nikhilbhutani/multimodalrag/internal/llm"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/rag"
	"github.com/nikhilbhutani/multimodalrag/internal/retrieval"
	"github.com/nikhilbhutani/multimodalrag/internal/session"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore/memory"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore/pgvector"
	"github.com/nikhilbhutani/multimodalrag/pkg/chunker"
)

// NewRedis returns a client, or nil when redis is unreachable.
func NewRedis(ctx context.Context, cfg config.RedisConfig) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable", "addr", cfg.Addr, "error", err)
		rdb.Close()
		return nil
	}
	return rdb
}

// NewVectorStore opens the configured backend. The returned close func is
// never nil.
func NewVectorStore(ctx context.Context, cfg *config.Config) (vectorstore.VectorStore, func(), error) {
	dims := vectorstore.DimensionsFromConfig(cfg.Store.Dims())
	switch cfg.Store.Backend {
	case "memory":
		return memory.NewStore(dims), func() {}, nil
	case "pgvector":
		pool, err := database.NewPool(ctx, cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Database.RunMigrations {
			if err := database.RunMigrations(ctx, pool, database.Migrations()); err != nil {
				pool.Close()
				return nil, nil, fmt.Errorf("run migrations: %w", err)
			}
		}
		return pgvector.NewStore(pool, dims), pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown vector store %q", cfg.Store.Backend)
	}
}

var _ pgvector.DB = (*pgxpool.Pool)(nil)

// NewEmbedder builds the embedding service. rdb may be nil, which disables
// the vector cache.
func NewEmbedder(cfg config.EmbeddingConfig, dims config.StoreConfig, rdb *redis.Client) (*embedding.Service, error) {
	opts := embedding.Options{
		TextModel:     cfg.TextModel,
		ImageModel:    cfg.ImageModel,
		MaxTextChars:  cfg.MaxTextChars,
		MaxImageBytes: cfg.MaxImageBytes,
		TextDim:       dims.TextDim,
		ImageDim:      dims.ImageDim,
		CacheTTL:      cfg.CacheTTL,
	}
	switch cfg.TextBackend {
	case "ollama":
		p, err := llm.NewOllamaProvider(cfg.OllamaURL)
		if err != nil {
			return nil, err
		}
		opts.Text = p
	case "openai":
		opts.Text = llm.NewOpenAIProvider("openai", cfg.TextAPIKey, cfg.TextBaseURL)
	default:
		return nil, fmt.Errorf("unknown text embedding backend %q", cfg.TextBackend)
	}
	if cfg.ImageBaseURL != "" {
		opts.Image = llm.NewOpenAIProvider("clip", cfg.ImageAPIKey, cfg.ImageBaseURL)
	}
	if rdb != nil && cfg.CacheTTL > 0 {
		opts.Cache = cache.NewCache(rdb)
	}
	return embedding.NewService(opts), nil
}

// Backends are the generation providers, kept as llm.Provider so readiness
// can ping them.
type Backends struct {
	Primary  llm.Provider
	Fallback llm.Provider
}

func NewBackends(cfg config.GenerationConfig) Backends {
	var b Backends
	switch cfg.PrimaryProvider {
	case "anthropic":
		b.Primary = llm.NewAnthropicProvider(cfg.AnthropicKey)
	default:
		b.Primary = llm.NewOpenAIProvider("cerebras", cfg.PrimaryAPIKey, cfg.PrimaryBaseURL)
	}
	if p, err := llm.NewOllamaProvider(cfg.OllamaURL); err != nil {
		slog.Warn("fallback backend disabled", "error", err)
	} else {
		b.Fallback = p
	}
	return b
}

// Generator converts the backends into the generator's ports without
// letting a missing provider become a typed nil.
func (b Backends) Generator(cfg config.GenerationConfig) *rag.Generator {
	var primary, fallback rag.ChatBackend
	if b.Primary != nil {
		primary = b.Primary
	}
	if b.Fallback != nil {
		fallback = b.Fallback
	}
	return rag.NewGenerator(primary, fallback, GeneratorOptions(cfg))
}

func GeneratorOptions(cfg config.GenerationConfig) rag.GeneratorOptions {
	opts := rag.DefaultGeneratorOptions()
	if cfg.PrimaryModel != "" {
		opts.PrimaryModel = cfg.PrimaryModel
	}
	if cfg.FallbackModel != "" {
		opts.FallbackModel = cfg.FallbackModel
	}
	if cfg.Temperature > 0 {
		opts.Temperature = cfg.Temperature
	}
	if cfg.TopP > 0 {
		opts.TopP = cfg.TopP
	}
	if cfg.MaxTokens > 0 {
		opts.MaxTokens = cfg.MaxTokens
	}
	if cfg.PrimaryTimeout > 0 {
		opts.PrimaryTimeout = cfg.PrimaryTimeout
	}
	if cfg.FallbackTimeout > 0 {
		opts.FallbackTimeout = cfg.FallbackTimeout
	}
	if cfg.HistoryTokenBudget > 0 {
		opts.HistoryTokenBudget = cfg.HistoryTokenBudget
	}
	return opts
}

func RetrievalOptions(cfg config.RetrievalConfig) retrieval.Options {
	return retrieval.Options{
		PerPartitionK:     cfg.PerPartitionK,
		MaxResults:        cfg.MaxRetrievedDocs,
		CrossRefTopN:      cfg.CrossRefTopN,
		CrossRefThreshold: cfg.CrossRefThreshold,
		Offsets: map[models.Modality]float64{
			models.ModalityDocument: cfg.DocumentOffset,
			models.ModalityImage:    cfg.ImageOffset,
			models.ModalityAudio:    cfg.AudioOffset,
		},
	}
}

// NewSessionStore falls back to memory when redis was requested but is
// unavailable.
func NewSessionStore(cfg config.SessionConfig, rdb *redis.Client) session.Store {
	if cfg.Backend == "redis" {
		if rdb != nil {
			return session.NewRedisStore(rdb, cfg.KeyPrefix)
		}
		slog.Warn("redis session store unavailable, keeping sessions in memory")
	}
	return session.NewMemoryStore()
}

func NewIngestService(cfg config.IngestConfig, store vectorstore.VectorStore, embedder embedding.Embedder) *ingest.Service {
	return ingest.NewService(store, embedder, ingest.Options{
		Concurrency: cfg.Concurrency,
		Chunking: chunker.Options{
			MaxChars:     cfg.ChunkMaxChars,
			OverlapWords: cfg.ChunkOverlapWords,
		},
	})
}

// NewPipeline assembles the query path.
func NewPipeline(cfg *config.Config, store vectorstore.VectorStore, embedder embedding.Embedder, gen *rag.Generator, sessions session.Store) *rag.Pipeline {
	engine := retrieval.NewEngine(store, embedder, RetrievalOptions(cfg.Retrieval))
	assembler := rag.NewAssembler(cfg.Retrieval.MaxContextLength, cfg.Retrieval.RelevanceFloor)
	return rag.NewPipeline(engine, assembler, gen, session.NewManager(sessions))
}
