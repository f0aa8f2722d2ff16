package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/multimodalrag/internal/config"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/rag"
	"github.com/nikhilbhutani/multimodalrag/internal/session"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore/memory"
)

func TestNewVectorStore_Memory(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: "memory", TextDim: 4, ImageDim: 2}}
	store, closeFn, err := NewVectorStore(context.Background(), cfg)
	require.NoError(t, err)
	defer closeFn()
	assert.IsType(t, &memory.Store{}, store)
	assert.NoError(t, store.Ping(context.Background()))
}

func TestNewVectorStore_PgvectorNeedsURL(t *testing.T) {
	cfg := &config.Config{Store: config.StoreConfig{Backend: "pgvector", TextDim: 4, ImageDim: 2}}
	_, _, err := NewVectorStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestNewVectorStore_Unknown(t *testing.T) {
	_, _, err := NewVectorStore(context.Background(), &config.Config{Store: config.StoreConfig{Backend: "faiss"}})
	assert.Error(t, err)
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.EmbeddingConfig{TextBackend: "openai", TextModel: "text-embedding-3-small", ImageBaseURL: "http://localhost:7997", ImageModel: "clip"}
	svc, err := NewEmbedder(cfg, config.StoreConfig{TextDim: 1536, ImageDim: 512}, nil)
	require.NoError(t, err)
	assert.Equal(t, 512, svc.Dimensions("image"))

	cfg.TextBackend = "word2vec"
	_, err = NewEmbedder(cfg, config.StoreConfig{}, nil)
	assert.Error(t, err)
}

func TestGeneratorOptions(t *testing.T) {
	opts := GeneratorOptions(config.GenerationConfig{PrimaryModel: "llama-3.3-70b", PrimaryTimeout: 5 * time.Second})
	def := rag.DefaultGeneratorOptions()
	assert.Equal(t, "llama-3.3-70b", opts.PrimaryModel)
	assert.Equal(t, 5*time.Second, opts.PrimaryTimeout)
	assert.Equal(t, def.FallbackModel, opts.FallbackModel)
	assert.Equal(t, def.TopP, opts.TopP)
}

func TestRetrievalOptions(t *testing.T) {
	opts := RetrievalOptions(config.RetrievalConfig{MaxRetrievedDocs: 5, PerPartitionK: 10, ImageOffset: 0.1})
	assert.Equal(t, 5, opts.MaxResults)
	assert.Equal(t, 0.1, opts.Offsets[models.ModalityImage])
}

func TestNewSessionStore_FallsBackToMemory(t *testing.T) {
	store := NewSessionStore(config.SessionConfig{Backend: "redis"}, nil)
	assert.IsType(t, &session.MemoryStore{}, store)
}

func TestBackends_Generator(t *testing.T) {
	// no providers configured: generation fails instead of panicking
	gen := Backends{}.Generator(config.GenerationConfig{PrimaryTimeout: time.Millisecond, FallbackTimeout: time.Millisecond})
	a := rag.NewAssembler(100, 0).Assemble([]models.RetrievalResult{{UnitID: "a", Modality: models.ModalityDocument, Score: 0.9, Text: "x"}})
	_, err := gen.Generate(context.Background(), "q", a, nil)
	var ge *models.GenerationError
	assert.ErrorAs(t, err, &ge)
}
