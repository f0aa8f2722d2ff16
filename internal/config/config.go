package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/nikhilbhutani/multimodalrag/internal/llm"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	Embedding  EmbeddingConfig
	Store      StoreConfig
	Retrieval  RetrievalConfig
	Generation GenerationConfig
	Session    SessionConfig
	Ingest     IngestConfig
	Worker     WorkerConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string
	RateLimitRPS   float64
	RateLimitBurst int
}

type DatabaseConfig struct {
	URL           string
	MaxConns      int
	MinConns      int
	RunMigrations bool
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string // bearer auth is disabled when empty
}

type EmbeddingConfig struct {
	TextBackend   string // "openai" or "ollama"
	TextModel     string
	TextBaseURL   string
	TextAPIKey    string
	ImageModel    string
	ImageBaseURL  string // OpenAI-compatible server hosting a CLIP model
	ImageAPIKey   string
	OllamaURL     string
	MaxTextChars  int
	MaxImageBytes int
	CacheTTL      time.Duration // zero disables the redis cache
}

type StoreConfig struct {
	Backend  string // "memory" or "pgvector"
	TextDim  int    // document and audio partitions
	ImageDim int
}

// Dims maps every partition to its fixed dimensionality.
func (s StoreConfig) Dims() map[string]int {
	return map[string]int{
		"document": s.TextDim,
		"audio":    s.TextDim,
		"image":    s.ImageDim,
	}
}

type RetrievalConfig struct {
	MaxRetrievedDocs  int
	PerPartitionK     int
	MaxContextLength  int
	RelevanceFloor    float64
	CrossRefTopN      int
	CrossRefThreshold float64
	// Calibration offsets added to each partition's similarity before merge.
	DocumentOffset float64
	ImageOffset    float64
	AudioOffset    float64
}

type GenerationConfig struct {
	PrimaryProvider    string // "openai" or "anthropic"
	PrimaryModel       string
	PrimaryBaseURL     string
	PrimaryAPIKey      string
	AnthropicKey       string
	FallbackModel      string
	OllamaURL          string
	Temperature        float64
	TopP               float64
	MaxTokens          int
	PrimaryTimeout     time.Duration
	FallbackTimeout    time.Duration
	HistoryTokenBudget int
}

type IngestConfig struct {
	Concurrency       int
	ChunkMaxChars     int
	ChunkOverlapWords int
}

type WorkerConfig struct {
	Concurrency int
}

type SessionConfig struct {
	Backend   string // "memory" or "redis"
	KeyPrefix string
}

func Load() (*Config, error) {
	// A missing .env is fine; the process environment wins either way.
	_ = godotenv.Load()

	provider := getEnv("GEN_PRIMARY_PROVIDER", "openai")

	port, err := getEnvInt("SERVER_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 2)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	runMigrations, err := getEnvBool("DB_RUN_MIGRATIONS", true)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_RUN_MIGRATIONS: %w", err)
	}

	ints := map[string]*int{}
	floats := map[string]*float64{}
	durations := map[string]*time.Duration{}

	cfg := &Config{
		Server: ServerConfig{
			Host:           getEnv("SERVER_HOST", "0.0.0.0"),
			Port:           port,
			AllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		},
		Database: DatabaseConfig{
			URL:           getEnv("DATABASE_URL", ""),
			MaxConns:      maxConns,
			MinConns:      minConns,
			RunMigrations: runMigrations,
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("AUTH_JWT_SECRET", ""),
		},
		Embedding: EmbeddingConfig{
			TextBackend:  getEnv("EMBED_TEXT_BACKEND", "openai"),
			TextModel:    getEnv("EMBED_TEXT_MODEL", "text-embedding-3-small"),
			TextBaseURL:  getEnv("EMBED_TEXT_BASE_URL", ""),
			TextAPIKey:   getEnv("EMBED_TEXT_API_KEY", getEnv("OPENAI_API_KEY", "")),
			ImageModel:   getEnv("EMBED_IMAGE_MODEL", "clip-ViT-B-32"),
			ImageBaseURL: getEnv("EMBED_IMAGE_BASE_URL", "http://localhost:7997"),
			ImageAPIKey:  getEnv("EMBED_IMAGE_API_KEY", ""),
			OllamaURL:    getEnv("OLLAMA_URL", "http://localhost:11434"),
		},
		Store: StoreConfig{
			Backend: getEnv("VECTOR_STORE", "memory"),
		},
		Generation: GenerationConfig{
			PrimaryProvider: provider,
			PrimaryModel:    getEnv("GEN_PRIMARY_MODEL", defaultPrimaryModel(provider)),
			PrimaryBaseURL:  getEnv("GEN_PRIMARY_BASE_URL", "https://api.cerebras.ai/v1"),
			PrimaryAPIKey:   getEnv("GEN_PRIMARY_API_KEY", getEnv("CEREBRAS_API_KEY", "")),
			AnthropicKey:    getEnv("ANTHROPIC_API_KEY", ""),
			FallbackModel:   getEnv("GEN_FALLBACK_MODEL", "llama3.2"),
			OllamaURL:       getEnv("OLLAMA_URL", "http://localhost:11434"),
		},
		Session: SessionConfig{
			Backend:   getEnv("SESSION_STORE", "memory"),
			KeyPrefix: getEnv("SESSION_KEY_PREFIX", "mmrag:session:"),
		},
	}

	ints["EMBED_MAX_TEXT_CHARS"] = &cfg.Embedding.MaxTextChars
	ints["EMBED_MAX_IMAGE_BYTES"] = &cfg.Embedding.MaxImageBytes
	ints["EMBED_TEXT_DIM"] = &cfg.Store.TextDim
	ints["EMBED_IMAGE_DIM"] = &cfg.Store.ImageDim
	ints["MAX_RETRIEVED_DOCS"] = &cfg.Retrieval.MaxRetrievedDocs
	ints["PER_PARTITION_K"] = &cfg.Retrieval.PerPartitionK
	ints["MAX_CONTEXT_LENGTH"] = &cfg.Retrieval.MaxContextLength
	ints["CROSSREF_TOP_N"] = &cfg.Retrieval.CrossRefTopN
	ints["GEN_MAX_TOKENS"] = &cfg.Generation.MaxTokens
	ints["GEN_HISTORY_TOKENS"] = &cfg.Generation.HistoryTokenBudget
	ints["RATE_LIMIT_BURST"] = &cfg.Server.RateLimitBurst
	ints["INGEST_CONCURRENCY"] = &cfg.Ingest.Concurrency
	ints["CHUNK_MAX_CHARS"] = &cfg.Ingest.ChunkMaxChars
	ints["CHUNK_OVERLAP_WORDS"] = &cfg.Ingest.ChunkOverlapWords
	ints["WORKER_CONCURRENCY"] = &cfg.Worker.Concurrency
	defaultsInt := map[string]int{
		"EMBED_MAX_TEXT_CHARS":  32000,
		"EMBED_MAX_IMAGE_BYTES": 20 * 1024 * 1024,
		"EMBED_TEXT_DIM":        1536,
		"EMBED_IMAGE_DIM":       512,
		"MAX_RETRIEVED_DOCS":    5,
		"PER_PARTITION_K":       0, // derived below
		"MAX_CONTEXT_LENGTH":    4096,
		"CROSSREF_TOP_N":        5,
		"GEN_MAX_TOKENS":        2048,
		"GEN_HISTORY_TOKENS":    1024,
		"RATE_LIMIT_BURST":      200,
		"INGEST_CONCURRENCY":    4,
		"CHUNK_MAX_CHARS":       1000,
		"CHUNK_OVERLAP_WORDS":   20,
		"WORKER_CONCURRENCY":    10,
	}
	for key, dst := range ints {
		v, err := getEnvInt(key, defaultsInt[key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = v
	}

	floats["RELEVANCE_FLOOR"] = &cfg.Retrieval.RelevanceFloor
	floats["CROSSREF_THRESHOLD"] = &cfg.Retrieval.CrossRefThreshold
	floats["CALIBRATION_DOCUMENT"] = &cfg.Retrieval.DocumentOffset
	floats["CALIBRATION_IMAGE"] = &cfg.Retrieval.ImageOffset
	floats["CALIBRATION_AUDIO"] = &cfg.Retrieval.AudioOffset
	floats["GEN_TEMPERATURE"] = &cfg.Generation.Temperature
	floats["GEN_TOP_P"] = &cfg.Generation.TopP
	floats["RATE_LIMIT_RPS"] = &cfg.Server.RateLimitRPS
	defaultsFloat := map[string]float64{
		"RELEVANCE_FLOOR":    0.3,
		"CROSSREF_THRESHOLD": 0.35,
		"GEN_TEMPERATURE":    0.8,
		"GEN_TOP_P":          0.95,
		"RATE_LIMIT_RPS":     100,
	}
	for key, dst := range floats {
		v, err := getEnvFloat(key, defaultsFloat[key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = v
	}

	durations["GEN_PRIMARY_TIMEOUT"] = &cfg.Generation.PrimaryTimeout
	durations["GEN_FALLBACK_TIMEOUT"] = &cfg.Generation.FallbackTimeout
	durations["EMBED_CACHE_TTL"] = &cfg.Embedding.CacheTTL
	defaultsDuration := map[string]time.Duration{
		"GEN_PRIMARY_TIMEOUT":  30 * time.Second,
		"GEN_FALLBACK_TIMEOUT": 2 * time.Minute,
		"EMBED_CACHE_TTL":      0,
	}
	for key, dst := range durations {
		v, err := getEnvDuration(key, defaultsDuration[key])
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = v
	}

	if cfg.Retrieval.PerPartitionK <= 0 {
		cfg.Retrieval.PerPartitionK = cfg.Retrieval.MaxRetrievedDocs * 2
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var problems []string
	if c.Store.Backend == "pgvector" && c.Database.URL == "" {
		problems = append(problems, "DATABASE_URL is required for VECTOR_STORE=pgvector")
	}
	if c.Store.TextDim <= 0 || c.Store.ImageDim <= 0 {
		problems = append(problems, "EMBED_TEXT_DIM and EMBED_IMAGE_DIM must be positive")
	}
	if c.Retrieval.MaxRetrievedDocs <= 0 {
		problems = append(problems, "MAX_RETRIEVED_DOCS must be positive")
	}
	if c.Retrieval.MaxContextLength <= 0 {
		problems = append(problems, "MAX_CONTEXT_LENGTH must be positive")
	}
	if c.Retrieval.RelevanceFloor < 0 || c.Retrieval.RelevanceFloor > 1 {
		problems = append(problems, "RELEVANCE_FLOOR must be within [0,1]")
	}
	if c.Ingest.ChunkOverlapWords < 0 || c.Ingest.ChunkMaxChars <= 0 {
		problems = append(problems, "CHUNK_MAX_CHARS must be positive and CHUNK_OVERLAP_WORDS non-negative")
	}
	if c.Generation.TopP <= 0 || c.Generation.TopP > 1 {
		problems = append(problems, "GEN_TOP_P must be within (0,1]")
	}
	if c.Generation.PrimaryTimeout <= 0 || c.Generation.FallbackTimeout <= 0 {
		problems = append(problems, "generation timeouts must be positive")
	}
	switch c.Generation.PrimaryProvider {
	case "openai", "anthropic":
	default:
		problems = append(problems, fmt.Sprintf("unknown GEN_PRIMARY_PROVIDER %q", c.Generation.PrimaryProvider))
	}
	switch c.Store.Backend {
	case "memory", "pgvector":
	default:
		problems = append(problems, fmt.Sprintf("unknown VECTOR_STORE %q", c.Store.Backend))
	}
	switch c.Session.Backend {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("unknown SESSION_STORE %q", c.Session.Backend))
	}
	switch c.Embedding.TextBackend {
	case "openai", "ollama":
	default:
		problems = append(problems, fmt.Sprintf("unknown EMBED_TEXT_BACKEND %q", c.Embedding.TextBackend))
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseFloat(v, 64)
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return time.ParseDuration(v)
}

func defaultPrimaryModel(provider string) string {
	if provider == "anthropic" {
		return llm.DefaultAnthropicModel
	}
	return "llama3.1-8b"
}

func getEnvBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.ParseBool(v)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
