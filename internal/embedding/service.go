package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/nikhilbhutani/multimodalrag/internal/llm"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// Space names an embedding space. Vectors from different spaces are never
// compared with each other.
type Space string

const (
	SpaceText  Space = "text"
	SpaceImage Space = "image"
)

// SpaceFor returns the space a modality's partition lives in.
func SpaceFor(m models.Modality) Space {
	if m == models.ModalityImage {
		return SpaceImage
	}
	return SpaceText
}

// Embedder is the contract the retrieval engine and the ingestion path rely on.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedImage(ctx context.Context, image []byte) ([]float32, error)
	EmbedTextForImages(ctx context.Context, text string) ([]float32, error)
}

// VectorCache stores vectors that are known to be deterministic for a key.
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float32, bool)
	SetVector(ctx context.Context, key string, v []float32, ttl time.Duration)
}

// Options configures a Service. Text and Image may point at the same
// provider instance.
type Options struct {
	Text          llm.Provider
	TextModel     string
	Image         llm.Provider // OpenAI-compatible server hosting a CLIP-style model
	ImageModel    string
	MaxTextChars  int
	MaxImageBytes int
	// TextDim and ImageDim, when set, are checked against every vector the
	// models return.
	TextDim  int
	ImageDim int
	Cache    VectorCache
	CacheTTL time.Duration
}

// Service wraps the modality-specific models behind one interface. It keeps
// no per-call state, so identical input yields identical vectors for a
// fixed model version.
type Service struct {
	opts Options
}

func NewService(opts Options) *Service {
	if opts.MaxTextChars <= 0 {
		opts.MaxTextChars = 32000
	}
	if opts.MaxImageBytes <= 0 {
		opts.MaxImageBytes = 20 * 1024 * 1024
	}
	return &Service{opts: opts}
}

// Dimensions reports the configured dimensionality of a space, zero when
// unchecked.
func (s *Service) Dimensions(space Space) int {
	if space == SpaceImage {
		return s.opts.ImageDim
	}
	return s.opts.TextDim
}

func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if err := s.checkText("embed_text", text); err != nil {
		return nil, err
	}
	return s.embed(ctx, "embed_text", SpaceText, s.opts.Text, s.opts.TextModel, text)
}

// EmbedTextForImages embeds text with the image model's text tower so it can
// be compared against image vectors.
func (s *Service) EmbedTextForImages(ctx context.Context, text string) ([]float32, error) {
	if err := s.checkText("embed_text_for_images", text); err != nil {
		return nil, err
	}
	return s.embed(ctx, "embed_text_for_images", SpaceImage, s.opts.Image, s.opts.ImageModel, text)
}

func (s *Service) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	const op = "embed_image"
	if len(image) == 0 {
		return nil, &models.EmbeddingError{Op: op, Reason: "empty image"}
	}
	if len(image) > s.opts.MaxImageBytes {
		return nil, &models.EmbeddingError{Op: op, Reason: fmt.Sprintf("image exceeds %d bytes", s.opts.MaxImageBytes)}
	}
	mime := mimetype.Detect(image).String()
	if !strings.HasPrefix(mime, "image/") {
		return nil, &models.EmbeddingError{Op: op, Reason: fmt.Sprintf("unsupported content type %s", mime)}
	}
	dataURI := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(image)
	return s.embed(ctx, op, SpaceImage, s.opts.Image, s.opts.ImageModel, dataURI)
}

func (s *Service) checkText(op, text string) error {
	if strings.TrimSpace(text) == "" {
		return &models.EmbeddingError{Op: op, Reason: "empty input"}
	}
	if len(text) > s.opts.MaxTextChars {
		return &models.EmbeddingError{Op: op, Reason: fmt.Sprintf("input exceeds %d characters", s.opts.MaxTextChars)}
	}
	return nil
}

func (s *Service) embed(ctx context.Context, op string, space Space, p llm.Provider, model, input string) ([]float32, error) {
	if p == nil {
		return nil, &models.EmbeddingError{Op: op, Reason: "no model configured", Transient: true}
	}

	key := cacheKey(p.Name(), model, input)
	if s.opts.Cache != nil {
		if v, ok := s.opts.Cache.GetVector(ctx, key); ok {
			return v, nil
		}
	}

	resp, err := p.GenerateEmbedding(ctx, llm.EmbeddingRequest{Model: model, Input: []string{input}})
	if err != nil {
		slog.Warn("embedding backend failed", "op", op, "provider", p.Name(), "error", err)
		return nil, &models.EmbeddingError{Op: op, Reason: "model call failed", Transient: true, Err: err}
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, &models.EmbeddingError{Op: op, Reason: "no embedding returned", Transient: true}
	}

	v := resp.Embeddings[0]
	if dim := s.Dimensions(space); dim > 0 && len(v) != dim {
		// a misconfigured model will not fix itself on retry
		return nil, &models.EmbeddingError{Op: op, Reason: fmt.Sprintf("model returned %d dimensions, %s space requires %d", len(v), space, dim)}
	}
	if s.opts.Cache != nil {
		s.opts.Cache.SetVector(ctx, key, v, s.opts.CacheTTL)
	}
	return v, nil
}

func cacheKey(provider, model, input string) string {
	sum := sha256.Sum256([]byte(input))
	return "emb:" + provider + ":" + model + ":" + hex.EncodeToString(sum[:])
}
