package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/retrieval"
	"github.com/nikhilbhutani/multimodalrag/internal/session"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

// Retriever is satisfied by *retrieval.Engine.
type Retriever interface {
	Retrieve(ctx context.Context, req retrieval.Request) ([]models.RetrievalResult, error)
	SearchImage(ctx context.Context, image []byte, k int, filter vectorstore.Filter) ([]models.RetrievalResult, error)
}

type QueryRequest struct {
	Query      string            `json:"query"`
	SessionID  string            `json:"session_id"`
	Modalities []models.Modality `json:"modalities,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	// IncludeImages=false drops the image partition from retrieval.
	IncludeImages *bool `json:"include_images,omitempty"`
}

func (r QueryRequest) modalities() []models.Modality {
	if r.IncludeImages == nil || *r.IncludeImages {
		return r.Modalities
	}
	base := r.Modalities
	if len(base) == 0 {
		base = models.Modalities
	}
	out := make([]models.Modality, 0, len(base))
	for _, m := range base {
		if m != models.ModalityImage {
			out = append(out, m)
		}
	}
	return out
}

type QueryResponse struct {
	Answer              string            `json:"answer"`
	Citations           []models.Citation `json:"citations"`
	Confidence          float64           `json:"confidence"`
	Backend             string            `json:"backend,omitempty"`
	InsufficientContext bool              `json:"insufficient_context"`
	SessionID           string            `json:"session_id"`
	Trace               []State           `json:"trace"`
	ProcessingMs        int64             `json:"processing_ms"`
}

type SearchRequest struct {
	Query      string            `json:"query"`
	Modalities []models.Modality `json:"modalities,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Limit      int               `json:"limit,omitempty"`
}

type Pipeline struct {
	retriever Retriever
	assembler *Assembler
	generator *Generator
	sessions  *session.Manager
}

func NewPipeline(retriever Retriever, assembler *Assembler, generator *Generator, sessions *session.Manager) *Pipeline {
	return &Pipeline{retriever: retriever, assembler: assembler, generator: generator, sessions: sessions}
}

// Query answers one turn of a conversation. Requests for the same session
// run one at a time in arrival order; a turn is appended only when an answer
// was produced and the caller is still waiting for it.
func (p *Pipeline) Query(ctx context.Context, req QueryRequest) (*QueryResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.Query) == "" {
		return nil, &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}

	release, err := p.sessions.Begin(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}
	defer release()

	state, err := p.sessions.GetOrCreate(ctx, req.SessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	results, err := p.retriever.Retrieve(ctx, retrieval.Request{
		Query:      req.Query,
		Modalities: req.modalities(),
		Filter:     vectorstore.Filter{DocumentID: req.DocumentID},
	})
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	assembled := p.assembler.Assemble(results)
	gen, err := p.generator.Generate(ctx, req.Query, assembled, state.Turns)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("query abandoned: %w", err)
	}

	if err := p.sessions.AppendTurn(ctx, req.SessionID, req.Query, gen.Answer); err != nil {
		return nil, err
	}

	slog.Info("query answered",
		"session_id", req.SessionID,
		"results", len(results),
		"citations", len(assembled.Citations),
		"backend", gen.Backend,
		"insufficient_context", gen.InsufficientContext,
	)

	return &QueryResponse{
		Answer:              gen.Answer,
		Citations:           nonNil(assembled.Citations),
		Confidence:          Confidence(assembled, gen),
		Backend:             gen.Backend,
		InsufficientContext: gen.InsufficientContext,
		SessionID:           req.SessionID,
		Trace:               gen.Trace,
		ProcessingMs:        time.Since(start).Milliseconds(),
	}, nil
}

// Search runs retrieval only, without touching any session.
func (p *Pipeline) Search(ctx context.Context, req SearchRequest) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &models.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	return p.retriever.Retrieve(ctx, retrieval.Request{
		Query:      req.Query,
		Modalities: req.Modalities,
		Filter:     vectorstore.Filter{DocumentID: req.DocumentID},
		Limit:      req.Limit,
	})
}

func (p *Pipeline) SearchImage(ctx context.Context, image []byte, k int) ([]models.RetrievalResult, error) {
	return p.retriever.SearchImage(ctx, image, k, vectorstore.Filter{})
}

// Reset waits for in-flight turns of the session before clearing it, so a
// reset never races an append.
func (p *Pipeline) Reset(ctx context.Context, sessionID string) error {
	release, err := p.sessions.Begin(ctx, sessionID)
	if err != nil {
		return err
	}
	defer release()
	return p.sessions.Reset(ctx, sessionID)
}

func (p *Pipeline) Summary(ctx context.Context, sessionID string) (models.SessionSummary, error) {
	return p.sessions.Summary(ctx, sessionID)
}

func nonNil(c []models.Citation) []models.Citation {
	if c == nil {
		return []models.Citation{}
	}
	return c
}

// IsInputError reports errors caused by the request itself rather than by a
// backend.
func IsInputError(err error) bool {
	var ve *models.ValidationError
	if errors.As(err, &ve) || errors.Is(err, session.ErrMissingID) {
		return true
	}
	var ee *models.EmbeddingError
	return errors.As(err, &ee) && !ee.Transient
}
