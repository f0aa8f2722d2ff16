package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/llm"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// State is a step of the generation state machine.
type State string

const (
	StateBuildPrompt    State = "build_prompt"
	StateCallPrimary    State = "call_primary"
	StateCallFallback   State = "call_fallback"
	StateSanitize       State = "sanitize"
	StateDone           State = "done"
	StateFallbackFailed State = "fallback_failed"
)

// ChatBackend is the part of llm.Provider the generator uses.
type ChatBackend interface {
	ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error)
	Name() string
}

type GeneratorOptions struct {
	PrimaryModel       string
	FallbackModel      string
	Temperature        float64
	TopP               float64
	MaxTokens          int
	PrimaryTimeout     time.Duration
	FallbackTimeout    time.Duration
	HistoryTokenBudget int
}

func DefaultGeneratorOptions() GeneratorOptions {
	return GeneratorOptions{
		PrimaryModel:       "llama3.1-8b",
		FallbackModel:      "llama3.2",
		Temperature:        0.8,
		TopP:               0.95,
		MaxTokens:          2048,
		PrimaryTimeout:     30 * time.Second,
		FallbackTimeout:    2 * time.Minute,
		HistoryTokenBudget: 1024,
	}
}

// Generation is the outcome of one successful run.
type Generation struct {
	Answer              string
	Raw                 string
	Backend             string
	InsufficientContext bool
	Trace               []State
}

type Generator struct {
	primary  ChatBackend
	fallback ChatBackend
	opts     GeneratorOptions
}

// NewGenerator wires a primary and a fallback backend. Either may be nil, in
// which case that step fails immediately.
func NewGenerator(primary, fallback ChatBackend, opts GeneratorOptions) *Generator {
	return &Generator{primary: primary, fallback: fallback, opts: opts}
}

var errEmptyOutput = errors.New("backend returned no text")

// Generate runs BUILD_PROMPT → CALL_PRIMARY → (SANITIZE → DONE) |
// (CALL_FALLBACK → SANITIZE → DONE | FALLBACK_FAILED). The fallback is tried
// at most once. With empty context it answers without calling any model.
func (g *Generator) Generate(ctx context.Context, query string, assembled Assembled, history []models.Turn) (*Generation, error) {
	out := &Generation{}
	if assembled.Empty() {
		out.Trace = []State{StateBuildPrompt, StateDone}
		out.Answer = insufficientAnswer
		out.Raw = insufficientAnswer
		out.InsufficientContext = true
		return out, nil
	}

	var (
		msgs                    []llm.Message
		primaryErr, fallbackErr error
	)
	state := StateBuildPrompt
	for {
		out.Trace = append(out.Trace, state)
		switch state {
		case StateBuildPrompt:
			msgs = BuildMessages(query, assembled.Context, history, g.opts.HistoryTokenBudget)
			state = StateCallPrimary

		case StateCallPrimary:
			out.Raw, primaryErr = g.call(ctx, g.primary, g.opts.PrimaryModel, g.opts.PrimaryTimeout, msgs)
			if primaryErr == nil {
				out.Backend = g.primary.Name()
				state = StateSanitize
				continue
			}
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("generate: %w", err)
			}
			slog.Warn("primary generation failed, falling back", "error", primaryErr)
			state = StateCallFallback

		case StateCallFallback:
			out.Raw, fallbackErr = g.call(ctx, g.fallback, g.opts.FallbackModel, g.opts.FallbackTimeout, msgs)
			if fallbackErr == nil {
				out.Backend = g.fallback.Name()
				state = StateSanitize
				continue
			}
			state = StateFallbackFailed

		case StateSanitize:
			out.Answer = Sanitize(out.Raw)
			state = StateDone

		case StateDone:
			return out, nil

		case StateFallbackFailed:
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("generate: %w", err)
			}
			slog.Error("fallback generation failed", "error", fallbackErr)
			return nil, &models.GenerationError{Primary: primaryErr, Fallback: fallbackErr}
		}
	}
}

func (g *Generator) call(ctx context.Context, backend ChatBackend, model string, timeout time.Duration, msgs []llm.Message) (string, error) {
	if backend == nil {
		return "", errors.New("backend not configured")
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	resp, err := backend.ChatCompletion(ctx, llm.ChatRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: g.opts.Temperature,
		TopP:        g.opts.TopP,
		MaxTokens:   g.opts.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", backend.Name(), err)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%s: %w", backend.Name(), errEmptyOutput)
	}
	return strings.TrimSpace(resp.Content), nil
}

var rawCitation = regexp.MustCompile(`\[\d+\]`)

// Confidence blends source count, mean relevance, answer length and how many
// sources the raw answer cited, weighted 0.3/0.4/0.1/0.2, rounded to two
// decimals.
func Confidence(assembled Assembled, gen *Generation) float64 {
	if gen == nil || gen.InsufficientContext {
		return 0
	}
	n := len(assembled.Citations)

	sources := math.Min(1, float64(n)/3)

	var relevance float64
	for _, c := range assembled.Citations {
		relevance += c.Score
	}
	if n > 0 {
		relevance /= float64(n)
	}

	length := 0.7
	if words := len(strings.Fields(gen.Answer)); words >= 20 && words <= 200 {
		length = 1
	}

	cited := math.Min(1, float64(len(rawCitation.FindAllString(gen.Raw, -1)))/float64(max(1, n)))

	c := 0.3*sources + 0.4*relevance + 0.1*length + 0.2*cited
	return math.Round(c*100) / 100
}
