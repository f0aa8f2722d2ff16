package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaProvider runs against a locally hosted Ollama server. It serves as
// the generation fallback and as a local text embedding backend.
type OllamaProvider struct {
	client *ollama.Client
}

func NewOllamaProvider(baseURL string) (*OllamaProvider, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama URL: %w", err)
	}
	// Per-call deadlines come from the caller's context.
	hc := &http.Client{Timeout: 5 * time.Minute}
	return &OllamaProvider{client: ollama.NewClient(u, hc)}, nil
}

func (p *OllamaProvider) Name() string { return "ollama" }

func (p *OllamaProvider) Ping(ctx context.Context) error {
	if err := p.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("ollama ping: %w", err)
	}
	return nil
}

func (p *OllamaProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	msgs := make([]ollama.Message, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	stream := false
	oReq := &ollama.ChatRequest{
		Model:    req.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{},
	}
	if req.Temperature > 0 {
		oReq.Options["temperature"] = req.Temperature
	}
	if req.TopP > 0 {
		oReq.Options["top_p"] = req.TopP
	}
	if req.MaxTokens > 0 {
		oReq.Options["num_predict"] = req.MaxTokens
	}
	if len(req.Stop) > 0 {
		oReq.Options["stop"] = req.Stop
	}

	var content strings.Builder
	var final ollama.ChatResponse
	err := p.client.Chat(ctx, oReq, func(r ollama.ChatResponse) error {
		content.WriteString(r.Message.Content)
		if r.Done {
			final = r
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}

	return &ChatResponse{
		Provider:     "ollama",
		Model:        req.Model,
		Content:      content.String(),
		InputTokens:  final.PromptEvalCount,
		OutputTokens: final.EvalCount,
		TotalTokens:  final.PromptEvalCount + final.EvalCount,
		LatencyMs:    time.Since(start).Milliseconds(),
	}, nil
}

func (p *OllamaProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*EmbeddingResponse, error) {
	model := req.Model
	if model == "" {
		model = "nomic-embed-text"
	}

	resp, err := p.client.Embed(ctx, &ollama.EmbedRequest{
		Model: model,
		Input: req.Input,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}

	return &EmbeddingResponse{
		Provider:   "ollama",
		Model:      model,
		Embeddings: resp.Embeddings,
		Tokens:     resp.PromptEvalCount,
	}, nil
}
