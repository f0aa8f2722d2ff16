package rag

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/multimodalrag/internal/llm"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// fakeBackend answers with reply, fails with err, or blocks until its
// context is done when hang is set.
type fakeBackend struct {
	name  string
	reply string
	err   error
	hang  bool
	calls atomic.Int32
	last  llm.ChatRequest
}

func (f *fakeBackend) ChatCompletion(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	f.calls.Add(1)
	f.last = req
	if f.hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return &llm.ChatResponse{Content: f.reply}, nil
}

func (f *fakeBackend) Name() string { return f.name }

func grounded() Assembled {
	return NewAssembler(4096, 0.3).Assemble([]models.RetrievalResult{
		result("doc-1", models.ModalityDocument, 0.99, "Q3 budget is $500,000"),
	})
}

func testOptions() GeneratorOptions {
	opts := DefaultGeneratorOptions()
	opts.PrimaryTimeout = 20 * time.Millisecond
	opts.FallbackTimeout = 20 * time.Millisecond
	return opts
}

func TestGenerator_PrimarySuccess(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", reply: "The **Q3 budget** is $500,000 [1]."}
	fallback := &fakeBackend{name: "ollama", reply: "unused"}
	g := NewGenerator(primary, fallback, testOptions())

	gen, err := g.Generate(context.Background(), "What is the budget for Q3?", grounded(), nil)
	require.NoError(t, err)

	assert.Equal(t, "The Q3 budget is $500,000.", gen.Answer)
	assert.Equal(t, "cerebras", gen.Backend)
	assert.Equal(t, []State{StateBuildPrompt, StateCallPrimary, StateSanitize, StateDone}, gen.Trace)
	assert.Zero(t, fallback.calls.Load())

	assert.Equal(t, 0.8, primary.last.Temperature)
	assert.Equal(t, 0.95, primary.last.TopP)
	assert.Equal(t, 2048, primary.last.MaxTokens)
	assert.Contains(t, primary.last.Messages[0].Content, "Q3 budget is $500,000")
}

func TestGenerator_PrimaryTimeoutFallsBackOnce(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", hang: true}
	fallback := &fakeBackend{name: "ollama", reply: "The budget is $500,000."}
	g := NewGenerator(primary, fallback, testOptions())

	gen, err := g.Generate(context.Background(), "q", grounded(), nil)
	require.NoError(t, err)

	assert.Equal(t, "ollama", gen.Backend)
	assert.EqualValues(t, 1, primary.calls.Load())
	assert.EqualValues(t, 1, fallback.calls.Load())
	assert.Equal(t, []State{StateBuildPrompt, StateCallPrimary, StateCallFallback, StateSanitize, StateDone}, gen.Trace)
}

func TestGenerator_BothFail(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", hang: true}
	fallback := &fakeBackend{name: "ollama", err: errors.New("connection refused")}
	g := NewGenerator(primary, fallback, testOptions())

	gen, err := g.Generate(context.Background(), "q", grounded(), nil)
	assert.Nil(t, gen)

	var ge *models.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.ErrorIs(t, ge.Primary, context.DeadlineExceeded)
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestGenerator_EmptyPrimaryOutputFallsBack(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", reply: "   "}
	fallback := &fakeBackend{name: "ollama", reply: "ok"}
	gen, err := NewGenerator(primary, fallback, testOptions()).Generate(context.Background(), "q", grounded(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", gen.Backend)
}

func TestGenerator_MissingPrimaryFallsBack(t *testing.T) {
	fallback := &fakeBackend{name: "ollama", reply: "ok"}
	gen, err := NewGenerator(nil, fallback, testOptions()).Generate(context.Background(), "q", grounded(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ollama", gen.Backend)
}

func TestGenerator_InsufficientContextSkipsModels(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", reply: "made up"}
	g := NewGenerator(primary, nil, testOptions())

	gen, err := g.Generate(context.Background(), "q", Assembled{}, nil)
	require.NoError(t, err)
	assert.True(t, gen.InsufficientContext)
	assert.Equal(t, insufficientAnswer, gen.Answer)
	assert.Zero(t, primary.calls.Load())
	assert.Zero(t, Confidence(Assembled{}, gen))
}

func TestGenerator_CallerCancellationIsNotAGenerationError(t *testing.T) {
	primary := &fakeBackend{name: "cerebras", hang: true}
	fallback := &fakeBackend{name: "ollama", reply: "ok"}
	opts := testOptions()
	opts.PrimaryTimeout = time.Minute
	g := NewGenerator(primary, fallback, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := g.Generate(ctx, "q", grounded(), nil)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	var ge *models.GenerationError
	assert.False(t, errors.As(err, &ge))
	assert.Zero(t, fallback.calls.Load())
}

func TestBuildMessages_TrimsOldestHistory(t *testing.T) {
	history := []models.Turn{
		{Query: "first question " + strings.Repeat("pad ", 50), Answer: "first answer"},
		{Query: "second question", Answer: "second answer"},
		{Query: "third question", Answer: "third answer"},
	}
	msgs := BuildMessages("now?", "[1] DOCUMENT - a\ntext", history, 20)

	require.Len(t, msgs, 6)
	assert.Equal(t, "system", msgs[0].Role)
	assert.Equal(t, "second question", msgs[1].Content)
	assert.Equal(t, "assistant", msgs[2].Role)
	assert.Equal(t, "third answer", msgs[4].Content)
	assert.Equal(t, llm.Message{Role: "user", Content: "now?"}, msgs[5])
}

func TestConfidence(t *testing.T) {
	a := grounded()
	gen := &Generation{
		Raw:    "The budget is $500,000 [1].",
		Answer: "The budget is $500,000.",
	}
	// 0.3*(1/3) + 0.4*0.99 + 0.1*0.7 + 0.2*1
	assert.Equal(t, 0.77, Confidence(a, gen))
}
