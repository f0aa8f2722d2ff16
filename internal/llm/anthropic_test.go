package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnthropicProvider_ChatCompletion(t *testing.T) {
	var body struct {
		Model     string `json:"model"`
		MaxTokens int    `json:"max_tokens"`
		System    []struct {
			Text string `json:"text"`
		} `json:"system"`
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "msg_1", "type": "message", "role": "assistant", "model": "claude-test",
			"content": [{"type": "text", "text": "The budget is $500,000."}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 12, "output_tokens": 7}
		}`))
	}))
	defer srv.Close()

	p := NewAnthropicProvider("key", option.WithBaseURL(srv.URL), option.WithMaxRetries(0))
	resp, err := p.ChatCompletion(context.Background(), ChatRequest{
		Model: "claude-test",
		Messages: []Message{
			{Role: "system", Content: "Answer from CONTEXT only."},
			{Role: "user", Content: "first"},
			{Role: "user", Content: "second"},
		},
		MaxTokens: 256,
	})
	require.NoError(t, err)

	assert.Equal(t, "The budget is $500,000.", resp.Content)
	assert.Equal(t, 19, resp.TotalTokens)
	assert.Equal(t, 256, body.MaxTokens)
	require.Len(t, body.System, 1)
	assert.Equal(t, "Answer from CONTEXT only.", body.System[0].Text)
	require.Len(t, body.Messages, 1)
	assert.Equal(t, "first\n\nsecond", body.Messages[0].Content[0].Text)
}

func TestAnthropicProvider_PingWithoutKey(t *testing.T) {
	assert.Error(t, NewAnthropicProvider("").Ping(context.Background()))
}
