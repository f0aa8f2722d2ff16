package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/session"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", &models.ValidationError{Field: "query", Reason: "must not be empty"}, http.StatusBadRequest},
		{"missing session", fmt.Errorf("begin session: %w", session.ErrMissingID), http.StatusBadRequest},
		{"bad embedding input", &models.EmbeddingError{Op: "image", Reason: "unsupported format"}, http.StatusBadRequest},
		{"embedding outage", &models.EmbeddingError{Op: "text", Reason: "model unavailable", Transient: true}, http.StatusServiceUnavailable},
		{"retrieval", fmt.Errorf("retrieve: %w", &models.RetrievalError{Failures: map[models.Modality]error{models.ModalityDocument: errors.New("down")}}), http.StatusServiceUnavailable},
		{"retrieval with bad query", &models.RetrievalError{Failures: map[models.Modality]error{
			models.ModalityDocument: &models.EmbeddingError{Op: "text", Reason: "too long"},
		}}, http.StatusBadRequest},
		{"generation", &models.GenerationError{Primary: errors.New("timeout"), Fallback: errors.New("refused")}, http.StatusBadGateway},
		{"both backends timed out", &models.GenerationError{
			Primary:  fmt.Errorf("cerebras: %w", context.DeadlineExceeded),
			Fallback: fmt.Errorf("ollama: %w", context.DeadlineExceeded),
		}, http.StatusBadGateway},
		{"deadline", fmt.Errorf("generate: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"not found", models.ErrNotFound, http.StatusNotFound},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}

func TestDecodeImage(t *testing.T) {
	b, err := decodeImage("data:image/png;base64,aGVsbG8=")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	b, err = decodeImage("aGVsbG8=")
	assert.NoError(t, err)
	assert.Equal(t, []byte("hello"), b)

	_, err = decodeImage("not base64!")
	assert.Error(t, err)
}
