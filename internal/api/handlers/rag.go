package handlers

import (
	"context"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/rag"
)

// QueryService is satisfied by *rag.Pipeline.
type QueryService interface {
	Query(ctx context.Context, req rag.QueryRequest) (*rag.QueryResponse, error)
	Search(ctx context.Context, req rag.SearchRequest) ([]models.RetrievalResult, error)
	SearchImage(ctx context.Context, image []byte, k int) ([]models.RetrievalResult, error)
	Reset(ctx context.Context, sessionID string) error
	Summary(ctx context.Context, sessionID string) (models.SessionSummary, error)
}

type RAGHandler struct {
	svc QueryService
}

func NewRAGHandler(svc QueryService) *RAGHandler {
	return &RAGHandler{svc: svc}
}

func (h *RAGHandler) Query(w http.ResponseWriter, r *http.Request) {
	var req rag.QueryRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.svc.Query(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *RAGHandler) Search(w http.ResponseWriter, r *http.Request) {
	var req rag.SearchRequest
	if !decode(w, r, &req) {
		return
	}

	results, err := h.svc.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": nonNilResults(results), "count": len(results)})
}

type imageSearchRequest struct {
	ImageBase64 string `json:"image_base64"`
	K           int    `json:"k"`
}

func (h *RAGHandler) SearchImage(w http.ResponseWriter, r *http.Request) {
	var req imageSearchRequest
	if !decode(w, r, &req) {
		return
	}
	image, err := decodeImage(req.ImageBase64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "image_base64 is not valid base64"})
		return
	}

	results, err := h.svc.SearchImage(r.Context(), image, req.K)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"results": nonNilResults(results), "count": len(results)})
}

type resetRequest struct {
	SessionID string `json:"session_id"`
}

func (h *RAGHandler) ResetSession(w http.ResponseWriter, r *http.Request) {
	var req resetRequest
	if !decode(w, r, &req) {
		return
	}
	if err := h.svc.Reset(r.Context(), req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "session_id": req.SessionID})
}

func (h *RAGHandler) SessionSummary(w http.ResponseWriter, r *http.Request) {
	sum, err := h.svc.Summary(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// decodeImage accepts plain base64 or a data URL.
func decodeImage(s string) ([]byte, error) {
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	return base64.StdEncoding.DecodeString(strings.TrimSpace(s))
}

func nonNilResults(r []models.RetrievalResult) []models.RetrievalResult {
	if r == nil {
		return []models.RetrievalResult{}
	}
	return r
}
