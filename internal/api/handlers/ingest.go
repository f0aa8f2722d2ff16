package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/multimodalrag/internal/ingest"
	"github.com/nikhilbhutani/multimodalrag/internal/queue"
)

// Ingester is satisfied by *ingest.Service.
type Ingester interface {
	Ingest(ctx context.Context, units []ingest.UnitInput) []ingest.UnitResult
	IngestDocument(ctx context.Context, doc ingest.DocumentInput) (string, []ingest.UnitResult, error)
	DeleteDocument(ctx context.Context, documentID string) (int, error)
}

// Enqueuer is satisfied by *queue.Client.
type Enqueuer interface {
	EnqueueContentIndex(payload queue.ContentIndexPayload) (string, error)
	EnqueueDocumentIndex(payload queue.DocumentIndexPayload) (string, error)
}

type IngestHandler struct {
	svc   Ingester
	queue Enqueuer // nil disables the async routes
}

func NewIngestHandler(svc Ingester, q Enqueuer) *IngestHandler {
	return &IngestHandler{svc: svc, queue: q}
}

type unitsRequest struct {
	Units []ingest.UnitInput `json:"units"`
}

func (h *IngestHandler) Units(w http.ResponseWriter, r *http.Request) {
	var req unitsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Units) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "units required"})
		return
	}

	results := h.svc.Ingest(r.Context(), req.Units)
	indexed := 0
	for _, res := range results {
		if res.Status == ingest.StatusIndexed {
			indexed++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"indexed": indexed,
		"failed":  len(results) - indexed,
	})
}

func (h *IngestHandler) UnitsAsync(w http.ResponseWriter, r *http.Request) {
	if h.queue == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async ingestion is not configured"})
		return
	}
	var req unitsRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Units) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "units required"})
		return
	}

	ingest.AssignIDs(req.Units)
	taskID, err := h.queue.EnqueueContentIndex(queue.ContentIndexPayload{Units: req.Units})
	if err != nil {
		writeError(w, r, err)
		return
	}

	ids := make([]string, len(req.Units))
	for i, u := range req.Units {
		ids[i] = u.ID
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{"task_id": taskID, "unit_ids": ids})
}

type documentRequest struct {
	ingest.DocumentInput
	Async bool `json:"async"`
}

func (h *IngestHandler) Document(w http.ResponseWriter, r *http.Request) {
	var req documentRequest
	if !decode(w, r, &req) {
		return
	}

	if req.Async {
		if h.queue == nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "async ingestion is not configured"})
			return
		}
		if req.DocumentID == "" {
			req.DocumentID = uuid.NewString()
		}
		taskID, err := h.queue.EnqueueDocumentIndex(queue.DocumentIndexPayload{Document: req.DocumentInput})
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"task_id": taskID, "document_id": req.DocumentID})
		return
	}

	id, results, err := h.svc.IngestDocument(r.Context(), req.DocumentInput)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{"document_id": id, "chunks": len(results), "results": results})
}

func (h *IngestHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeleteDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "deleted", "units": n})
}
