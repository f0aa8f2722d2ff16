package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/multimodalrag/internal/ingest"
	"github.com/nikhilbhutani/multimodalrag/internal/queue"
)

// Indexer is the part of the ingestion service the workers drive.
type Indexer interface {
	Ingest(ctx context.Context, units []ingest.UnitInput) []ingest.UnitResult
	IngestDocument(ctx context.Context, doc ingest.DocumentInput) (string, []ingest.UnitResult, error)
}

type ContentWorker struct {
	indexer Indexer
}

func NewContentWorker(indexer Indexer) *ContentWorker {
	return &ContentWorker{indexer: indexer}
}

// ProcessTask indexes a batch of units. Permanent failures are logged and
// dropped; a transient one fails the task so asynq retries it.
func (w *ContentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.ContentIndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	slog.Info("indexing content", "units", len(payload.Units))
	return settle(w.indexer.Ingest(ctx, payload.Units))
}

type DocumentWorker struct {
	indexer Indexer
}

func NewDocumentWorker(indexer Indexer) *DocumentWorker {
	return &DocumentWorker{indexer: indexer}
}

func (w *DocumentWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload queue.DocumentIndexPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}

	id, results, err := w.indexer.IngestDocument(ctx, payload.Document)
	if err != nil {
		return fmt.Errorf("index document: %v: %w", err, asynq.SkipRetry)
	}
	slog.Info("document indexed", "document_id", id, "chunks", len(results))
	return settle(results)
}

func settle(results []ingest.UnitResult) error {
	transient := 0
	for _, r := range results {
		if r.Status != ingest.StatusFailed {
			continue
		}
		if r.Transient {
			transient++
			continue
		}
		slog.Warn("dropping invalid unit", "unit_id", r.ID, "error", r.Error)
	}
	if transient > 0 {
		return fmt.Errorf("%d of %d units failed transiently", transient, len(results))
	}
	return nil
}
