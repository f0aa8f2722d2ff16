package queue

import "github.com/nikhilbhutani/multimodalrag/internal/ingest"

const (
	TypeContentIndex  = "content:index"
	TypeDocumentIndex = "document:index"
)

// ContentIndexPayload carries units whose ids were assigned before enqueueing,
// so a retried task overwrites what an earlier attempt stored.
type ContentIndexPayload struct {
	Units []ingest.UnitInput `json:"units"`
}

type DocumentIndexPayload struct {
	Document ingest.DocumentInput `json:"document"`
}
