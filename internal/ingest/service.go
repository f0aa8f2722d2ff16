// Package ingest is the write path: it turns content submitted by extraction
// collaborators into validated, embedded units in the vector store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/multimodalrag/internal/embedding"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
	"github.com/nikhilbhutani/multimodalrag/pkg/chunker"
)

// UnitInput is one content unit as produced by an extraction collaborator.
// Either Embedding is set, or the raw payload is: Text for document and
// audio units, Image bytes for image units (whose Text is the OCR text or
// caption).
type UnitInput struct {
	ID         string            `json:"id,omitempty"`
	DocumentID string            `json:"document_id,omitempty"`
	Modality   models.Modality   `json:"modality"`
	Text       string            `json:"text"`
	Image      []byte            `json:"image,omitempty"`
	Embedding  []float32         `json:"embedding,omitempty"`
	SourceRef  models.SourceRef  `json:"source_ref"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Page is the extracted text of one page of a document.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// DocumentInput is a whole extracted document to be chunked into units.
type DocumentInput struct {
	DocumentID string            `json:"document_id,omitempty"`
	Filename   string            `json:"filename"`
	Pages      []Page            `json:"pages"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

const (
	StatusIndexed = "indexed"
	StatusFailed  = "failed"
)

type UnitResult struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Transient bool   `json:"transient,omitempty"`
}

type Options struct {
	Concurrency int
	Chunking    chunker.Options
}

type Service struct {
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	opts     Options
}

func NewService(store vectorstore.VectorStore, embedder embedding.Embedder, opts Options) *Service {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Chunking.MaxChars <= 0 {
		opts.Chunking = chunker.DefaultOptions()
	}
	return &Service{store: store, embedder: embedder, opts: opts}
}

// AssignIDs gives every unit without an id a fresh one. Callers that enqueue
// work do this first so retries overwrite instead of duplicating.
func AssignIDs(units []UnitInput) {
	for i := range units {
		if strings.TrimSpace(units[i].ID) == "" {
			units[i].ID = uuid.NewString()
		}
	}
}

// Ingest indexes each unit independently; one unit failing never fails the
// others. Results are in input order.
func (s *Service) Ingest(ctx context.Context, units []UnitInput) []UnitResult {
	AssignIDs(units)
	results := make([]UnitResult, len(units))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for i := range units {
		g.Go(func() error {
			results[i] = s.ingestOne(gctx, units[i])
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, r := range results {
		if r.Status == StatusFailed {
			failed++
		}
	}
	slog.Info("ingested units", "total", len(units), "failed", failed)
	return results
}

// IngestDocument splits each page into chunks and indexes them as document
// units citing the page they came from.
func (s *Service) IngestDocument(ctx context.Context, doc DocumentInput) (string, []UnitResult, error) {
	if strings.TrimSpace(doc.Filename) == "" {
		return "", nil, &models.ValidationError{Field: "filename", Reason: "must not be empty"}
	}
	if doc.DocumentID == "" {
		doc.DocumentID = uuid.NewString()
	}

	var units []UnitInput
	for _, p := range doc.Pages {
		for _, c := range chunker.Split(p.Text, s.opts.Chunking) {
			meta := make(map[string]string, len(doc.Metadata)+1)
			for k, v := range doc.Metadata {
				meta[k] = v
			}
			meta["chunk_index"] = fmt.Sprint(c.Index)
			units = append(units, UnitInput{
				ID:         chunkID(doc.DocumentID, p.Number, c.Index),
				DocumentID: doc.DocumentID,
				Modality:   models.ModalityDocument,
				Text:       c.Text,
				SourceRef:  models.SourceRef{Filename: doc.Filename, Page: p.Number},
				Metadata:   meta,
			})
		}
	}
	if len(units) == 0 {
		return doc.DocumentID, nil, &models.ValidationError{Field: "pages", Reason: "contain no text"}
	}
	return doc.DocumentID, s.Ingest(ctx, units), nil
}

// chunkID is deterministic so re-submitting a document replaces its chunks.
func chunkID(documentID string, page, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(fmt.Sprintf("%s/%d/%d", documentID, page, index))).String()
}

func (s *Service) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	if strings.TrimSpace(documentID) == "" {
		return 0, &models.ValidationError{Field: "document_id", Reason: "must not be empty"}
	}
	n, err := s.store.Delete(ctx, vectorstore.Filter{DocumentID: documentID})
	if err != nil {
		return 0, fmt.Errorf("delete document %s: %w", documentID, err)
	}
	slog.Info("deleted document", "document_id", documentID, "units", n)
	return n, nil
}

func (s *Service) ingestOne(ctx context.Context, in UnitInput) UnitResult {
	res := UnitResult{ID: in.ID, Status: StatusIndexed}
	if err := s.index(ctx, in); err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		res.Transient = models.IsTransient(err)
		slog.Warn("unit ingestion failed", "unit_id", in.ID, "modality", in.Modality, "error", err)
	}
	return res
}

func (s *Service) index(ctx context.Context, in UnitInput) error {
	unit := models.ContentUnit{
		ID:         in.ID,
		DocumentID: in.DocumentID,
		Modality:   in.Modality,
		Text:       in.Text,
		Embedding:  in.Embedding,
		SourceRef:  in.SourceRef,
		Metadata:   in.Metadata,
		CreatedAt:  time.Now().UTC(),
	}
	if !unit.Modality.Valid() {
		if m, err := models.ParseModality(string(in.Modality)); err == nil {
			unit.Modality = m
		}
	}
	// cheap checks before spending an embedding call
	if err := unit.Validate(); err != nil && !isMissingEmbedding(err) {
		return err
	}

	if len(unit.Embedding) == 0 {
		v, err := s.embed(ctx, unit.Modality, in)
		if err != nil {
			return err
		}
		unit.Embedding = v
	}
	return s.store.Upsert(ctx, unit.Modality, unit)
}

func (s *Service) embed(ctx context.Context, m models.Modality, in UnitInput) ([]float32, error) {
	if m == models.ModalityImage {
		if len(in.Image) == 0 {
			return nil, &models.ValidationError{UnitID: in.ID, Field: "image", Reason: "image units need an embedding or image bytes"}
		}
		return s.embedder.EmbedImage(ctx, in.Image)
	}
	return s.embedder.EmbedText(ctx, in.Text)
}

func isMissingEmbedding(err error) bool {
	var ve *models.ValidationError
	return errors.As(err, &ve) && ve.Field == "embedding"
}
