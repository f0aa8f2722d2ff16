// Package retrieval fans a query out over the modality partitions of the
// vector store and merges the hits into one ranked list.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nikhilbhutani/multimodalrag/internal/embedding"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

type Options struct {
	// PerPartitionK is the k passed to each partition query.
	PerPartitionK int
	// MaxResults caps the merged list; zero keeps every hit.
	MaxResults int
	// CrossRefTopN bounds how many top results are compared pairwise.
	CrossRefTopN int
	// CrossRefThreshold is the token-set Jaccard overlap above which two
	// results of different modalities are marked related.
	CrossRefThreshold float64
	// Offsets are added to a partition's similarity before merging.
	Offsets map[models.Modality]float64
}

// relatedCosine is the same-space embedding similarity above which two
// results are marked related regardless of lexical overlap.
const relatedCosine = 0.85

type Engine struct {
	store    vectorstore.VectorStore
	embedder embedding.Embedder
	opts     Options
}

func NewEngine(store vectorstore.VectorStore, embedder embedding.Embedder, opts Options) *Engine {
	if opts.PerPartitionK <= 0 {
		opts.PerPartitionK = 10
	}
	if opts.CrossRefTopN <= 0 {
		opts.CrossRefTopN = 5
	}
	if opts.CrossRefThreshold <= 0 {
		opts.CrossRefThreshold = 0.35
	}
	return &Engine{store: store, embedder: embedder, opts: opts}
}

type Request struct {
	Query string
	// Modalities restricts the searched partitions; empty searches all.
	Modalities []models.Modality
	Filter     vectorstore.Filter
	// Limit overrides Options.MaxResults when positive.
	Limit int
}

func (r Request) partitions() []models.Modality {
	if len(r.Modalities) == 0 {
		return models.Modalities
	}
	want := make(map[models.Modality]bool, len(r.Modalities))
	for _, m := range r.Modalities {
		want[m] = true
	}
	var out []models.Modality
	for _, m := range models.Modalities {
		if want[m] {
			out = append(out, m)
		}
	}
	return out
}

type partitionHits struct {
	modality models.Modality
	matches  []vectorstore.Match
	err      error
}

// Retrieve embeds the query once per needed space, queries every selected
// partition concurrently and returns the merged ranking. A failing partition
// is logged and skipped; a RetrievalError is returned only when all of them
// fail.
func (e *Engine) Retrieve(ctx context.Context, req Request) ([]models.RetrievalResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, &models.EmbeddingError{Op: "embed_text", Reason: "query is empty"}
	}
	parts := req.partitions()
	if len(parts) == 0 {
		return nil, nil
	}

	vectors, embedErrs := e.embedQuery(ctx, req.Query, parts)

	hits := make([]partitionHits, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	for i, m := range parts {
		hits[i].modality = m
		space := embedding.SpaceFor(m)
		if err := embedErrs[space]; err != nil {
			hits[i].err = err
			continue
		}
		g.Go(func() error {
			// errors stay per partition so one failure never cancels the others
			hits[i].matches, hits[i].err = e.store.Query(gctx, m, vectors[space], e.opts.PerPartitionK, req.Filter)
			return nil
		})
	}
	_ = g.Wait()

	results, err := e.collect(ctx, hits)
	if err != nil {
		return nil, err
	}
	return e.finish(results, req.Limit), nil
}

// SearchImage finds image units similar to an example image.
func (e *Engine) SearchImage(ctx context.Context, image []byte, k int, filter vectorstore.Filter) ([]models.RetrievalResult, error) {
	vec, err := e.embedder.EmbedImage(ctx, image)
	if err != nil {
		return nil, err
	}
	if k <= 0 {
		k = e.opts.PerPartitionK
	}
	matches, err := e.store.Query(ctx, models.ModalityImage, vec, k, filter)
	results, err := e.collect(ctx, []partitionHits{{modality: models.ModalityImage, matches: matches, err: err}})
	if err != nil {
		return nil, err
	}
	return e.finish(results, k), nil
}

func (e *Engine) embedQuery(ctx context.Context, query string, parts []models.Modality) (map[embedding.Space][]float32, map[embedding.Space]error) {
	needed := make(map[embedding.Space]bool)
	for _, m := range parts {
		needed[embedding.SpaceFor(m)] = true
	}

	type out struct {
		space embedding.Space
		vec   []float32
		err   error
	}
	spaces := []embedding.Space{embedding.SpaceText, embedding.SpaceImage}
	outs := make([]out, len(spaces))

	var g errgroup.Group
	for i, sp := range spaces {
		if !needed[sp] {
			continue
		}
		outs[i].space = sp
		g.Go(func() error {
			if sp == embedding.SpaceImage {
				outs[i].vec, outs[i].err = e.embedder.EmbedTextForImages(ctx, query)
			} else {
				outs[i].vec, outs[i].err = e.embedder.EmbedText(ctx, query)
			}
			return nil
		})
	}
	_ = g.Wait()

	vectors := make(map[embedding.Space][]float32)
	errs := make(map[embedding.Space]error)
	for _, o := range outs {
		if o.space == "" {
			continue
		}
		if o.err != nil {
			errs[o.space] = o.err
			continue
		}
		vectors[o.space] = o.vec
	}
	return vectors, errs
}

func (e *Engine) collect(ctx context.Context, hits []partitionHits) ([]models.RetrievalResult, error) {
	failures := make(map[models.Modality]error)
	var results []models.RetrievalResult
	for _, h := range hits {
		if h.err != nil {
			failures[h.modality] = h.err
			slog.Warn("partition query failed", "partition", h.modality, "error", h.err)
			continue
		}
		offset := e.opts.Offsets[h.modality]
		for i, m := range h.matches {
			r := models.RetrievalResult{
				UnitID:       m.Unit.ID,
				DocumentID:   m.Unit.DocumentID,
				Modality:     h.modality,
				Score:        vectorstore.ClampScore(m.Similarity + offset),
				ModalityRank: i + 1,
				Text:         m.Unit.Text,
				SourceRef:    m.Unit.SourceRef,
				Seq:          m.Seq,
			}
			results = append(results, r.WithEmbedding(m.Unit.Embedding))
		}
	}
	if len(failures) == len(hits) {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		return nil, &models.RetrievalError{Failures: failures}
	}
	return results, nil
}

func (e *Engine) finish(results []models.RetrievalResult, limit int) []models.RetrievalResult {
	Rank(results)
	if limit <= 0 {
		limit = e.opts.MaxResults
	}
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	annotateRelated(results, e.opts.CrossRefTopN, e.opts.CrossRefThreshold)
	return results
}

// Rank sorts by descending score, then modality priority, then ingestion
// order. The key is total for distinct units so repeated calls agree.
func Rank(results []models.RetrievalResult) {
	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if pa, pb := a.Modality.Priority(), b.Modality.Priority(); pa != pb {
			return pa < pb
		}
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		return a.UnitID < b.UnitID
	})
}
