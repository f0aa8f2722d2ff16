package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
)

// ErrEmptyFilter guards Delete against wiping every partition.
var ErrEmptyFilter = errors.New("delete requires a non-empty filter")

// Filter restricts queries and deletes. Empty fields match everything;
// Metadata entries must all match exactly.
type Filter struct {
	DocumentID string
	Metadata   map[string]string
}

func (f Filter) Empty() bool {
	return f.DocumentID == "" && len(f.Metadata) == 0
}

func (f Filter) Matches(u *models.ContentUnit) bool {
	if f.DocumentID != "" && u.DocumentID != f.DocumentID {
		return false
	}
	for k, v := range f.Metadata {
		if u.Metadata[k] != v {
			return false
		}
	}
	return true
}

// Match is one query hit. Unit is a copy owned by the caller.
type Match struct {
	Unit       models.ContentUnit
	Similarity float64
	Seq        uint64 // ingestion order within the store
}

// VectorStore is a modality-partitioned embedding index. Query returns at most
// k matches by descending similarity, earlier-ingested units first on ties.
type VectorStore interface {
	Upsert(ctx context.Context, partition models.Modality, unit models.ContentUnit) error
	Query(ctx context.Context, partition models.Modality, vector []float32, k int, filter Filter) ([]Match, error)
	Delete(ctx context.Context, filter Filter) (int, error)
	Count(ctx context.Context, partition models.Modality) (int, error)
	Ping(ctx context.Context) error
}

// Dimensions maps each partition to its fixed embedding dimensionality.
type Dimensions map[models.Modality]int

// DimensionsFromConfig converts the config's string-keyed map.
func DimensionsFromConfig(dims map[string]int) Dimensions {
	out := make(Dimensions, len(dims))
	for k, v := range dims {
		out[models.Modality(k)] = v
	}
	return out
}

// CheckUnit validates a unit against the partition it is written to.
func (d Dimensions) CheckUnit(partition models.Modality, u models.ContentUnit) error {
	if err := u.Validate(); err != nil {
		return err
	}
	if u.Modality != partition {
		return &models.ValidationError{UnitID: u.ID, Field: "modality", Reason: fmt.Sprintf("%s unit written to %s partition", u.Modality, partition)}
	}
	dim, ok := d[partition]
	if !ok {
		return &models.ValidationError{UnitID: u.ID, Field: "modality", Reason: fmt.Sprintf("no %s partition configured", partition)}
	}
	if len(u.Embedding) != dim {
		return &models.ValidationError{UnitID: u.ID, Field: "embedding", Reason: fmt.Sprintf("has %d dimensions, partition %s requires %d", len(u.Embedding), partition, dim)}
	}
	return nil
}

// CheckQuery validates a query vector against a partition.
func (d Dimensions) CheckQuery(partition models.Modality, vector []float32) error {
	dim, ok := d[partition]
	if !ok {
		return fmt.Errorf("no %s partition configured", partition)
	}
	if len(vector) != dim {
		return fmt.Errorf("query vector has %d dimensions, partition %s requires %d", len(vector), partition, dim)
	}
	return nil
}

// Similarity is cosine similarity clamped to [0,1] so that scores from every
// partition share one scale. Zero vectors score 0.
func Similarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return ClampScore(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

func ClampScore(s float64) float64 {
	if math.IsNaN(s) || s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}
