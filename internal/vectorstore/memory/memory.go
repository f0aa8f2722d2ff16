package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

// record is immutable once stored; an upsert swaps in a new record rather
// than editing the old one, so a query holding a pointer never sees a torn
// unit.
type record struct {
	unit models.ContentUnit
	seq  uint64
}

// Store is an in-memory brute-force cosine index, one slice per partition.
type Store struct {
	mu         sync.RWMutex
	dims       vectorstore.Dimensions
	partitions map[models.Modality][]*record
	byID       map[string]models.Modality
	nextSeq    uint64
}

var _ vectorstore.VectorStore = (*Store)(nil)

func NewStore(dims vectorstore.Dimensions) *Store {
	return &Store{
		dims:       dims,
		partitions: make(map[models.Modality][]*record),
		byID:       make(map[string]models.Modality),
	}
}

func (s *Store) Upsert(_ context.Context, partition models.Modality, unit models.ContentUnit) error {
	if err := s.dims.CheckUnit(partition, unit); err != nil {
		return err
	}
	unit = unit.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.byID[unit.ID]; ok {
		recs := s.partitions[prev]
		for i, r := range recs {
			if r.unit.ID != unit.ID {
				continue
			}
			if !r.unit.CreatedAt.IsZero() {
				unit.CreatedAt = r.unit.CreatedAt
			}
			if prev == partition {
				// in-place swap keeps ingestion order
				recs[i] = &record{unit: unit, seq: r.seq}
				return nil
			}
			s.partitions[prev] = append(recs[:i:i], recs[i+1:]...)
			s.append(partition, unit, r.seq)
			return nil
		}
	}

	if unit.CreatedAt.IsZero() {
		unit.CreatedAt = time.Now().UTC()
	}
	s.nextSeq++
	s.append(partition, unit, s.nextSeq)
	return nil
}

// append inserts keeping each partition sorted by seq.
func (s *Store) append(partition models.Modality, unit models.ContentUnit, seq uint64) {
	recs := s.partitions[partition]
	i := sort.Search(len(recs), func(i int) bool { return recs[i].seq > seq })
	recs = append(recs, nil)
	copy(recs[i+1:], recs[i:])
	recs[i] = &record{unit: unit, seq: seq}
	s.partitions[partition] = recs
	s.byID[unit.ID] = partition
}

func (s *Store) Query(ctx context.Context, partition models.Modality, vector []float32, k int, filter vectorstore.Filter) ([]vectorstore.Match, error) {
	if err := s.dims.CheckQuery(partition, vector); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	recs := s.partitions[partition]
	snapshot := make([]*record, len(recs))
	copy(snapshot, recs)
	s.mu.RUnlock()

	type scored struct {
		rec   *record
		score float64
	}
	hits := make([]scored, 0, len(snapshot))
	for i, r := range snapshot {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if !filter.Matches(&r.unit) {
			continue
		}
		hits = append(hits, scored{rec: r, score: vectorstore.Similarity(vector, r.unit.Embedding)})
	}

	// snapshot is in seq order, so a stable sort keeps earlier units first on ties
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if len(hits) > k {
		hits = hits[:k]
	}

	out := make([]vectorstore.Match, len(hits))
	for i, h := range hits {
		out[i] = vectorstore.Match{Unit: h.rec.unit.Clone(), Similarity: h.score, Seq: h.rec.seq}
	}
	return out, nil
}

func (s *Store) Delete(_ context.Context, filter vectorstore.Filter) (int, error) {
	if filter.Empty() {
		return 0, vectorstore.ErrEmptyFilter
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for p, recs := range s.partitions {
		kept := make([]*record, 0, len(recs))
		for _, r := range recs {
			if filter.Matches(&r.unit) {
				delete(s.byID, r.unit.ID)
				removed++
				continue
			}
			kept = append(kept, r)
		}
		s.partitions[p] = kept
	}
	return removed, nil
}

func (s *Store) Count(_ context.Context, partition models.Modality) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.partitions[partition]), nil
}

func (s *Store) Ping(context.Context) error { return nil }
