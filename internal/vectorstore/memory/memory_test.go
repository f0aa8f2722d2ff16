package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

func newStore() *Store {
	return NewStore(vectorstore.Dimensions{
		models.ModalityDocument: 2,
		models.ModalityAudio:    2,
		models.ModalityImage:    3,
	})
}

func doc(id string, vec ...float32) models.ContentUnit {
	return models.ContentUnit{ID: id, DocumentID: "doc-" + id, Modality: models.ModalityDocument, Text: "text " + id, Embedding: vec}
}

func ids(matches []vectorstore.Match) []string {
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = m.Unit.ID
	}
	return out
}

func TestStore_QueryOrdersBySimilarityThenIngestion(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("far", 0, 1)))
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("tie-first", 1, 1)))
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("exact", 1, 0)))
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("tie-second", 2, 2)))

	got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 10, vectorstore.Filter{})
	require.NoError(t, err)

	assert.Equal(t, []string{"exact", "tie-first", "tie-second", "far"}, ids(got))
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Similarity, got[i].Similarity)
	}
	assert.InDelta(t, 1.0, got[0].Similarity, 1e-9)
	assert.InDelta(t, 0.0, got[3].Similarity, 1e-9)
}

func TestStore_QueryReturnsAtMostK(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc(fmt.Sprint(i), 1, float32(i))))
	}

	got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 3, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 0, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_ReupsertReplacesWithoutGrowing(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("a", 1, 0)))
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("b", 1, 0)))

	replaced := doc("a", 1, 0)
	replaced.Text = "updated"
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, replaced))

	n, err := s.Count(ctx, models.ModalityDocument)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 10, vectorstore.Filter{})
	require.NoError(t, err)
	// replacement keeps its original ingestion position
	assert.Equal(t, []string{"a", "b"}, ids(got))
	assert.Equal(t, "updated", got[0].Unit.Text)
}

func TestStore_RejectsInvalidUnits(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	tests := []struct {
		name      string
		partition models.Modality
		unit      models.ContentUnit
	}{
		{"wrong dimensionality", models.ModalityDocument, doc("a", 1, 2, 3)},
		{"empty text", models.ModalityDocument, models.ContentUnit{ID: "b", Modality: models.ModalityDocument, Embedding: []float32{1, 0}}},
		{"missing id", models.ModalityDocument, doc("", 1, 0)},
		{"partition mismatch", models.ModalityAudio, doc("c", 1, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Upsert(ctx, tt.partition, tt.unit)
			var ve *models.ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}

	n, _ := s.Count(ctx, models.ModalityDocument)
	assert.Zero(t, n)
}

func TestStore_QueryDimensionMismatch(t *testing.T) {
	_, err := newStore().Query(context.Background(), models.ModalityImage, []float32{1, 0}, 5, vectorstore.Filter{})
	assert.Error(t, err)
}

func TestStore_PartitionsAreIsolated(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	audio := doc("clip", 1, 0)
	audio.Modality = models.ModalityAudio

	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("page", 1, 0)))
	require.NoError(t, s.Upsert(ctx, models.ModalityAudio, audio))

	got, err := s.Query(ctx, models.ModalityAudio, []float32{1, 0}, 10, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, []string{"clip"}, ids(got))
}

func TestStore_FilterAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore()

	a := doc("a", 1, 0)
	a.DocumentID = "report"
	a.Metadata = map[string]string{"lang": "en"}
	b := doc("b", 1, 0)
	b.DocumentID = "report"
	c := doc("c", 1, 0)
	for _, u := range []models.ContentUnit{a, b, c} {
		require.NoError(t, s.Upsert(ctx, models.ModalityDocument, u))
	}

	got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 10, vectorstore.Filter{Metadata: map[string]string{"lang": "en"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, ids(got))

	_, err = s.Delete(ctx, vectorstore.Filter{})
	assert.ErrorIs(t, err, vectorstore.ErrEmptyFilter)

	n, err := s.Delete(ctx, vectorstore.Filter{DocumentID: "report"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	left, _ := s.Count(ctx, models.ModalityDocument)
	assert.Equal(t, 1, left)
}

func TestStore_ResultsAreCopies(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("a", 1, 0)))

	got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 1, vectorstore.Filter{})
	require.NoError(t, err)
	got[0].Unit.Embedding[0] = 99

	again, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 1, vectorstore.Filter{})
	require.NoError(t, err)
	assert.Equal(t, float32(1), again[0].Unit.Embedding[0])
}

func TestStore_ConcurrentUpsertAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newStore()
	require.NoError(t, s.Upsert(ctx, models.ModalityDocument, doc("shared", 1, 0)))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				u := doc("shared", 1, 0)
				u.Text = fmt.Sprintf("version %d-%d", w, i)
				assert.NoError(t, s.Upsert(ctx, models.ModalityDocument, u))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				got, err := s.Query(ctx, models.ModalityDocument, []float32{1, 0}, 5, vectorstore.Filter{})
				assert.NoError(t, err)
				assert.Len(t, got, 1)
			}
		}()
	}
	wg.Wait()

	n, _ := s.Count(ctx, models.ModalityDocument)
	assert.Equal(t, 1, n)
}
