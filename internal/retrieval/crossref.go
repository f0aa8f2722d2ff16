package retrieval

import (
	"strings"
	"unicode"

	"github.com/nikhilbhutani/multimodalrag/internal/embedding"
	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/internal/vectorstore"
)

// annotateRelated marks pairs among the first topN results that come from
// different modalities and overlap lexically, or in embedding space when both
// live in the same space. It only ever adds annotations.
func annotateRelated(results []models.RetrievalResult, topN int, threshold float64) {
	n := min(topN, len(results))
	if n < 2 {
		return
	}
	tokens := make([]map[string]struct{}, n)
	for i := 0; i < n; i++ {
		tokens[i] = tokenSet(results[i].Text)
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			a, b := &results[i], &results[j]
			if a.Modality == b.Modality {
				continue
			}
			related := Jaccard(tokens[i], tokens[j]) >= threshold
			if !related && embedding.SpaceFor(a.Modality) == embedding.SpaceFor(b.Modality) {
				related = vectorstore.Similarity(a.Embedding(), b.Embedding()) >= relatedCosine
			}
			if related {
				a.Related = append(a.Related, b.UnitID)
				b.Related = append(b.Related, a.UnitID)
			}
		}
	}
}

// tokenSet lowercases text and keeps alphanumeric words of three or more
// runes.
func tokenSet(text string) map[string]struct{} {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		if len([]rune(w)) >= 3 {
			set[w] = struct{}{}
		}
	}
	return set
}

func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for w := range a {
		if _, ok := b[w]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a)+len(b)-inter)
}
