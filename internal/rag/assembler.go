package rag

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/nikhilbhutani/multimodalrag/internal/models"
	"github.com/nikhilbhutani/multimodalrag/pkg/tokenizer"
)

// Assembled is the grounded context handed to the generator.
type Assembled struct {
	Context   string
	Citations []models.Citation
	Tokens    int
	// Sources are the admitted results, in citation order.
	Sources []models.RetrievalResult
}

// Empty reports that nothing cleared the relevance floor, so there is no
// grounding to answer from.
func (a Assembled) Empty() bool { return len(a.Citations) == 0 }

type Assembler struct {
	maxTokens int
	floor     float64
}

func NewAssembler(maxTokens int, floor float64) *Assembler {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Assembler{maxTokens: maxTokens, floor: floor}
}

// Assemble walks ranked results in order and admits each one that clears the
// relevance floor and is not a normalized duplicate of an earlier admission.
// It stops at the first result that would push the context past the budget.
func (a *Assembler) Assemble(results []models.RetrievalResult) Assembled {
	var (
		out    Assembled
		blocks []string
		seen   = make(map[string]struct{})
	)

	for _, r := range results {
		if r.Score < a.floor {
			continue
		}
		key := normalize(r.Text)
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}

		n := len(out.Citations) + 1
		source := r.SourceRef.String()
		block := fmt.Sprintf("[%d] %s - %s\n%s", n, strings.ToUpper(string(r.Modality)), source, r.Text)
		candidate := strings.Join(append(blocks, block), "\n\n")
		tokens := tokenizer.CountTokens(candidate)
		if tokens > a.maxTokens {
			break
		}

		seen[key] = struct{}{}
		blocks = append(blocks, block)
		out.Context = candidate
		out.Tokens = tokens
		out.Sources = append(out.Sources, r)
		out.Citations = append(out.Citations, models.Citation{
			Number:         n,
			UnitID:         r.UnitID,
			DocumentID:     r.DocumentID,
			Modality:       r.Modality,
			SourceRef:      r.SourceRef,
			Source:         source,
			ContentPreview: models.Preview(r.Text, models.PreviewLen),
			Score:          r.Score,
			Related:        r.Related,
		})
	}
	return out
}

// normalize lowercases, collapses whitespace and trims surrounding
// punctuation so trivially different copies of a fragment compare equal.
func normalize(text string) string {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	return strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSpace(r)
	})
}
