package rag

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"numeric marker", "The Q3 budget is $500,000 [1].", "The Q3 budget is $500,000."},
		{"multi marker", "Both agree [1, 2] on this [3-4].", "Both agree on this."},
		{"source marker", "As stated in [Source 2], revenue grew.", "As stated in, revenue grew."},
		{"bold", "This is **very** important.", "This is very important."},
		{"underscore bold", "This is __very__ important.", "This is very important."},
		{"italic", "An *emphasized* word.", "An emphasized word."},
		{"underscore italic", "An _emphasized_ word.", "An emphasized word."},
		{"snake case survives", "Set max_context_length in the file.", "Set max_context_length in the file."},
		{"heading", "## Summary\nThe budget grew.", "Summary\nThe budget grew."},
		{"code ticks", "Run `make build` first.", "Run make build first."},
		{"blank lines", "One.\n\n\n\nTwo.", "One.\n\nTwo."},
		{"spaces", "Too    many   spaces.", "Too many spaces."},
		{"bold italic", "A ***strong*** claim.", "A strong claim."},
		{"bold marker", "The budget is $500,000 [**1**].", "The budget is $500,000."},
		{"code marker", "See [`2`] for details.", "See for details."},
		{"arithmetic", "The total is 2 * 3 * 4 = 24.", "The total is 2 * 3 * 4 = 24."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.raw))
		})
	}
}

var (
	leftoverMarker   = regexp.MustCompile(`\[\s*(?:Source\s+)?\d+[^\]]*\]`)
	leftoverEmphasis = regexp.MustCompile(`\*\*|__|\*[^*\s][^*]*\*|(?m)^#+\s`)
)

func TestSanitize_Corpus(t *testing.T) {
	corpus := []string{
		"# Answer\n\nAccording to the report [1], the **Q3 budget** is *$500,000* [2].",
		"### Key points\n**Revenue** grew [1, 3]. The _team_ met on Monday [Source 4].",
		"Based on the recording [2], they said: `ship it` and __final__ numbers follow [1][2].",
		"Plain answer with nothing to remove.",
		"**Bold** at start and *italic* at end *here*",
		"The budget is $500,000 [**1**] and rising [*2*].",
		"See [`2`] for details [__3__].",
	}
	for _, raw := range corpus {
		got := Sanitize(raw)
		assert.NotRegexp(t, leftoverMarker, got, raw)
		assert.NotRegexp(t, leftoverEmphasis, got, raw)
		assert.NotContains(t, got, "`")
	}
}
