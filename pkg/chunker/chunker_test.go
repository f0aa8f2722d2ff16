package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplit_ShortTextIsOneChunk(t *testing.T) {
	chunks := Split("Q3 budget is $500,000. Approved in May.", DefaultOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, "Q3 budget is $500,000. Approved in May.", chunks[0].Text)
	assert.Zero(t, chunks[0].Index)
}

func TestSplit_RespectsLimitAndOverlaps(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 40; i++ {
		sb.WriteString("The quarterly budget review covered several departments. ")
	}
	opts := Options{MaxChars: 200, OverlapWords: 3}
	chunks := Split(sb.String(), opts)

	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), opts.MaxChars)
	}
	prev := strings.Fields(chunks[0].Text)
	next := strings.Fields(chunks[1].Text)
	assert.Equal(t, prev[len(prev)-3:], next[:3])
}

func TestSplit_BreaksOversizedWords(t *testing.T) {
	chunks := Split(strings.Repeat("x", 25), Options{MaxChars: 10})
	require.Len(t, chunks, 3)
	for _, c := range chunks {
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 10)
	}
}

func TestSplit_Empty(t *testing.T) {
	assert.Empty(t, Split("   \n\n  ", DefaultOptions()))
}

func TestSplitSentences(t *testing.T) {
	got := splitSentences("One. Two!\n\nThree? v1.2 stays")
	assert.Equal(t, []string{"One.", " Two!", "\n", "\nThree?", " v1.2 stays"}, got)
}
