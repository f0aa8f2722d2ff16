// Package chunker splits long extracted text into retrieval-sized pieces.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type Options struct {
	MaxChars     int // upper bound per chunk, in runes
	OverlapWords int // trailing words of a chunk repeated at the start of the next
}

func DefaultOptions() Options {
	return Options{MaxChars: 1000, OverlapWords: 20}
}

type Chunk struct {
	Text  string
	Index int
}

// Split packs whole sentences into chunks of at most MaxChars runes, carrying
// the last OverlapWords words forward so context survives the cut. Sentences
// longer than MaxChars are broken on word boundaries.
func Split(text string, opts Options) []Chunk {
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultOptions().MaxChars
	}
	if opts.OverlapWords < 0 {
		opts.OverlapWords = 0
	}

	var (
		chunks  []Chunk
		current []string // words of the chunk being built
		size    int      // rune length of strings.Join(current, " ")
		fresh   bool     // current holds words not yet emitted
	)
	emit := func() {
		if !fresh {
			return
		}
		chunks = append(chunks, Chunk{Text: strings.Join(current, " "), Index: len(chunks)})
		current = overlap(current, opts.OverlapWords, opts.MaxChars/2)
		size = joinedLen(current)
		fresh = false
	}

	for _, sentence := range splitSentences(text) {
		words := splitLongWords(strings.Fields(sentence), opts.MaxChars)
		if len(words) == 0 {
			continue
		}
		sLen := joinedLen(words)
		if fresh && size+1+sLen > opts.MaxChars {
			emit()
		}
		for _, w := range words {
			wl := utf8.RuneCountInString(w)
			add := wl
			if len(current) > 0 {
				add++
			}
			if size+add > opts.MaxChars && fresh {
				emit()
				add = wl
				if len(current) > 0 {
					add++
				}
			}
			if size+add > opts.MaxChars {
				// overlap alone leaves no room; drop it
				current, size = nil, 0
				add = wl
			}
			current = append(current, w)
			size += add
			fresh = true
		}
	}
	emit()
	return chunks
}

func splitLongWords(words []string, limit int) []string {
	out := words[:0:0]
	for _, w := range words {
		r := []rune(w)
		for len(r) > limit {
			out = append(out, string(r[:limit]))
			r = r[limit:]
		}
		out = append(out, string(r))
	}
	return out
}

// overlap returns the trailing n words, bounded to limit runes.
func overlap(words []string, n, limit int) []string {
	if n == 0 || len(words) == 0 {
		return nil
	}
	tail := words[max(0, len(words)-n):]
	for len(tail) > 0 && joinedLen(tail) > limit {
		tail = tail[1:]
	}
	return append([]string(nil), tail...)
}

func joinedLen(words []string) int {
	if len(words) == 0 {
		return 0
	}
	n := len(words) - 1
	for _, w := range words {
		n += utf8.RuneCountInString(w)
	}
	return n
}

// splitSentences cuts after '.', '!' or '?' when followed by whitespace, and
// at blank lines.
func splitSentences(text string) []string {
	var (
		out   []string
		start int
	)
	runes := []rune(text)
	for i, r := range runes {
		end := false
		switch {
		case r == '.' || r == '!' || r == '?':
			end = i+1 < len(runes) && unicode.IsSpace(runes[i+1])
		case r == '\n':
			end = i+1 < len(runes) && runes[i+1] == '\n'
		}
		if end {
			out = append(out, string(runes[start:i+1]))
			start = i + 1
		}
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}
