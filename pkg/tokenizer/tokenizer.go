package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// CountTokens provides a rough token count estimate. It takes the larger of
// a word-based and a character-based guess so that long unbroken strings
// (URLs, numbers, CJK text) are not undercounted.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	words := len(strings.Fields(text)) * 4 / 3
	chars := utf8.RuneCountInString(text) / 4
	return max(words, chars, 1)
}
