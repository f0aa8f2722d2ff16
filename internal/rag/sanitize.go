package rag

import (
	"regexp"
	"strings"
)

var (
	citationMarker = regexp.MustCompile(`(?i)\[\s*(?:source\s+)?\d+(?:\s*[,;\-–]\s*\d+)*\s*\]`)
	boldStars      = regexp.MustCompile(`\*\*([^*\n]+?)\*\*`)
	boldUnders     = regexp.MustCompile(`__([^_\n]+?)__`)
	italicStar     = regexp.MustCompile(`\*(\S[^*\n]*?\S|\S)\*`)
	italicUnder    = regexp.MustCompile(`\b_([^_\n]+?)_\b`)
	heading        = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]+`)
	strayMarkup    = regexp.MustCompile("\\*\\*|__|`")
	spaceBeforeP   = regexp.MustCompile(`[ \t]+([.,;:!?])`)
	spaces         = regexp.MustCompile(`[ \t]{2,}`)
	trailingSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
	blankLines     = regexp.MustCompile(`\n{3,}`)
)

// Sanitize strips citation markers and markdown emphasis, headings and code
// ticks from generated text, keeping the words themselves.
func Sanitize(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = boldStars.ReplaceAllString(s, "$1")
	s = boldUnders.ReplaceAllString(s, "$1")
	s = italicStar.ReplaceAllString(s, "$1")
	s = italicUnder.ReplaceAllString(s, "$1")
	s = heading.ReplaceAllString(s, "")
	s = strayMarkup.ReplaceAllString(s, "")
	s = citationMarker.ReplaceAllString(s, "")
	s = spaceBeforeP.ReplaceAllString(s, "$1")
	s = spaces.ReplaceAllString(s, " ")
	s = trailingSpace.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
