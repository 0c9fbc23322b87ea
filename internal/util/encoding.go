package util

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Normalize applies Unicode NFKC normalization.
func Normalize(s string) string {
	return norm.NFKC.String(s)
}

// FoldIdentifier normalizes s for case-insensitive identity comparison:
// surrounding whitespace is trimmed, the string is NFKC-normalized and then
// Unicode case-folded.
func FoldIdentifier(s string) string {
	return cases.Fold().String(Normalize(strings.TrimSpace(s)))
}
