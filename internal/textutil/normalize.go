// Package textutil normalises words so OCR output can be compared against
// detector matches regardless of case, accents or surrounding punctuation.
package textutil

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var folder = cases.Fold()

// RemoveAccents strips diacritical marks from a string.
func RemoveAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return result
}

// NormalizeWord folds case, removes accents, trims surrounding punctuation
// and drops a trailing possessive. "José's," becomes "jose".
func NormalizeWord(word string) string {
	w := RemoveAccents(word)
	w = folder.String(w)
	w = strings.TrimFunc(w, func(r rune) bool {
		return unicode.IsPunct(r) || unicode.IsSymbol(r) || unicode.IsSpace(r)
	})
	for _, suffix := range []string{"'s", "’s"} {
		if trimmed, ok := strings.CutSuffix(w, suffix); ok && trimmed != "" {
			w = trimmed
			break
		}
	}
	return w
}

// Words splits text on whitespace and returns the normalised non-empty words.
func Words(text string) []string {
	fields := strings.Fields(text)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if w := NormalizeWord(f); w != "" {
			out = append(out, w)
		}
	}
	return out
}
