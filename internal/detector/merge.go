package detector

import (
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/redactor/internal/model"
)

// BlackBoxRune fills spans redacted with the black box strategy.
const BlackBoxRune = '█'

// Merge applies the merge policy to findings from every detector on one unit.
// Findings below their category threshold are dropped. Overlapping findings of
// different categories are all kept. Findings with the same range and category
// collapse to the most confident one.
func Merge(cfg model.RedactionConfig, findings []model.Finding) []model.Finding {
	kept := make([]model.Finding, 0, len(findings))
	for _, f := range findings {
		if f.Confidence < cfg.ThresholdFor(f.Source, f.Category) {
			continue
		}
		kept = append(kept, f)
	}

	sortFindings(kept)

	merged := make([]model.Finding, 0, len(kept))
	index := make(map[findingKey]int, len(kept))
	for _, f := range kept {
		k := keyOf(f)
		if i, ok := index[k]; ok {
			if f.Confidence > merged[i].Confidence {
				merged[i] = f
			}
			continue
		}
		index[k] = len(merged)
		merged = append(merged, f)
	}

	return merged
}

type findingKey struct {
	category   string
	start, end int
	box        model.Box
	hasBox     bool
}

func keyOf(f model.Finding) findingKey {
	k := findingKey{category: f.Category, start: f.Start, end: f.End}
	if f.Box != nil {
		k.box, k.hasBox = *f.Box, true
	}
	return k
}

// sortFindings orders findings by start, end, category. Image findings order by box.
func sortFindings(findings []model.Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.Box != nil && b.Box != nil {
			if a.Box.MinY != b.Box.MinY {
				return a.Box.MinY < b.Box.MinY
			}
			if a.Box.MinX != b.Box.MinX {
				return a.Box.MinX < b.Box.MinX
			}
			if a.Box.MaxY != b.Box.MaxY {
				return a.Box.MaxY < b.Box.MaxY
			}
			if a.Box.MaxX != b.Box.MaxX {
				return a.Box.MaxX < b.Box.MaxX
			}
			return a.Category < b.Category
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.Category < b.Category
	})
}

// maskedRanges returns byte ranges of text that an earlier redaction already produced:
// placeholder occurrences and runs of black box runes.
func maskedRanges(text, placeholder string) [][2]int {
	var ranges [][2]int
	if placeholder != "" {
		for offset := 0; offset < len(text); {
			pos := strings.Index(text[offset:], placeholder)
			if pos < 0 {
				break
			}
			start := offset + pos
			ranges = append(ranges, [2]int{start, start + len(placeholder)})
			offset = start + len(placeholder)
		}
	}

	runStart := -1
	for i, r := range text {
		if r == BlackBoxRune {
			if runStart < 0 {
				runStart = i
			}
			continue
		}
		if runStart >= 0 {
			ranges = append(ranges, [2]int{runStart, i})
			runStart = -1
		}
	}
	if runStart >= 0 {
		ranges = append(ranges, [2]int{runStart, len(text)})
	}
	return ranges
}

// discardMasked drops text findings that lie entirely inside already-redacted content.
func discardMasked(text, placeholder string, findings []model.Finding) []model.Finding {
	if len(findings) == 0 {
		return findings
	}
	if !strings.Contains(text, placeholder) && !strings.ContainsRune(text, BlackBoxRune) {
		return findings
	}

	ranges := maskedRanges(text, placeholder)
	out := findings[:0]
	for _, f := range findings {
		if f.Box == nil && insideAny(f.Start, f.End, ranges) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func insideAny(start, end int, ranges [][2]int) bool {
	for _, r := range ranges {
		if start >= r[0] && end <= r[1] {
			return true
		}
	}
	return false
}

// validRunes reports whether both offsets fall on rune boundaries.
func validRunes(text string, start, end int) bool {
	return (start == len(text) || utf8.RuneStart(text[start])) && (end == len(text) || utf8.RuneStart(text[end]))
}
