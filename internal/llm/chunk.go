package llm

import (
	"strings"
	"unicode/utf8"
)

// Chunking defaults. Overlap keeps a sensitive string that straddles a chunk
// boundary whole in at least one chunk.
const (
	DefaultChunkSize    = 500
	DefaultChunkOverlap = 250
)

// separators are tried in order; the empty separator splits into runes.
var separators = []string{"\n\n", "\n", " ", ""}

// splitText breaks text into chunks of at most size runes that overlap by up
// to overlap runes, preferring paragraph, then line, then word boundaries.
func splitText(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 2
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return splitRecursive(text, separators, size, overlap)
}

func splitRecursive(text string, seps []string, size, overlap int) []string {
	sep := ""
	var rest []string
	for i, s := range seps {
		if s == "" || strings.Contains(text, s) {
			sep = s
			rest = seps[i+1:]
			break
		}
	}

	var pieces []string
	if sep == "" {
		pieces = strings.Split(text, "")
	} else {
		pieces = strings.Split(text, sep)
	}

	var (
		out  []string
		good []string
	)
	for _, p := range pieces {
		if utf8.RuneCountInString(p) <= size {
			good = append(good, p)
			continue
		}
		if len(good) > 0 {
			out = append(out, mergePieces(good, sep, size, overlap)...)
			good = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
			continue
		}
		out = append(out, splitRecursive(p, rest, size, overlap)...)
	}
	if len(good) > 0 {
		out = append(out, mergePieces(good, sep, size, overlap)...)
	}
	return out
}

// mergePieces packs small pieces into chunks, carrying a tail of up to overlap
// runes into the next chunk.
func mergePieces(pieces []string, sep string, size, overlap int) []string {
	sepLen := utf8.RuneCountInString(sep)

	var (
		chunks []string
		window []string
		total  int
	)
	emit := func() {
		if c := strings.TrimSpace(strings.Join(window, sep)); c != "" {
			chunks = append(chunks, c)
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		joint := 0
		if len(window) > 0 {
			joint = sepLen
		}

		if total+joint+n > size && len(window) > 0 {
			emit()
			for len(window) > 0 && (total > overlap || total+sepLen+n > size) {
				total -= utf8.RuneCountInString(window[0])
				if len(window) > 1 {
					total -= sepLen
				}
				window = window[1:]
			}
		}

		if len(window) > 0 {
			total += sepLen
		}
		window = append(window, p)
		total += n
	}
	emit()
	return chunks
}
