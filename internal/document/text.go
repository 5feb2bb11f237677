package document

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/redactor/internal/model"
)

// paragraphBreak matches a blank line, optionally holding spaces or tabs.
var paragraphBreak = regexp.MustCompile(`\r?\n(?:[ \t]*\r?\n)+`)

// TextCodec splits plain text into paragraphs. Separators are kept byte for byte.
type TextCodec struct{}

// NewTextCodec creates a plain text codec.
func NewTextCodec() *TextCodec {
	return &TextCodec{}
}

// Formats implements Codec.
func (c *TextCodec) Formats() []string {
	return []string{FormatText}
}

type textDocument struct {
	// segments alternates paragraph text and separators; unitSegment maps unit index to segment.
	segments    []string
	unitSegment []int
	units       []model.ContentUnit
}

// Decompose implements Codec.
func (c *TextCodec) Decompose(data []byte) (Parsed, error) {
	if !utf8.Valid(data) {
		return nil, errors.New("text is not valid UTF-8")
	}
	if strings.IndexByte(string(data), 0) >= 0 {
		return nil, errors.New("text contains NUL bytes")
	}

	text := string(data)
	doc := &textDocument{}

	cursor := 0
	addParagraph := func(start, end int) {
		if start == end {
			return
		}
		para := text[start:end]
		doc.segments = append(doc.segments, para)
		if strings.TrimSpace(para) == "" {
			return
		}
		index := len(doc.units)
		doc.unitSegment = append(doc.unitSegment, len(doc.segments)-1)
		doc.units = append(doc.units, model.ContentUnit{
			ID:       fmt.Sprintf("paragraph-%d", index),
			Index:    index,
			Kind:     model.UnitText,
			Location: model.Location{Field: fmt.Sprintf("paragraph[%d]", index)},
			Text:     para,
			Start:    start,
			End:      end,
		})
	}

	for _, loc := range paragraphBreak.FindAllStringIndex(text, -1) {
		addParagraph(cursor, loc[0])
		doc.segments = append(doc.segments, text[loc[0]:loc[1]])
		cursor = loc[1]
	}
	addParagraph(cursor, len(text))

	return doc, nil
}

func (d *textDocument) Units() []model.ContentUnit {
	return d.units
}

func (d *textDocument) Reassemble(parts []Part) ([]byte, error) {
	if err := checkParts(d.units, parts); err != nil {
		return nil, err
	}

	segments := make([]string, len(d.segments))
	copy(segments, d.segments)
	for i, part := range parts {
		if part.Omit {
			segments[d.unitSegment[i]] = ""
			continue
		}
		segments[d.unitSegment[i]] = part.Text
	}

	return []byte(strings.Join(segments, "")), nil
}
