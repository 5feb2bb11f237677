// Package redact applies accepted findings to content units.
package redact

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
)

// BlackBoxRune replaces every rune of a span redacted with the black box strategy.
const BlackBoxRune = '█'

// jpegQuality is used when re-encoding redacted JPEG images.
const jpegQuality = 90

// Redactor applies findings to units. It is stateless and safe for concurrent use.
type Redactor struct{}

// New creates a Redactor.
func New() *Redactor {
	return &Redactor{}
}

// span is a contiguous redaction after overlapping findings are widened to their union.
type span struct {
	box        *model.Box
	categories []string
	category   string
	source     model.DetectorKind
	strategy   model.Strategy
	start, end int
	confidence float64
}

// Apply redacts the unit. Overlapping findings widen to their union span, and each span
// gets one audit entry. The returned unit never carries the original content.
func (r *Redactor) Apply(unit model.ContentUnit, findings []model.Finding, cfg model.RedactionConfig) (model.RedactedUnit, error) {
	for _, f := range findings {
		if !f.Within(unit) {
			return model.RedactedUnit{}, fmt.Errorf("%w: unit %s: %w (%s %d-%d)",
				common.ErrUnitRedactionFailure, unit.ID, common.ErrFindingOutOfRange, f.Category, f.Start, f.End)
		}
	}

	out := model.RedactedUnit{Unit: stripContent(unit)}

	switch unit.Kind {
	case model.UnitText:
		text, spans, err := redactText(unit.Text, findings, cfg)
		if err != nil {
			return model.RedactedUnit{}, fmt.Errorf("%w: unit %s: %w", common.ErrUnitRedactionFailure, unit.ID, err)
		}
		out.Text = text
		out.Audit = auditEntries(unit.ID, spans)
	case model.UnitImage:
		data, spans, err := redactImage(unit, findings, cfg)
		if err != nil {
			return model.RedactedUnit{}, fmt.Errorf("%w: unit %s: %w", common.ErrUnitRedactionFailure, unit.ID, err)
		}
		out.Image = data
		out.Audit = auditEntries(unit.ID, spans)
	default:
		return model.RedactedUnit{}, fmt.Errorf("%w: unit %s has unknown kind %q", common.ErrUnitRedactionFailure, unit.ID, unit.Kind)
	}

	return out, nil
}

// stripContent keeps position metadata and drops the original content.
func stripContent(unit model.ContentUnit) model.ContentUnit {
	unit.Text = ""
	unit.Image = nil
	return unit
}

func redactText(text string, findings []model.Finding, cfg model.RedactionConfig) (string, []span, error) {
	for _, f := range findings {
		if !utf8.RuneStart(byteAt(text, f.Start)) || (f.End < len(text) && !utf8.RuneStart(text[f.End])) {
			return "", nil, fmt.Errorf("%w: finding %d-%d splits a character", common.ErrFindingOutOfRange, f.Start, f.End)
		}
	}

	spans := widen(findings, cfg)

	var b strings.Builder
	b.Grow(len(text))
	cursor := 0
	for _, s := range spans {
		b.WriteString(text[cursor:s.start])
		switch s.strategy {
		case model.StrategyMask:
			b.WriteString(cfg.Placeholder)
		case model.StrategyBlackBox:
			b.WriteString(strings.Repeat(string(BlackBoxRune), utf8.RuneCountInString(text[s.start:s.end])))
		case model.StrategyRemove:
		}
		cursor = s.end
	}
	b.WriteString(text[cursor:])

	return b.String(), spans, nil
}

func byteAt(text string, i int) byte {
	if i >= len(text) {
		return 0
	}
	return text[i]
}

// widen sorts text findings by start and merges overlapping ones into union spans.
func widen(findings []model.Finding, cfg model.RedactionConfig) []span {
	sorted := slices.Clone(findings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Start != sorted[j].Start {
			return sorted[i].Start < sorted[j].Start
		}
		return sorted[i].End > sorted[j].End
	})

	var spans []span
	for _, f := range sorted {
		if n := len(spans); n > 0 && f.Start < spans[n-1].end {
			last := &spans[n-1]
			last.end = max(last.end, f.End)
			absorb(last, f)
			continue
		}
		spans = append(spans, newSpan(f))
	}

	for i := range spans {
		spans[i].categories = finalizeCategories(spans[i].categories)
		spans[i] = resolveStrategy(spans[i], cfg)
	}
	return spans
}

func newSpan(f model.Finding) span {
	s := span{
		start:      f.Start,
		end:        f.End,
		category:   f.Category,
		categories: []string{f.Category},
		confidence: f.Confidence,
		source:     f.Source,
	}
	if f.Box != nil {
		b := *f.Box
		s.box = &b
	}
	return s
}

// absorb folds a finding's provenance into a span.
func absorb(s *span, f model.Finding) {
	if !slices.Contains(s.categories, f.Category) {
		s.categories = append(s.categories, f.Category)
	}
	if f.Confidence > s.confidence {
		s.confidence = f.Confidence
		s.category = f.Category
		s.source = f.Source
	}
}

func finalizeCategories(categories []string) []string {
	if len(categories) < 2 {
		return nil
	}
	out := slices.Clone(categories)
	sort.Strings(out)
	return out
}

// resolveStrategy picks the strongest strategy among the span's categories and
// reports the category that demanded it.
func resolveStrategy(s span, cfg model.RedactionConfig) span {
	s.strategy = cfg.StrategyFor(s.category)
	for _, c := range s.categories {
		if st := cfg.StrategyFor(c); st.Strength() > s.strategy.Strength() {
			s.strategy = st
			s.category = c
		}
	}
	return s
}

func auditEntries(unitID string, spans []span) []model.AuditEntry {
	entries := make([]model.AuditEntry, 0, len(spans))
	for _, s := range spans {
		entries = append(entries, model.AuditEntry{
			UnitID:     unitID,
			Category:   s.category,
			Categories: s.categories,
			Start:      s.start,
			End:        s.end,
			Box:        s.box,
			Strategy:   s.strategy,
			Confidence: s.confidence,
			Source:     s.source,
		})
	}
	return entries
}

func redactImage(unit model.ContentUnit, findings []model.Finding, cfg model.RedactionConfig) ([]byte, []span, error) {
	src, format, err := image.Decode(bytes.NewReader(unit.Image))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if unit.ImageFormat != "" {
		format = unit.ImageFormat
	}

	canvas := image.NewRGBA(src.Bounds())
	draw.Draw(canvas, canvas.Bounds(), src, src.Bounds().Min, draw.Src)

	spans := widenBoxes(findings, cfg)
	offset := src.Bounds().Min
	for _, s := range spans {
		fill := color.Color(color.Black)
		if s.strategy == model.StrategyRemove {
			fill = color.White
		}
		rect := image.Rect(s.box.MinX, s.box.MinY, s.box.MaxX, s.box.MaxY).Add(offset)
		draw.Draw(canvas, rect, &image.Uniform{C: fill}, image.Point{}, draw.Src)
	}

	data, err := Encode(canvas, format)
	if err != nil {
		return nil, nil, err
	}
	return data, spans, nil
}

// widenBoxes merges overlapping boxes into their bounding union until none overlap.
func widenBoxes(findings []model.Finding, cfg model.RedactionConfig) []span {
	spans := make([]span, 0, len(findings))
	for _, f := range findings {
		spans = append(spans, newSpan(f))
	}

	for merged := true; merged; {
		merged = false
		for i := 0; i < len(spans) && !merged; i++ {
			for j := i + 1; j < len(spans); j++ {
				if !spans[i].box.Overlaps(*spans[j].box) {
					continue
				}
				union := spans[i].box.Union(*spans[j].box)
				spans[i].box = &union
				for _, c := range spans[j].categories {
					absorb(&spans[i], model.Finding{Category: c, Confidence: spans[j].confidence, Source: spans[j].source})
				}
				spans = slices.Delete(spans, j, j+1)
				merged = true
				break
			}
		}
	}

	sort.SliceStable(spans, func(i, j int) bool {
		a, b := spans[i].box, spans[j].box
		if a.MinY != b.MinY {
			return a.MinY < b.MinY
		}
		return a.MinX < b.MinX
	})

	for i := range spans {
		spans[i].categories = finalizeCategories(spans[i].categories)
		spans[i] = resolveStrategy(spans[i], cfg)
	}
	return spans
}

// Encode writes img in the named format. Unknown formats are written as PNG.
func Encode(img image.Image, format string) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch strings.ToLower(format) {
	case "jpeg", "jpg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality})
	default:
		err = png.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s image: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Blackout returns an all-black image with the unit's bounds, encoded in its format.
func Blackout(unit model.ContentUnit) ([]byte, error) {
	if unit.Bounds.Empty() {
		return nil, fmt.Errorf("%w: unit %s has no bounds", common.ErrUnitRedactionFailure, unit.ID)
	}
	canvas := image.NewRGBA(image.Rect(0, 0, unit.Bounds.MaxX, unit.Bounds.MaxY))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)
	return Encode(canvas, unit.ImageFormat)
}
