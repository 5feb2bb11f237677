package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/Veraticus/redactor/internal/model"
)

// Defaults for findings the model does not fully describe.
const (
	DefaultCategory   = "sensitive"
	DefaultConfidence = 0.9
)

// ServiceOptions tunes a DetectionService.
type ServiceOptions struct {
	Logger       *slog.Logger
	Instructions string
	Categories   []string
	ChunkSize    int
	ChunkOverlap int
}

// DetectionService asks a language model for sensitive strings and locates
// them in the unit text. Only text units are supported.
type DetectionService struct {
	client       Client
	logger       *slog.Logger
	system       string
	chunkSize    int
	chunkOverlap int
}

// NewDetectionService wraps a client as a detection service.
func NewDetectionService(client Client, opts ServiceOptions) *DetectionService {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.ChunkOverlap <= 0 {
		opts.ChunkOverlap = DefaultChunkOverlap
	}

	return &DetectionService{
		client:       client,
		logger:       opts.Logger,
		system:       systemPrompt(opts.Categories, opts.Instructions),
		chunkSize:    opts.ChunkSize,
		chunkOverlap: opts.ChunkOverlap,
	}
}

func systemPrompt(categories []string, instructions string) string {
	var b strings.Builder
	b.WriteString("You find sensitive content that must be redacted from documents.\n")
	b.WriteString("Respond with ONLY a JSON object of the form ")
	b.WriteString(`{"findings":[{"text":"<exact text>","category":"<category>","confidence":<0..1>}]}`)
	b.WriteString(".\nCopy every text value verbatim from the input, character for character. ")
	b.WriteString("Return an empty findings list when nothing is sensitive.\n")
	if len(categories) > 0 {
		b.WriteString("Only report these categories: ")
		b.WriteString(strings.Join(categories, ", "))
		b.WriteString(".\n")
	} else {
		b.WriteString("Report personal data such as names, addresses, contact details, identifiers and financial details.\n")
	}
	if instructions != "" {
		b.WriteString(instructions)
		b.WriteString("\n")
	}
	return b.String()
}

// Analyze implements service.DetectionService.
func (s *DetectionService) Analyze(ctx context.Context, unit model.ContentUnit, kind model.DetectorKind, timeout time.Duration) ([]model.Finding, error) {
	if kind != model.DetectorTextModel || unit.Kind != model.UnitText {
		return nil, fmt.Errorf("language model service cannot analyze %s units for %s", unit.Kind, kind)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	chunks := splitText(unit.Text, s.chunkSize, s.chunkOverlap)

	type spanKey struct {
		category   string
		start, end int
	}
	best := make(map[spanKey]model.Finding)
	for i, chunk := range chunks {
		content, err := s.client.Complete(ctx, s.system, chunk)
		if err != nil {
			return nil, err
		}

		reported, err := parseFindings(content)
		if err != nil {
			return nil, fmt.Errorf("chunk %d: %w", i, err)
		}

		for _, r := range reported {
			for _, loc := range locateWords(unit.Text, r.Text) {
				f := model.Finding{
					Category:   r.Category,
					Confidence: r.Confidence,
					Source:     model.DetectorTextModel,
					Start:      loc[0],
					End:        loc[1],
				}
				key := spanKey{category: f.Category, start: loc[0], end: loc[1]}
				if prev, ok := best[key]; ok && prev.Confidence >= f.Confidence {
					continue
				}
				best[key] = f
			}
		}
	}

	s.logger.Debug("Language model analysis complete",
		"unit_id", unit.ID,
		"chunks", len(chunks),
		"findings", len(best))

	findings := make([]model.Finding, 0, len(best))
	for _, f := range best {
		findings = append(findings, f)
	}
	sort.Slice(findings, func(i, j int) bool {
		if findings[i].Start != findings[j].Start {
			return findings[i].Start < findings[j].Start
		}
		if findings[i].End != findings[j].End {
			return findings[i].End < findings[j].End
		}
		return findings[i].Category < findings[j].Category
	})
	return findings, nil
}

// reportedFinding is one entry of the model's JSON reply.
type reportedFinding struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
}

// parseFindings decodes a model reply. Bare string lists are accepted too.
func parseFindings(content string) ([]reportedFinding, error) {
	content = cleanMarkdownWrapper(content)

	var reply struct {
		Findings []json.RawMessage `json:"findings"`
	}
	if err := json.Unmarshal([]byte(content), &reply); err != nil {
		return nil, fmt.Errorf("failed to parse JSON response: %w", err)
	}

	out := make([]reportedFinding, 0, len(reply.Findings))
	for _, raw := range reply.Findings {
		var r reportedFinding
		if err := json.Unmarshal(raw, &r); err != nil {
			var text string
			if json.Unmarshal(raw, &text) != nil {
				return nil, fmt.Errorf("failed to parse finding: %w", err)
			}
			r.Text = text
		}
		if strings.TrimSpace(r.Text) == "" {
			continue
		}
		if r.Category == "" {
			r.Category = DefaultCategory
		}
		if r.Confidence <= 0 || r.Confidence > 1 {
			r.Confidence = DefaultConfidence
		}
		out = append(out, r)
	}
	return out, nil
}

// cleanMarkdownWrapper strips a ```json fence some models wrap replies in.
func cleanMarkdownWrapper(content string) string {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "```") {
		return content
	}
	content = strings.TrimPrefix(content, "```")
	if nl := strings.IndexByte(content, '\n'); nl >= 0 {
		content = content[nl+1:]
	}
	content = strings.TrimSuffix(strings.TrimSpace(content), "```")
	return strings.TrimSpace(content)
}

// locateWords returns the byte ranges of every whole-word occurrence of needle in text.
func locateWords(text, needle string) [][2]int {
	if needle == "" {
		return nil
	}
	var out [][2]int
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], needle)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(needle)
		if wordEdge(text, start, end) {
			out = append(out, [2]int{start, end})
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
	return out
}

func wordEdge(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		first, _ := utf8.DecodeRuneInString(text[start:])
		if isWordRune(r) && isWordRune(first) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		last, _ := utf8.DecodeLastRuneInString(text[:end])
		if isWordRune(r) && isWordRune(last) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}
