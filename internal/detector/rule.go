package detector

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"unicode"
	"unicode/utf8"

	ahocorasick "github.com/cloudflare/ahocorasick"

	"github.com/Veraticus/redactor/internal/model"
)

// Pattern is a regular expression that flags one category.
type Pattern struct {
	Validate      func(match string) bool
	Name          string
	Category      string
	Regex         string
	Priority      int     // Higher priority patterns are reported first
	Confidence    float64 // Confidence assigned to every match (0.0-1.0)
	Group         int     // Capture group to flag; 0 flags the whole match
	CaseSensitive bool
}

// Term is a dictionary entry matched as a whole word, ignoring ASCII case.
type Term struct {
	Text       string  `mapstructure:"text" yaml:"text"`
	Category   string  `mapstructure:"category" yaml:"category"`
	Confidence float64 `mapstructure:"confidence" yaml:"confidence"`
}

type compiledPattern struct {
	regex *regexp.Regexp
	Pattern
}

// RuleDetector finds sensitive text with regular expressions and a term dictionary.
// It has no external dependencies and never fails on text input.
type RuleDetector struct {
	matcher  *ahocorasick.Matcher
	patterns []compiledPattern
	// keys are unique folded term texts; terms[i] holds every term sharing keys[i].
	keys  []string
	terms [][]Term
	mu    sync.RWMutex
}

// NewRuleDetector compiles patterns and builds the dictionary matcher.
func NewRuleDetector(patterns []Pattern, terms []Term) (*RuleDetector, error) {
	d := &RuleDetector{}
	if err := d.UpdatePatterns(patterns); err != nil {
		return nil, err
	}
	d.UpdateTerms(terms)
	return d, nil
}

// Kind implements Detector.
func (d *RuleDetector) Kind() model.DetectorKind {
	return model.DetectorRule
}

// UpdatePatterns replaces the compiled pattern set.
func (d *RuleDetector) UpdatePatterns(patterns []Pattern) error {
	compiled := make([]compiledPattern, 0, len(patterns))

	for _, p := range patterns {
		regexStr := p.Regex
		if !p.CaseSensitive && !strings.HasPrefix(regexStr, "(?i)") {
			regexStr = "(?i)" + regexStr
		}

		regex, err := regexp.Compile(regexStr)
		if err != nil {
			return fmt.Errorf("failed to compile pattern %s: %w", p.Name, err)
		}
		if p.Group > regex.NumSubexp() {
			return fmt.Errorf("pattern %s has no capture group %d", p.Name, p.Group)
		}
		if p.Category == "" {
			return fmt.Errorf("pattern %s has no category", p.Name)
		}

		compiled = append(compiled, compiledPattern{
			Pattern: p,
			regex:   regex,
		})
	}

	sort.SliceStable(compiled, func(i, j int) bool {
		return compiled[i].Priority > compiled[j].Priority
	})

	d.mu.Lock()
	d.patterns = compiled
	d.mu.Unlock()

	return nil
}

// UpdateTerms replaces the dictionary. Terms that fold to the same text share
// one matcher key and each still reports its own category.
func (d *RuleDetector) UpdateTerms(terms []Term) {
	index := make(map[string]int, len(terms))
	keys := make([]string, 0, len(terms))
	grouped := make([][]Term, 0, len(terms))
	for _, t := range terms {
		key := foldASCII(strings.TrimSpace(t.Text))
		if key == "" || t.Category == "" {
			continue
		}
		if t.Confidence == 0 {
			t.Confidence = 1.0
		}
		i, ok := index[key]
		if !ok {
			i = len(keys)
			index[key] = i
			keys = append(keys, key)
			grouped = append(grouped, nil)
		}
		grouped[i] = append(grouped[i], t)
	}

	var matcher *ahocorasick.Matcher
	if len(keys) > 0 {
		matcher = ahocorasick.NewStringMatcher(keys)
	}

	d.mu.Lock()
	d.terms = grouped
	d.keys = keys
	d.matcher = matcher
	d.mu.Unlock()
}

// PatternCount returns the number of loaded patterns.
func (d *RuleDetector) PatternCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.patterns)
}

// Detect implements Detector. Image units yield no findings. A unit the codec
// marked with a category is flagged whole, in addition to any pattern matches.
func (d *RuleDetector) Detect(_ context.Context, unit model.ContentUnit) ([]model.Finding, error) {
	if unit.Kind != model.UnitText {
		return nil, nil
	}
	if !utf8.ValidString(unit.Text) {
		return nil, fmt.Errorf("unit %s: text is not valid UTF-8", unit.ID)
	}

	findings := d.Scan(unit.Text)
	if unit.Category != "" && strings.TrimSpace(unit.Text) != "" {
		findings = append(findings, model.Finding{
			Category:   unit.Category,
			Confidence: 1.0,
			Source:     model.DetectorRule,
			Start:      0,
			End:        len(unit.Text),
		})
	}
	return findings, nil
}

// Scan returns every pattern and dictionary match in text.
func (d *RuleDetector) Scan(text string) []model.Finding {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var findings []model.Finding

	for _, p := range d.patterns {
		for _, loc := range p.regex.FindAllStringSubmatchIndex(text, -1) {
			start, end := loc[2*p.Group], loc[2*p.Group+1]
			if start < 0 || start >= end {
				continue
			}
			if p.Validate != nil && !p.Validate(text[start:end]) {
				continue
			}
			findings = append(findings, model.Finding{
				Category:   p.Category,
				Confidence: p.Confidence,
				Source:     model.DetectorRule,
				Start:      start,
				End:        end,
			})
		}
	}

	if d.matcher != nil {
		findings = append(findings, d.scanTerms(text)...)
	}

	return findings
}

// scanTerms uses the Aho-Corasick matcher to find which terms occur,
// then locates each whole-word occurrence of those terms.
func (d *RuleDetector) scanTerms(text string) []model.Finding {
	folded := foldASCII(text)
	hits := d.matcher.Match([]byte(folded))

	var findings []model.Finding
	seen := make(map[int]bool, len(hits))
	for _, idx := range hits {
		if idx >= len(d.keys) || seen[idx] {
			continue
		}
		seen[idx] = true

		key, terms := d.keys[idx], d.terms[idx]
		for offset := 0; offset < len(folded); {
			pos := strings.Index(folded[offset:], key)
			if pos < 0 {
				break
			}
			start := offset + pos
			end := start + len(key)
			if isWordBoundary(text, start, end) {
				for _, term := range terms {
					findings = append(findings, model.Finding{
						Category:   term.Category,
						Confidence: term.Confidence,
						Source:     model.DetectorRule,
						Start:      start,
						End:        end,
					})
				}
			}
			offset = start + 1
		}
	}
	return findings
}

// foldASCII lower-cases ASCII letters only, so byte offsets are preserved.
func foldASCII(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isWordBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}
