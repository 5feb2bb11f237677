// Package document decomposes documents into content units and reassembles them.
//
// The set of formats is closed: plain text, JSON, OFX statements and PNG/JPEG
// images. Each format has a Codec; Decompose returns a Parsed document that
// remembers where every unit came from so Reassemble can write it back.
package document

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Veraticus/redactor/internal/common"
	"github.com/Veraticus/redactor/internal/model"
)

// Formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatOFX  = "ofx"
	FormatPNG  = "png"
	FormatJPEG = "jpeg"
)

// Document is an input file with its declared format.
type Document struct {
	ID     string
	Format string
	Data   []byte
}

// Part is the reassembly input for one unit, aligned with Parsed.Units.
type Part struct {
	Text  string
	Image []byte
	Omit  bool
}

// Parsed is a decomposed document.
type Parsed interface {
	Units() []model.ContentUnit
	Reassemble(parts []Part) ([]byte, error)
}

// Codec handles one or more formats.
type Codec interface {
	Formats() []string
	Decompose(data []byte) (Parsed, error)
}

// Registry maps format names to codecs.
type Registry struct {
	codecs map[string]Codec
	mu     sync.RWMutex
}

// NewRegistry creates a registry holding the given codecs.
func NewRegistry(codecs ...Codec) *Registry {
	r := &Registry{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultRegistry returns a registry with every built-in codec.
func DefaultRegistry() *Registry {
	return NewRegistry(NewTextCodec(), NewJSONCodec(), NewOFXCodec(), NewImageCodec())
}

// Register adds a codec under each of its formats, replacing earlier ones.
func (r *Registry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range c.Formats() {
		r.codecs[normalizeFormat(f)] = c
	}
}

// Lookup returns the codec for a format or an UnsupportedFormatError.
func (r *Registry) Lookup(format string) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[normalizeFormat(format)]
	if !ok {
		return nil, &common.UnsupportedFormatError{Format: format}
	}
	return c, nil
}

// Formats lists the registered format names.
func (r *Registry) Formats() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.codecs))
	for f := range r.codecs {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Decompose looks up the codec for doc and decomposes it.
// Decoding failures are reported as MalformedDocumentError.
func (r *Registry) Decompose(doc Document) (Parsed, error) {
	codec, err := r.Lookup(doc.Format)
	if err != nil {
		return nil, err
	}
	parsed, err := codec.Decompose(doc.Data)
	if err != nil {
		return nil, malformed(doc.Format, err)
	}
	return parsed, nil
}

// FormatFromPath guesses a format from a file extension.
func FormatFromPath(path string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	switch ext {
	case "txt", "text", "md":
		return FormatText, nil
	case "json":
		return FormatJSON, nil
	case "ofx", "qfx":
		return FormatOFX, nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPEG, nil
	default:
		return "", &common.UnsupportedFormatError{Format: ext}
	}
}

// Extension returns the file extension used when storing a document of format.
func Extension(format string) string {
	switch f := normalizeFormat(format); f {
	case FormatText:
		return "txt"
	case FormatJPEG:
		return "jpg"
	case FormatJSON, FormatOFX, FormatPNG:
		return f
	default:
		return "bin"
	}
}

// UnitKinds lists the kinds of unit a format can decompose into.
func UnitKinds(format string) []model.UnitKind {
	switch normalizeFormat(format) {
	case FormatText, FormatOFX:
		return []model.UnitKind{model.UnitText}
	case FormatJSON:
		return []model.UnitKind{model.UnitText, model.UnitImage}
	case FormatPNG, FormatJPEG:
		return []model.UnitKind{model.UnitImage}
	default:
		return nil
	}
}

func normalizeFormat(f string) string {
	f = strings.ToLower(strings.TrimSpace(f))
	switch f {
	case "jpg":
		return FormatJPEG
	case "txt", "plain", "text/plain":
		return FormatText
	case "qfx":
		return FormatOFX
	}
	return f
}

func malformed(format string, err error) error {
	var malformedErr *common.MalformedDocumentError
	if errors.As(err, &malformedErr) {
		return err
	}
	return &common.MalformedDocumentError{Format: format, Err: err}
}

func checkParts(units []model.ContentUnit, parts []Part) error {
	if len(parts) != len(units) {
		return fmt.Errorf("reassembly got %d parts for %d units", len(parts), len(units))
	}
	return nil
}
