package document

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/Veraticus/redactor/internal/model"
)

// JSONCodec turns every object key, string leaf and number leaf of a JSON
// document into a unit. Strings holding image data URIs become image units.
type JSONCodec struct{}

// NewJSONCodec creates a JSON codec.
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{}
}

// Formats implements Codec.
func (c *JSONCodec) Formats() []string {
	return []string{FormatJSON}
}

// KeySuffix marks the unit id of an object key, as opposed to its value.
const KeySuffix = "#key"

type jsonLeaf struct {
	set        func(v any)
	number     json.Number
	dataPrefix string
	// object and key are set for key units; renames are applied after values.
	object *jsonObject
	key    string
}

// jsonObject remembers the original key order of one object so keys can be
// renamed once every value has been written back.
type jsonObject struct {
	m       map[string]any
	keys    []string
	renamed map[string]string
}

type jsonDocument struct {
	root    any
	leaves  []jsonLeaf
	objects []*jsonObject
	units   []model.ContentUnit
	indent  bool
}

// Decompose implements Codec.
func (c *JSONCodec) Decompose(data []byte) (Parsed, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var root any
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("invalid JSON: trailing data after document")
	}

	doc := &jsonDocument{
		root:   root,
		indent: bytes.Contains(data, []byte("\n")),
	}
	doc.walk("$", root, func(v any) { doc.root = v })
	return doc, nil
}

// walk visits values in a stable order: object keys sorted, arrays by index.
func (d *jsonDocument) walk(path string, value any, set func(any)) {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		obj := &jsonObject{m: v, keys: keys, renamed: make(map[string]string)}
		d.objects = append(d.objects, obj)
		for _, k := range keys {
			child := childPath(path, k)
			d.addKey(child, k, obj)
			d.walk(child, v[k], func(nv any) { v[k] = nv })
		}
	case []any:
		for i := range v {
			d.walk(fmt.Sprintf("%s[%d]", path, i), v[i], func(nv any) { v[i] = nv })
		}
	case string:
		d.addLeaf(path, v, set)
	case json.Number:
		d.addNumber(path, v, set)
	}
}

func textUnit(id string, index int, text string) model.ContentUnit {
	return model.ContentUnit{
		ID:       id,
		Index:    index,
		Kind:     model.UnitText,
		Location: model.Location{Field: id},
		Text:     text,
		End:      len(text),
	}
}

func (d *jsonDocument) addKey(path, key string, obj *jsonObject) {
	d.units = append(d.units, textUnit(path+KeySuffix, len(d.units), key))
	d.leaves = append(d.leaves, jsonLeaf{object: obj, key: key})
}

func (d *jsonDocument) addNumber(path string, value json.Number, set func(any)) {
	d.units = append(d.units, textUnit(path, len(d.units), value.String()))
	d.leaves = append(d.leaves, jsonLeaf{set: set, number: value})
}

func (d *jsonDocument) addLeaf(path, value string, set func(any)) {
	unit := textUnit(path, len(d.units), value)

	leaf := jsonLeaf{set: set}
	if prefix, img, format, bounds, ok := decodeDataURI(value); ok {
		unit.Kind = model.UnitImage
		unit.Text = ""
		unit.End = 0
		unit.Image = img
		unit.ImageFormat = format
		unit.Bounds = bounds
		leaf.dataPrefix = prefix
	}

	d.units = append(d.units, unit)
	d.leaves = append(d.leaves, leaf)
}

func (d *jsonDocument) Units() []model.ContentUnit {
	return d.units
}

// Reassemble writes parts back into the tree. Omitted leaves become null so the
// document keeps its shape. A number whose text changed is written as a string.
// Omitted keys become empty, and renamed keys that collide get a numeric suffix.
func (d *jsonDocument) Reassemble(parts []Part) ([]byte, error) {
	if err := checkParts(d.units, parts); err != nil {
		return nil, err
	}

	for i, part := range parts {
		leaf := d.leaves[i]
		switch {
		case leaf.object != nil:
			if part.Omit {
				leaf.object.renamed[leaf.key] = ""
			} else if part.Text != leaf.key {
				leaf.object.renamed[leaf.key] = part.Text
			}
		case part.Omit:
			leaf.set(nil)
		case d.units[i].Kind == model.UnitImage:
			leaf.set(leaf.dataPrefix + base64.StdEncoding.EncodeToString(part.Image))
		case leaf.number != "" && part.Text == leaf.number.String():
			leaf.set(leaf.number)
		default:
			leaf.set(part.Text)
		}
	}

	for _, obj := range d.objects {
		obj.rename()
	}

	var (
		out []byte
		err error
	)
	if d.indent {
		out, err = json.MarshalIndent(d.root, "", "  ")
	} else {
		out, err = json.Marshal(d.root)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode JSON: %w", err)
	}
	return out, nil
}

// rename rewrites the object's keys in their original order. Unchanged keys
// keep their name; a renamed key that is already taken gets "_2", "_3" and so on.
func (o *jsonObject) rename() {
	if len(o.renamed) == 0 {
		return
	}

	values := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		values[k] = o.m[k]
		delete(o.m, k)
	}

	taken := make(map[string]bool, len(o.keys))
	for _, k := range o.keys {
		if _, ok := o.renamed[k]; !ok {
			taken[k] = true
		}
	}

	for _, k := range o.keys {
		name, ok := o.renamed[k]
		if !ok {
			o.m[k] = values[k]
			continue
		}
		candidate := name
		for n := 2; taken[candidate]; n++ {
			candidate = fmt.Sprintf("%s_%d", name, n)
		}
		taken[candidate] = true
		o.m[candidate] = values[k]
	}
}

func childPath(parent, key string) string {
	if isIdentifier(key) {
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		if r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

// decodeDataURI recognizes data:image/png;base64,... and data:image/jpeg;base64,... values.
func decodeDataURI(value string) (prefix string, data []byte, format string, bounds model.Box, ok bool) {
	const scheme = "data:image/"
	if !strings.HasPrefix(value, scheme) {
		return "", nil, "", model.Box{}, false
	}
	comma := strings.IndexByte(value, ',')
	if comma < 0 || !strings.HasSuffix(value[:comma], ";base64") {
		return "", nil, "", model.Box{}, false
	}

	format = strings.TrimSuffix(value[len(scheme):comma], ";base64")
	if format != "png" && format != "jpeg" && format != "jpg" {
		return "", nil, "", model.Box{}, false
	}

	data, err := base64.StdEncoding.DecodeString(value[comma+1:])
	if err != nil {
		return "", nil, "", model.Box{}, false
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", nil, "", model.Box{}, false
	}

	return value[:comma+1], data, normalizeFormat(format), model.Box{MaxX: cfg.Width, MaxY: cfg.Height}, true
}
