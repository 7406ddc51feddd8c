// Package fieldpath reads and writes dotted paths ("Front.frontBumper.image")
// inside nested map[string]any documents.
package fieldpath

import (
	"errors"
	"strings"
)

var ErrEmptyPath = errors.New("fieldpath: empty path segment")

// Split breaks a dotted path into its segments.
func Split(path string) ([]string, error) {
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if p == "" {
			return nil, ErrEmptyPath
		}
	}
	return parts, nil
}

// Set writes value at path, creating intermediate maps. A non-map value found
// on the way is replaced by a map.
func Set(doc map[string]any, path string, value any) error {
	parts, err := Split(path)
	if err != nil {
		return err
	}
	cur := doc
	for _, p := range parts[:len(parts)-1] {
		next, ok := cur[p].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[p] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
	return nil
}

// Get returns the value stored at path.
func Get(doc map[string]any, path string) (any, bool) {
	parts, err := Split(path)
	if err != nil {
		return nil, false
	}
	var cur any = doc
	for _, p := range parts {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Merge shallow-merges fields into the map at path, creating it when missing.
func Merge(doc map[string]any, path string, fields map[string]any) error {
	existing, _ := Get(doc, path)
	target, ok := existing.(map[string]any)
	if !ok {
		target = make(map[string]any, len(fields))
		if err := Set(doc, path, target); err != nil {
			return err
		}
	}
	for k, v := range fields {
		if v == nil {
			continue
		}
		target[k] = Clone(v)
	}
	return nil
}

// Clone deep-copies nested maps and slices. Other values are returned as is.
func Clone(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Clone(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Clone(val)
		}
		return out
	default:
		return v
	}
}

// CloneMap deep-copies a document; nil stays nil.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	return Clone(m).(map[string]any)
}
