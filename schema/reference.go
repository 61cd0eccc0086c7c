package schema

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// refKey is the mapping key that marks a reference node.
const refKey = "$ref"

// Document is a parsed JSON schema tree made of map[string]any, []any and
// JSON scalars.
type Document = any

// Reference is a parsed $ref value of the form "<file>#<fragment>".
type Reference struct {
	// File is empty when the reference points into the document being resolved.
	File string
	// Fragment holds the decoded path segments. Empty selects the whole document.
	Fragment []string
}

// ParseReference parses the value of a $ref key.
func ParseReference(raw any) (Reference, error) {
	s, ok := raw.(string)
	if !ok {
		return Reference{}, fmt.Errorf("reference must be a string, got %T", raw)
	}
	if strings.TrimSpace(s) == "" {
		return Reference{}, fmt.Errorf("empty reference")
	}

	u, err := url.Parse(s)
	if err != nil {
		return Reference{}, fmt.Errorf("parse reference %q: %w", s, err)
	}
	if u.Scheme != "" && u.Scheme != "file" {
		return Reference{}, fmt.Errorf("reference %q: unsupported scheme %q", s, u.Scheme)
	}
	if u.Opaque != "" {
		return Reference{}, fmt.Errorf("reference %q: opaque references are not supported", s)
	}

	fragment, err := splitFragment(u.EscapedFragment())
	if err != nil {
		return Reference{}, fmt.Errorf("reference %q: %w", s, err)
	}
	return Reference{File: u.Host + u.Path, Fragment: fragment}, nil
}

// String renders the reference back into "<file>#/<segments>" form.
func (r Reference) String() string {
	return r.File + "#/" + strings.Join(r.Fragment, "/")
}

func splitFragment(escaped string) ([]string, error) {
	var segments []string
	for _, seg := range strings.Split(escaped, "/") {
		if seg == "" {
			continue
		}
		decoded, err := url.PathUnescape(seg)
		if err != nil {
			return nil, err
		}
		decoded = strings.ReplaceAll(decoded, "~1", "/")
		decoded = strings.ReplaceAll(decoded, "~0", "~")
		segments = append(segments, decoded)
	}
	return segments, nil
}

// lookup walks fragment segments through mappings and sequences.
func lookup(doc Document, fragment []string) (Document, bool) {
	current := doc
	for _, seg := range fragment {
		switch node := current.(type) {
		case map[string]any:
			next, ok := node[seg]
			if !ok {
				return nil, false
			}
			current = next
		case []any:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			current = node[idx]
		default:
			return nil, false
		}
	}
	return current, true
}

// deepCopy clones mappings and sequences so cached trees are never shared
// with callers.
func deepCopy(doc Document) Document {
	switch node := doc.(type) {
	case map[string]any:
		out := make(map[string]any, len(node))
		for k, v := range node {
			out[k] = deepCopy(v)
		}
		return out
	case []any:
		out := make([]any, len(node))
		for i, v := range node {
			out[i] = deepCopy(v)
		}
		return out
	default:
		return node
	}
}
