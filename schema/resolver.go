package schema

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/c360/semsensors/errors"
)

// DefaultMaxDepth bounds how many references may be followed in one chain.
const DefaultMaxDepth = 64

// Resolver replaces $ref nodes in schema documents with the values they
// point to. External files are searched for in SearchPaths order and cached
// in a shared Cache.
type Resolver struct {
	cache       *Cache
	searchPaths []string
	readFile    func(string) ([]byte, error)
	maxDepth    int
	logger      *slog.Logger
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithFileReader replaces os.ReadFile for loading referenced files.
func WithFileReader(fn func(string) ([]byte, error)) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.readFile = fn
		}
	}
}

// WithMaxDepth sets the reference chain limit.
func WithMaxDepth(depth int) ResolverOption {
	return func(r *Resolver) {
		if depth > 0 {
			r.maxDepth = depth
		}
	}
}

// WithLogger sets the logger used for load diagnostics.
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewResolver creates a resolver over an ordered list of search directories.
// A nil cache gets a private one.
func NewResolver(cache *Cache, searchPaths []string, opts ...ResolverOption) *Resolver {
	if cache == nil {
		cache = NewCache()
	}
	r := &Resolver{
		cache:       cache,
		searchPaths: append([]string(nil), searchPaths...),
		readFile:    os.ReadFile,
		maxDepth:    DefaultMaxDepth,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SearchPaths returns the directories searched for referenced files.
func (r *Resolver) SearchPaths() []string {
	return append([]string(nil), r.searchPaths...)
}

// Resolve returns a copy of doc in which every $ref node has been replaced by
// its target. A mapping that holds $ref is replaced as a whole; its other
// keys are dropped. The input document is not modified.
func (r *Resolver) Resolve(doc Document) (Document, error) {
	rs := &resolution{resolver: r, root: doc, state: newLoadState()}
	return rs.resolve(doc, 0)
}

// loadState tracks files whose resolution is in progress within one
// Resolve call. A reference into such a file is resolved from its parsed
// document, fragment by fragment; only a fragment that is reached again
// while it is still being resolved is circular.
type loadState struct {
	parsed map[string]Document
	active map[string]bool
}

func newLoadState() *loadState {
	return &loadState{parsed: make(map[string]Document), active: make(map[string]bool)}
}

// resolution carries the state of one Resolve call.
type resolution struct {
	resolver *Resolver
	root     Document
	source   string
	state    *loadState
}

func (rs *resolution) resolve(node Document, depth int) (Document, error) {
	switch v := node.(type) {
	case map[string]any:
		if raw, ok := v[refKey]; ok {
			return rs.follow(raw, depth)
		}
		out := make(map[string]any, len(v))
		for key, child := range v {
			resolved, err := rs.resolve(child, depth)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			resolved, err := rs.resolve(child, depth)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

func (rs *resolution) follow(raw any, depth int) (Document, error) {
	if depth >= rs.resolver.maxDepth {
		return nil, errors.SchemaReference(
			fmt.Errorf("reference chain deeper than %d at %v", rs.resolver.maxDepth, raw),
			"Resolver", "Resolve", "follow reference")
	}

	ref, err := ParseReference(raw)
	if err != nil {
		return nil, errors.SchemaReference(err, "Resolver", "Resolve", "parse reference")
	}

	if ref.File == "" {
		target, ok := lookup(rs.root, ref.Fragment)
		if !ok {
			return nil, errors.SchemaReference(
				fmt.Errorf("fragment %q not found in %s", ref.String(), rs.describeSource()),
				"Resolver", "Resolve", "lookup fragment")
		}
		return rs.resolve(target, depth+1)
	}

	key, doc, inProgress, err := rs.resolver.load(ref.File, rs.state, depth+1)
	if err != nil {
		return nil, err
	}
	target, ok := lookup(doc, ref.Fragment)
	if !ok {
		return nil, errors.SchemaReference(
			fmt.Errorf("fragment %q not found in %s", ref.String(), ref.File),
			"Resolver", "Resolve", "lookup fragment")
	}
	if !inProgress {
		return deepCopy(target), nil
	}

	pair := key + "#" + strings.Join(ref.Fragment, "/")
	if rs.state.active[pair] {
		return nil, errors.SchemaReference(
			fmt.Errorf("circular reference through %s", pair), "Resolver", "Resolve", "load reference")
	}
	rs.state.active[pair] = true
	defer delete(rs.state.active, pair)

	nested := &resolution{resolver: rs.resolver, root: doc, source: key, state: rs.state}
	return nested.resolve(target, depth+1)
}

func (rs *resolution) describeSource() string {
	if rs.source == "" {
		return "current document"
	}
	return rs.source
}

// load returns the document for a referenced file, reading it at most once
// per cache key. When the file is itself still being resolved further up the
// chain, its parsed but unresolved document is returned with inProgress set.
func (r *Resolver) load(file string, state *loadState, depth int) (key string, doc Document, inProgress bool, err error) {
	path, key := r.locate(file)

	if doc, ok := r.cache.Get(key); ok {
		return key, doc, false, nil
	}
	if parsed, ok := state.parsed[key]; ok {
		return key, parsed, true, nil
	}

	data, err := r.readFile(path)
	if err != nil {
		return key, nil, false, errors.SchemaReference(
			fmt.Errorf("file %q not found on search path %v: %w", file, r.searchPaths, err),
			"Resolver", "Resolve", "load reference")
	}

	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return key, nil, false, errors.SchemaReference(
			fmt.Errorf("parse %s: %w", path, err), "Resolver", "Resolve", "load reference")
	}

	state.parsed[key] = parsed
	defer delete(state.parsed, key)

	nested := &resolution{resolver: r, root: parsed, source: key, state: state}
	resolved, err := nested.resolve(parsed, depth)
	if err != nil {
		return key, nil, false, err
	}

	r.logger.Debug("Loaded schema reference", "file", file, "key", key)
	return key, r.cache.Store(key, resolved), false, nil
}

// locate finds file on the search path. Hits are keyed by absolute path;
// misses fall back to the literal path, keyed as written.
func (r *Resolver) locate(file string) (path, key string) {
	for _, dir := range r.searchPaths {
		candidate := filepath.Join(dir, file)
		info, err := os.Stat(candidate)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if abs, err := filepath.Abs(candidate); err == nil {
			return candidate, abs
		}
		return candidate, candidate
	}
	return file, file
}
