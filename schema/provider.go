package schema

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/c360/semsensors/errors"
)

// Names of the schema files each sensor type ships.
const (
	UserConfigFile = "user-config.json"
	InputsFile     = "inputs.json"
	OutputsFile    = "outputs.json"
)

// Provider loads sensor schemas and resolves their references. Every load
// searches the requested root first and the shared directory second.
type Provider struct {
	cache     *Cache
	sharedDir string
	opts      []ResolverOption
}

// NewProvider creates a provider backed by cache. sharedDir may be empty.
func NewProvider(cache *Cache, sharedDir string, opts ...ResolverOption) *Provider {
	if cache == nil {
		cache = NewCache()
	}
	return &Provider{cache: cache, sharedDir: sharedDir, opts: opts}
}

// Cache returns the document cache shared by all loads.
func (p *Provider) Cache() *Cache {
	return p.cache
}

// SharedDir returns the directory appended to every search path.
func (p *Provider) SharedDir() string {
	return p.sharedDir
}

// Load reads rootPath/relativeFile and returns it with all references
// resolved.
func (p *Provider) Load(rootPath, relativeFile string) (Document, error) {
	path := filepath.Join(rootPath, relativeFile)

	data, err := os.ReadFile(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return nil, errors.SchemaNotFound(path, "Provider", "Load")
		}
		return nil, errors.WrapTransient(err, "Provider", "Load", "read schema")
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.SchemaReference(fmt.Errorf("parse %s: %w", path, err), "Provider", "Load", "parse schema")
	}

	searchPaths := []string{rootPath}
	if p.sharedDir != "" {
		searchPaths = append(searchPaths, p.sharedDir)
	}
	return NewResolver(p.cache, searchPaths, p.opts...).Resolve(doc)
}

// Exists reports whether rootPath/relativeFile is present.
func (p *Provider) Exists(rootPath, relativeFile string) bool {
	info, err := os.Stat(filepath.Join(rootPath, relativeFile))
	return err == nil && info.Mode().IsRegular()
}
