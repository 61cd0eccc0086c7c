package sensor

import (
	"fmt"
	"path/filepath"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/schema"
)

// Schema kinds a sensor type can publish.
const (
	KindUserConfig = "user-config"
	KindInputs     = "inputs"
	KindOutputs    = "outputs"
)

// Metadata describes a sensor type.
type Metadata struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	// SchemaDir is the sensor's directory under the schema root.
	SchemaDir string `json:"schema_dir"`
	// HasInputs is false for sensor types that ship no inputs schema.
	HasInputs bool `json:"has_inputs"`
}

// Schemas locates sensor schemas under one root directory whose "shared"
// subdirectory holds the common definitions.
type Schemas struct {
	Root     string
	Provider *schema.Provider
}

// NewSchemas creates a Schemas rooted at root. cache may be shared between
// several Schemas.
func NewSchemas(root string, cache *schema.Cache) *Schemas {
	return &Schemas{
		Root:     root,
		Provider: schema.NewProvider(cache, filepath.Join(root, "shared")),
	}
}

func (s *Schemas) load(dir, file string) (schema.Document, error) {
	return s.Provider.Load(s.Root, filepath.Join(dir, file))
}

// UserConfig returns the resolved configuration schema.
func (m Metadata) UserConfig(s *Schemas) (schema.Document, error) {
	return s.load(m.SchemaDir, schema.UserConfigFile)
}

// Inputs returns the resolved inputs schema, or nil when the type declares
// no inputs.
func (m Metadata) Inputs(s *Schemas) (schema.Document, error) {
	if !m.HasInputs {
		return nil, nil
	}
	return s.load(m.SchemaDir, schema.InputsFile)
}

// Outputs returns the resolved event payload schema.
func (m Metadata) Outputs(s *Schemas) (schema.Document, error) {
	return s.load(m.SchemaDir, schema.OutputsFile)
}

// Schema returns the schema of the given kind.
func (m Metadata) Schema(s *Schemas, kind string) (schema.Document, error) {
	switch kind {
	case KindUserConfig:
		return m.UserConfig(s)
	case KindInputs:
		return m.Inputs(s)
	case KindOutputs:
		return m.Outputs(s)
	default:
		return nil, errors.WrapInvalid(fmt.Errorf("unknown schema kind %q", kind), "Metadata", "Schema", "select schema")
	}
}
