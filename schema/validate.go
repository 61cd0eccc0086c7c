package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/semsensors/errors"
)

// Issue is a single schema violation.
type Issue struct {
	Field       string
	Description string
}

// ValidationError lists every violation found in one validation pass.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, fmt.Sprintf("%s: %s", issue.Field, issue.Description))
	}
	return strings.Join(parts, "; ")
}

// Validate checks instance against a resolved schema document. Violations
// are reported as a config validation error wrapping *ValidationError.
func Validate(instance any, doc Document) error {
	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(doc), gojsonschema.NewGoLoader(instance))
	if err != nil {
		return errors.ConfigValidation(err, "schema", "Validate", "load schema")
	}
	if result.Valid() {
		return nil
	}

	verr := &ValidationError{}
	for _, desc := range result.Errors() {
		verr.Issues = append(verr.Issues, Issue{Field: desc.Field(), Description: desc.Description()})
	}
	return errors.ConfigValidation(verr, "schema", "Validate", "validate instance")
}
