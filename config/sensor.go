package config

import (
	"github.com/c360/semsensors/errors"
)

// LoadSensorConfig reads a sensor configuration document from a JSON or
// YAML file. Failures are config validation errors.
func LoadSensorConfig(path string) (map[string]any, error) {
	doc, err := readDocument(path)
	if err != nil {
		return nil, errors.ConfigValidation(err, "config", "LoadSensorConfig", "read sensor config "+path)
	}
	return doc, nil
}
