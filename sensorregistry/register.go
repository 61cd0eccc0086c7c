// Package sensorregistry registers the built-in sensor types.
package sensorregistry

import (
	"errors"

	pkgerrors "github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/sensor"
	"github.com/c360/semsensors/sensor/api"
	"github.com/c360/semsensors/sensor/objectstore"
)

// Register registers every built-in sensor type with the provided registry:
//   - objectstore (JetStream object store bucket changes)
//   - api (HTTP POST endpoint)
func Register(registry *sensor.Registry) error {
	// Nil registry is a programming error
	if registry == nil {
		return pkgerrors.WrapFatal(
			errors.New("registry cannot be nil"),
			"SensorRegistry", "Register", "registry validation")
	}

	if err := objectstore.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "SensorRegistry", "Register", "objectstore sensor registration")
	}

	if err := api.Register(registry); err != nil {
		return pkgerrors.WrapInvalid(err, "SensorRegistry", "Register", "api sensor registration")
	}

	return nil
}

// New returns a registry holding every built-in sensor type.
func New() (*sensor.Registry, error) {
	r := sensor.NewRegistry()
	if err := Register(r); err != nil {
		return nil, err
	}
	return r, nil
}
