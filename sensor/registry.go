package sensor

import (
	"fmt"
	"regexp"
	"sort"
	"sync"

	"github.com/c360/semsensors/errors"
)

// Factory builds a sensor from its raw configuration. Factories do no I/O;
// that belongs in Validate and Run.
type Factory func(raw map[string]any, deps Dependencies) (Sensor, error)

// Registration pairs a sensor type's metadata with its factory.
type Registration struct {
	Metadata Metadata
	Factory  Factory
}

var validName = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)

// Registry maps sensor type names to registrations.
type Registry struct {
	mu   sync.RWMutex
	regs map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{regs: make(map[string]Registration)}
}

// Register adds a sensor type. Names must be lower-case identifiers and
// unique.
func (r *Registry) Register(reg Registration) error {
	name := reg.Metadata.Name
	if !validName.MatchString(name) {
		return errors.WrapInvalid(fmt.Errorf("invalid sensor type name %q", name), "Registry", "Register", "name validation")
	}
	if reg.Factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "factory function validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[name]; exists {
		return errors.WrapInvalid(fmt.Errorf("sensor type %q is already registered", name), "Registry", "Register", "duplicate check")
	}
	r.regs[name] = reg
	return nil
}

// Lookup returns the registration for name.
func (r *Registry) Lookup(name string) (Registration, error) {
	r.mu.RLock()
	reg, ok := r.regs[name]
	r.mu.RUnlock()

	if !ok {
		return Registration{}, errors.ConfigValidation(
			fmt.Errorf("%w %q (known: %v)", errors.ErrUnknownSensor, name, r.Names()),
			"Registry", "Lookup", "find sensor type")
	}
	return reg, nil
}

// Names returns the registered type names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.regs))
	for name := range r.regs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a sensor of the named type.
func (r *Registry) Create(name string, raw map[string]any, deps Dependencies) (Sensor, error) {
	reg, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	s, err := reg.Factory(raw, deps)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "Create", fmt.Sprintf("construct %s sensor", name))
	}
	return s, nil
}
