package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Check reports the current status of one component.
type Check func() Status

// Monitor evaluates registered checks on demand in a thread-safe manner
type Monitor struct {
	name   string
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor whose aggregate carries name.
func NewMonitor(name string) *Monitor {
	return &Monitor{name: name, checks: make(map[string]Check)}
}

// Register adds or replaces the check for a named component
func (m *Monitor) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, component)
}

// Components returns the sorted names of the registered components.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every check and aggregates the results.
func (m *Monitor) Check() Status {
	m.mu.RLock()
	checks := make(map[string]Check, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		status := checks[name]()
		status.Component = name
		subs = append(subs, status)
	}
	return Aggregate(m.name, subs)
}

// ServeHTTP writes the aggregate status as JSON: 200 unless unhealthy, 503
// when unhealthy.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.Check()
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
