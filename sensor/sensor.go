package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle state of a sensor.
type State int32

const (
	StateConstructed State = iota
	StateValidated
	StateRunning
	StateTerminating
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateConstructed:
		return "constructed"
	case StateValidated:
		return "validated"
	case StateRunning:
		return "running"
	case StateTerminating:
		return "terminating"
	case StateEnded:
		return "ended"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Event is one trigger emitted by a sensor.
type Event struct {
	ID        string         `json:"id"`
	Sensor    string         `json:"sensor"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

// NewEvent stamps payload with a fresh ID and the current time.
func NewEvent(sensorName string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Sensor:    sensorName,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Operation returns the payload's operation tag.
func (e Event) Operation() string {
	op, _ := e.Payload["operation"].(string)
	return op
}

// Sink receives trigger events.
type Sink interface {
	Name() string
	Push(ctx context.Context, event Event) error
}

// Sensor is a runnable sensor instance.
type Sensor interface {
	Meta() Metadata
	State() State
	// Validate checks the configuration. Run refuses to start until it
	// has succeeded.
	Validate(ctx context.Context) error
	// Run blocks until the sensor ends. A cancelled context is a graceful
	// end and returns nil.
	Run(ctx context.Context) error
}
