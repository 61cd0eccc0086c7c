package sensor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/metric"
	"github.com/c360/semsensors/schema"
)

// StandardConfig holds the options every sensor type accepts under
// "standard".
type StandardConfig struct {
	EndOnTrigger bool `json:"end_on_trigger"`
}

// DecodeConfig copies a raw configuration mapping into a typed struct.
func DecodeConfig(raw map[string]any, out any) error {
	data, err := json.Marshal(raw)
	if err != nil {
		return errors.ConfigValidation(err, "sensor", "DecodeConfig", "encode config")
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.ConfigValidation(err, "sensor", "DecodeConfig", "decode config")
	}
	return nil
}

// Base carries what every sensor type shares: its configuration, lifecycle
// state, logger, metrics and sink.
type Base struct {
	meta    Metadata
	raw     map[string]any
	deps    Dependencies
	logger  *slog.Logger
	metrics *metric.Metrics

	state        atomic.Int32
	endOnTrigger bool
}

// NewBase creates a Base in the Constructed state.
func NewBase(meta Metadata, raw map[string]any, deps Dependencies) *Base {
	if raw == nil {
		raw = map[string]any{}
	}
	b := &Base{
		meta:    meta,
		raw:     raw,
		deps:    deps,
		logger:  deps.GetLoggerWithSensor(meta.Name),
		metrics: deps.CoreMetrics(),
	}
	b.setState(StateConstructed)
	return b
}

// Meta implements Sensor.
func (b *Base) Meta() Metadata { return b.meta }

// State implements Sensor.
func (b *Base) State() State { return State(b.state.Load()) }

// Config returns the raw configuration.
func (b *Base) Config() map[string]any { return b.raw }

// Logger returns the sensor's logger.
func (b *Base) Logger() *slog.Logger { return b.logger }

// Metrics returns the core metrics; may be nil.
func (b *Base) Metrics() *metric.Metrics { return b.metrics }

// Dependencies returns the collaborators the sensor was built with.
func (b *Base) Dependencies() Dependencies { return b.deps }

// EndOnTrigger reports whether the sensor ends after its first trigger.
func (b *Base) EndOnTrigger() bool { return b.endOnTrigger }

func (b *Base) setState(s State) {
	b.state.Store(int32(s))
	b.metrics.RecordSensorState(b.meta.Name, int(s))
}

func (b *Base) transition(from, to State) bool {
	if !b.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	b.metrics.RecordSensorState(b.meta.Name, int(to))
	return true
}

// ValidateSchema validates the configuration against the sensor type's
// user-config schema and reads the standard options.
func (b *Base) ValidateSchema() error {
	if b.deps.Schemas == nil {
		return errors.ConfigValidationf("Base", "ValidateSchema", "no schema root configured for sensor %s", b.meta.Name)
	}
	doc, err := b.meta.UserConfig(b.deps.Schemas)
	if err != nil {
		return err
	}
	if err := schema.Validate(b.raw, doc); err != nil {
		return err
	}

	var std struct {
		Standard StandardConfig `json:"standard"`
	}
	if err := DecodeConfig(b.raw, &std); err != nil {
		return err
	}
	b.endOnTrigger = std.Standard.EndOnTrigger
	return nil
}

// MarkValidated moves a Constructed sensor to Validated.
func (b *Base) MarkValidated() {
	if b.transition(StateConstructed, StateValidated) {
		b.logger.Debug("Sensor configuration validated", "end_on_trigger", b.endOnTrigger)
	}
}

// Begin moves a Validated sensor to Running.
func (b *Base) Begin() error {
	if !b.transition(StateValidated, StateRunning) {
		return errors.ConfigValidationf("Base", "Begin", "sensor %s cannot run from state %s", b.meta.Name, b.State())
	}
	return nil
}

// Terminate moves a Running sensor to Terminating.
func (b *Base) Terminate(reason string) {
	if b.transition(StateRunning, StateTerminating) {
		b.logger.Info("Sensor terminating", "reason", reason)
	}
}

// End marks the sensor Ended.
func (b *Base) End() {
	b.setState(StateEnded)
	b.logger.Info("Sensor ended")
}

// Trigger pushes an event built from payload to the sink and reports
// whether the sensor should now end. Push failures are logged and counted.
func (b *Base) Trigger(ctx context.Context, payload map[string]any) bool {
	event := NewEvent(b.meta.Name, payload)
	op := event.Operation()

	b.metrics.RecordTrigger(b.meta.Name, op)
	if b.deps.Sink == nil {
		b.logger.Warn("No sink configured, dropping event", "event_id", event.ID, "operation", op)
	} else if err := b.deps.Sink.Push(ctx, event); err != nil {
		b.metrics.RecordSinkError(b.deps.Sink.Name())
		b.logger.Error("Failed to push event", "sink", b.deps.Sink.Name(), "event_id", event.ID, "error", err)
	} else {
		b.logger.Info("Sensor triggered", "event_id", event.ID, "operation", op)
	}

	if b.endOnTrigger {
		b.Terminate(fmt.Sprintf("end on trigger (%s)", op))
		return true
	}
	return false
}
