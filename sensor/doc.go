// Package sensor runs sensors: long-lived watchers that emit a trigger event
// when a configured condition holds.
//
// # Lifecycle
//
// Every sensor moves Constructed → Validated → Running → Terminating →
// Ended. Validate checks the raw configuration against the sensor type's
// user-config schema and then runs the type's own semantic checks; Run
// refuses to start from any state but Validated.
//
// Engine implements the notification-driven loop shared by storage
// sensors. A Watcher supplies the type-specific parts:
//
//	precheck ──▶ bind ──▶ receive ──▶ key AND op match ──▶ trigger
//	                         ▲                                 │
//	                         └─────────────────────────────────┘
//
// The transport is cleaned up exactly once on every exit path, with a
// fresh deadline so cleanup still runs after the run context is cancelled.
// A cancelled context ends Run with nil; a receive failure ends it with a
// transport receive error after cleanup. Malformed notifications are
// logged and skipped.
//
// # Registry
//
// Registry maps sensor type names to a Registration (metadata plus
// factory). Unknown names fail with a config validation error wrapping
// errors.ErrUnknownSensor. The sensorregistry package registers the built-in
// types.
//
//	reg := sensor.NewRegistry()
//	if err := sensorregistry.Register(reg); err != nil {
//	    return err
//	}
//	s, err := reg.Create("objectstore", raw, deps)
package sensor
