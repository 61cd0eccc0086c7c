// Package semsensors is a runtime for sensors: long-running watchers that
// emit an event when something they observe changes.
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│        cmd/semsensor (cobra)        │  run, validate, list, schema
//	└─────────────────────────────────────┘
//	           ↓ creates through sensorregistry
//	┌─────────────────────────────────────┐
//	│   Sensors (sensor/api,              │  Validate, then Run until
//	│            sensor/objectstore)      │  cancelled or end-on-trigger
//	└─────────────────────────────────────┘
//	           ↓ receive notifications from
//	┌─────────────────────────────────────┐
//	│   transport (JetStream, MQTT)       │  Bind, Receive, Cleanup
//	└─────────────────────────────────────┘
//	           ↓ events pushed to
//	┌─────────────────────────────────────┐
//	│   sink (log, NATS, journal, ws)     │
//	└─────────────────────────────────────┘
//
// Every sensor type owns a directory under schemas/ holding its
// user-config, inputs and outputs JSON Schemas. References between schema
// files are resolved by the schema package, with schemas/shared always on
// the search path, and configurations are validated before a sensor runs.
//
// # Packages
//
//   - schema: reference resolution, document cache, validation
//   - match: exact, partial and regex matchers for keys and operations
//   - transport: notification transports for bucket change events
//   - sensor: lifecycle base, notification engine, registry
//   - sensor/objectstore, sensor/api: the sensor types
//   - sink: event destinations
//   - config: layered runtime configuration
//   - errors: classified errors and the sensor error taxonomy
//   - metric, health: Prometheus metrics and the /health endpoint
//   - natsclient: the NATS connection with a circuit breaker
//   - pkg/retry, pkg/tlsutil: backoff and client TLS helpers
//
// # Quick Start
//
//	semsensor list
//	semsensor validate objectstore -f landing.yaml
//	semsensor run api -f hook.yaml --port 9000
package semsensors
