// Package config loads the runtime configuration of the semsensor process
// and the per-sensor configuration documents.
//
// # Runtime configuration
//
// Loader merges, in order: Defaults(), every file layer (JSON or YAML,
// decided by extension), then SEMSENSOR_* environment variables. The result
// is checked with go-playground/validator struct tags.
//
//	loader := config.NewLoader()
//	loader.AddLayer("config/base.yaml")
//	loader.AddLayer("config/production.json") // Overrides base
//
//	cfg, err := loader.Load()
//	if err != nil {
//		return err
//	}
//
// Maps merge key by key; any other value in a later layer replaces the
// earlier one. Null values in a layer are ignored.
//
// # Environment Overrides
//
//	SEMSENSOR_LOG_LEVEL      log.level
//	SEMSENSOR_LOG_FORMAT     log.format
//	SEMSENSOR_NATS_URLS      nats.urls (comma separated)
//	SEMSENSOR_NATS_USERNAME  nats.username
//	SEMSENSOR_NATS_PASSWORD  nats.password
//	SEMSENSOR_NATS_TOKEN     nats.token
//	SEMSENSOR_METRICS_PORT   metrics.port
//	SEMSENSOR_SCHEMA_ROOT    schemas.root
//	SEMSENSOR_JOURNAL_PATH   sinks.journal.path
//
// # Sensor configuration
//
// LoadSensorConfig reads the raw mapping handed to a sensor factory. It is
// not validated here; each sensor validates it against its own schema.
//
// # Security
//
// Files must have a .json, .yaml or .yml extension, be regular files and
// stay under 10MB. Documents nested deeper than 100 levels are rejected.
package config
