package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/c360/semsensors/errors"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SEMSENSOR"

// Config is the runtime configuration of the semsensor process. Sensor
// configurations are separate documents loaded with LoadSensorConfig.
type Config struct {
	Log     LogConfig     `json:"log"`
	NATS    NATSConfig    `json:"nats"`
	Metrics MetricsConfig `json:"metrics"`
	Schemas SchemaConfig  `json:"schemas"`
	Sinks   SinksConfig   `json:"sinks"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `json:"level"  validate:"oneof=debug info warn error"`
	Format string `json:"format" validate:"oneof=json text"`
}

// NATSConfig defines NATS connection settings
type NATSConfig struct {
	URLs          []string `json:"urls,omitempty"           validate:"dive,required"`
	Name          string   `json:"name,omitempty"`
	MaxReconnects int      `json:"max_reconnects,omitempty" validate:"min=-1"`
	ReconnectWait string   `json:"reconnect_wait,omitempty" validate:"omitempty,duration"`
	Timeout       string   `json:"timeout,omitempty"        validate:"omitempty,duration"`
	DrainTimeout  string   `json:"drain_timeout,omitempty"  validate:"omitempty,duration"`
	MaxBackoff    string   `json:"max_backoff,omitempty"    validate:"omitempty,duration"`
	Username      string   `json:"username,omitempty"`
	Password      string   `json:"password,omitempty"`
	Token         string   `json:"token,omitempty"`

	TLS *NATSTLSConfig `json:"tls,omitempty"`
}

// NATSTLSConfig enables TLS on the NATS connection. Empty paths use the
// system roots and no client certificate.
type NATSTLSConfig struct {
	CAFile   string `json:"ca_file,omitempty"`
	CertFile string `json:"cert_file,omitempty"   validate:"required_with=KeyFile"`
	KeyFile  string `json:"key_file,omitempty"    validate:"required_with=CertFile"`
}

// ReconnectWaitDuration returns ReconnectWait parsed, zero when unset.
func (c NATSConfig) ReconnectWaitDuration() time.Duration {
	d, _ := parseDurationWithDays(c.ReconnectWait)
	return d
}

// TimeoutDuration returns Timeout parsed, zero when unset.
func (c NATSConfig) TimeoutDuration() time.Duration {
	d, _ := parseDurationWithDays(c.Timeout)
	return d
}

// DrainTimeoutDuration bounds how long closing the connection waits for
// pending messages. Zero when unset.
func (c NATSConfig) DrainTimeoutDuration() time.Duration {
	d, _ := parseDurationWithDays(c.DrainTimeout)
	return d
}

// MaxBackoffDuration caps the circuit breaker backoff. Zero when unset.
func (c NATSConfig) MaxBackoffDuration() time.Duration {
	d, _ := parseDurationWithDays(c.MaxBackoff)
	return d
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port"           validate:"min=0,max=65535"`
	Path    string `json:"path,omitempty" validate:"omitempty,startswith=/"`
}

// SchemaConfig locates the schema tree.
type SchemaConfig struct {
	Root string `json:"root" validate:"required"`
}

// SinksConfig enables event sinks. The log sink is always active.
type SinksConfig struct {
	NATS      NATSSinkConfig      `json:"nats"`
	Journal   JournalSinkConfig   `json:"journal"`
	WebSocket WebSocketSinkConfig `json:"websocket"`
}

// NATSSinkConfig publishes events on NATS.
type NATSSinkConfig struct {
	Enabled       bool   `json:"enabled"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// JournalSinkConfig stores events in a bbolt file when Path is set.
type JournalSinkConfig struct {
	Path string `json:"path,omitempty"`
}

// WebSocketSinkConfig broadcasts events to WebSocket clients.
type WebSocketSinkConfig struct {
	Enabled bool   `json:"enabled"`
	Port    int    `json:"port,omitempty" validate:"min=0,max=65535"`
	Path    string `json:"path,omitempty" validate:"omitempty,startswith=/"`
}

// Defaults returns the configuration used when no file sets a value.
func Defaults() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		NATS: NATSConfig{
			URLs:          []string{"nats://localhost:4222"},
			MaxReconnects: -1,
			ReconnectWait: "2s",
			Timeout:       "5s",
			DrainTimeout:  "10s",
		},
		Metrics: MetricsConfig{Enabled: true, Port: 9090, Path: "/metrics"},
		Schemas: SchemaConfig{Root: "schemas"},
	}
}

// Validate checks the configuration with the struct tags above.
func (c *Config) Validate() error {
	if err := validatorInstance().Struct(c); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %w", errors.ErrInvalidConfig, convertValidationError(err)),
			"Config", "Validate", "validate runtime config")
	}
	return nil
}

// String returns a JSON representation of the config with secrets masked.
func (c *Config) String() string {
	masked := *c
	if masked.NATS.Password != "" {
		masked.NATS.Password = "***"
	}
	if masked.NATS.Token != "" {
		masked.NATS.Token = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// applyEnvOverrides applies SEMSENSOR_* environment variables.
func applyEnvOverrides(cfg *Config, prefix string) error {
	str := func(name string, dst *string) error {
		key := prefix + "_" + name
		val := os.Getenv(key)
		if err := validateEnvVar(key, val); err != nil {
			return err
		}
		if val != "" {
			*dst = val
		}
		return nil
	}
	integer := func(name string, dst *int) error {
		var raw string
		if err := str(name, &raw); err != nil || raw == "" {
			return err
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s_%s: %w", prefix, name, err)
		}
		*dst = n
		return nil
	}

	var urls string
	steps := []error{
		str("LOG_LEVEL", &cfg.Log.Level),
		str("LOG_FORMAT", &cfg.Log.Format),
		str("NATS_URLS", &urls),
		str("NATS_USERNAME", &cfg.NATS.Username),
		str("NATS_PASSWORD", &cfg.NATS.Password),
		str("NATS_TOKEN", &cfg.NATS.Token),
		integer("METRICS_PORT", &cfg.Metrics.Port),
		str("SCHEMA_ROOT", &cfg.Schemas.Root),
		str("JOURNAL_PATH", &cfg.Sinks.Journal.Path),
	}
	for _, err := range steps {
		if err != nil {
			return err
		}
	}
	if urls != "" {
		cfg.NATS.URLs = strings.Split(urls, ",")
	}
	return nil
}

func parseDurationWithDays(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		days, err := strconv.ParseFloat(strings.TrimSuffix(s, "d"), 64)
		if err != nil {
			return 0, err
		}
		return time.Duration(days * float64(24*time.Hour)), nil
	}
	return time.ParseDuration(s)
}
