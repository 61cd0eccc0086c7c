package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semsensors/errors"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, []string{"nats://localhost:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 2*time.Second, cfg.NATS.ReconnectWaitDuration())
	assert.Equal(t, 5*time.Second, cfg.NATS.TimeoutDuration())
	assert.Equal(t, 10*time.Second, cfg.NATS.DrainTimeoutDuration())
	assert.Zero(t, cfg.NATS.MaxBackoffDuration())
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, "schemas", cfg.Schemas.Root)
}

func TestLoader_Layers(t *testing.T) {
	base := writeFile(t, "base.yaml", `
log:
  level: debug
nats:
  urls: ["nats://a:4222", "nats://b:4222"]
  reconnect_wait: 1d
  drain_timeout: 30s
  max_backoff: 2m
sinks:
  websocket:
    enabled: true
    port: 8099
`)
	override := writeFile(t, "prod.json", `{
  "log": {"format": "text"},
  "metrics": {"port": 9191},
  "sinks": {"websocket": {"path": "/events"}, "journal": {"path": "/var/lib/semsensor/events.db"}}
}`)

	l := NewLoader()
	l.AddLayer(base)
	l.AddLayer(override)
	cfg, err := l.Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level, "kept from base")
	assert.Equal(t, "text", cfg.Log.Format, "set by override")
	assert.Equal(t, []string{"nats://a:4222", "nats://b:4222"}, cfg.NATS.URLs)
	assert.Equal(t, 24*time.Hour, cfg.NATS.ReconnectWaitDuration())
	assert.Equal(t, 30*time.Second, cfg.NATS.DrainTimeoutDuration())
	assert.Equal(t, 2*time.Minute, cfg.NATS.MaxBackoffDuration())
	assert.Equal(t, -1, cfg.NATS.MaxReconnects, "default survives")
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.True(t, cfg.Metrics.Enabled)
	assert.True(t, cfg.Sinks.WebSocket.Enabled)
	assert.Equal(t, 8099, cfg.Sinks.WebSocket.Port)
	assert.Equal(t, "/events", cfg.Sinks.WebSocket.Path)
	assert.Equal(t, "/var/lib/semsensor/events.db", cfg.Sinks.Journal.Path)
}

func TestLoader_EnvOverrides(t *testing.T) {
	t.Setenv("SEMSENSOR_LOG_LEVEL", "warn")
	t.Setenv("SEMSENSOR_NATS_URLS", "nats://x:1,nats://y:2")
	t.Setenv("SEMSENSOR_NATS_TOKEN", "s3cret")
	t.Setenv("SEMSENSOR_METRICS_PORT", "9300")
	t.Setenv("SEMSENSOR_SCHEMA_ROOT", "/opt/schemas")

	path := writeFile(t, "cfg.json", `{"log": {"level": "debug"}}`)
	cfg, err := NewLoader().LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Log.Level, "env wins over file")
	assert.Equal(t, []string{"nats://x:1", "nats://y:2"}, cfg.NATS.URLs)
	assert.Equal(t, 9300, cfg.Metrics.Port)
	assert.Equal(t, "/opt/schemas", cfg.Schemas.Root)
	assert.NotContains(t, cfg.String(), "s3cret")
}

func TestLoader_BadEnv(t *testing.T) {
	t.Setenv("SEMSENSOR_METRICS_PORT", "ninety")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.True(t, pkgerrors.IsInvalid(err))
	assert.Contains(t, err.Error(), "SEMSENSOR_METRICS_PORT")
}

func TestLoader_Validation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"bad level", `{"log": {"level": "verbose"}}`, "log.level"},
		{"bad duration", `{"nats": {"reconnect_wait": "soon"}}`, "nats.reconnect_wait"},
		{"bad drain timeout", `{"nats": {"drain_timeout": "later"}}`, "nats.drain_timeout"},
		{"bad port", `{"metrics": {"port": 70000}}`, "metrics.port"},
		{"relative path", `{"sinks": {"websocket": {"path": "events"}}}`, "sinks.websocket.path"},
		{"empty url", `{"nats": {"urls": [""]}}`, "nats.urls[0]"},
		{"empty schema root", `{"schemas": {"root": ""}}`, "schemas.root"},
		{"tls cert without key", `{"nats": {"tls": {"cert_file": "client.pem"}}}`, "nats.tls.key_file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(writeFile(t, "cfg.json", tt.content))
			require.Error(t, err)
			assert.ErrorIs(t, err, pkgerrors.ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.field)
		})
	}

	l := NewLoader()
	l.EnableValidation(false)
	cfg, err := l.LoadFile(writeFile(t, "cfg.json", `{"log": {"level": "verbose"}}`))
	require.NoError(t, err)
	assert.Equal(t, "verbose", cfg.Log.Level)
}

func TestLoader_FileErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
		want string
	}{
		{"missing", func(t *testing.T) string { return filepath.Join(t.TempDir(), "none.json") }, "cannot stat"},
		{"extension", func(t *testing.T) string { return writeFile(t, "cfg.toml", "a = 1") }, "only JSON or YAML"},
		{"directory", func(t *testing.T) string {
			dir := filepath.Join(t.TempDir(), "d.json")
			require.NoError(t, os.Mkdir(dir, 0o755))
			return dir
		}, "not a regular file"},
		{"bad json", func(t *testing.T) string { return writeFile(t, "cfg.json", "{") }, "parse JSON"},
		{"bad yaml", func(t *testing.T) string { return writeFile(t, "cfg.yaml", "a: [") }, "parse YAML"},
		{"not a mapping", func(t *testing.T) string { return writeFile(t, "cfg.json", "[1, 2]") }, "must be a mapping"},
		{"too deep", func(t *testing.T) string {
			return writeFile(t, "cfg.json", strings.Repeat("[", 102)+strings.Repeat("]", 102))
		}, "too deep"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLoader().LoadFile(tt.path(t))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDeepMergeMaps(t *testing.T) {
	base := map[string]any{"a": 1, "m": map[string]any{"x": 1, "y": 2}, "keep": "k"}
	override := map[string]any{"a": 2, "m": map[string]any{"y": 3}, "keep": nil, "new": true}

	got := deepMergeMaps(base, override)
	assert.Equal(t, map[string]any{
		"a":    2,
		"m":    map[string]any{"x": 1, "y": 3},
		"keep": "k",
		"new":  true,
	}, got)
	assert.Equal(t, 2, base["m"].(map[string]any)["y"], "base is not modified")
}

func TestLoadSensorConfig(t *testing.T) {
	yamlPath := writeFile(t, "sensor.yaml", `
bucket:
  name: landing
key_matcher:
  type: exact
  pattern: a.csv
existing_file_max_age_minutes: 30
notification_transport: jetstream
`)
	jsonPath := writeFile(t, "sensor.json", `{
  "bucket": {"name": "landing"},
  "key_matcher": {"type": "exact", "pattern": "a.csv"},
  "existing_file_max_age_minutes": 30,
  "notification_transport": "jetstream"
}`)

	fromYAML, err := LoadSensorConfig(yamlPath)
	require.NoError(t, err)
	fromJSON, err := LoadSensorConfig(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, fromJSON, fromYAML, "both formats decode to the same values")
	assert.Equal(t, float64(30), fromYAML["existing_file_max_age_minutes"])

	_, err = LoadSensorConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)

	empty, err := LoadSensorConfig(writeFile(t, "empty.yaml", ""))
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestParseDurationWithDays(t *testing.T) {
	d, err := parseDurationWithDays("1.5d")
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	d, err = parseDurationWithDays("90s")
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, d)

	_, err = parseDurationWithDays("xd")
	assert.Error(t, err)
}
