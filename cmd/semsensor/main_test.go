package main

import (
	"bytes"
	"encoding/json"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/semsensors/config"
	pkgerrors "github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/health"
	"github.com/c360/semsensors/natsclient"
	"github.com/c360/semsensors/sensor"
	"github.com/c360/semsensors/sink"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

// runtimeConfig writes a runtime config with metrics off and the repo schemas.
func runtimeConfig(t *testing.T, dir string, extra string) string {
	t.Helper()
	return writeFile(t, dir, "runtime.yaml", `
log:
  level: warn
metrics:
  enabled: false
schemas:
  root: ../../schemas
`+extra)
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	out := &bytes.Buffer{}
	root.SetOut(out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	original := Version
	t.Cleanup(func() { Version = original })
	Version = "1.2.3"

	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "semsensor 1.2.3")
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)
	assert.Contains(t, out, "NAME")
	assert.Contains(t, out, "objectstore")
	assert.Contains(t, out, "api")

	out, err = execute(t, "list", "--json")
	require.NoError(t, err)
	var infos []sensorInfo
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 2)
	assert.Equal(t, "api", infos[0].Name)
	assert.True(t, infos[0].HasInputs)
	assert.Equal(t, "objectstore", infos[1].Name)
}

func TestSchemaCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := runtimeConfig(t, dir, "")

	out, err := execute(t, "--config", cfg, "schema", "objectstore")
	require.NoError(t, err)
	assert.Contains(t, out, "key_matcher")
	assert.NotContains(t, out, "$ref", "references are resolved")

	out, err = execute(t, "--config", cfg, "schema", "api", "outputs")
	require.NoError(t, err)
	assert.Contains(t, out, "api_payload")

	_, err = execute(t, "--config", cfg, "schema", "api", "bogus")
	assert.Error(t, err)

	_, err = execute(t, "--config", cfg, "schema", "s3")
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownSensor)
}

func TestValidateCommand(t *testing.T) {
	dir := t.TempDir()
	cfg := runtimeConfig(t, dir, "")

	good := writeFile(t, dir, "objectstore.yaml", `
bucket:
  name: landing
key_matcher:
  type: partial
  pattern: incoming/
notification_transport: jetstream
`)
	out, err := execute(t, "--config", cfg, "validate", "objectstore", "--sensor-config", good)
	require.NoError(t, err)
	assert.Contains(t, out, "is valid")

	bad := writeFile(t, dir, "bad.json", `{"bucket": {"name": "landing"}, "notification_transport": "sqs"}`)
	_, err = execute(t, "--config", cfg, "validate", "objectstore", "--sensor-config", bad)
	assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)

	api := writeFile(t, dir, "api.json", `{"port": 8123, "path": "/hook"}`)
	_, err = execute(t, "--config", cfg, "validate", "api", "-f", api)
	assert.NoError(t, err)

	_, err = execute(t, "--config", cfg, "validate", "api")
	assert.ErrorContains(t, err, "sensor-config")

	_, err = execute(t, "--config", cfg, "validate", "s3", "-f", api)
	assert.ErrorIs(t, err, pkgerrors.ErrUnknownSensor)
}

func TestRunCommand_APIEndOnTrigger(t *testing.T) {
	dir := t.TempDir()
	journalPath := filepath.Join(dir, "events.db")
	cfg := runtimeConfig(t, dir, "sinks:\n  journal:\n    path: "+journalPath+"\n")
	sensorCfg := writeFile(t, dir, "api.yaml", "path: /hook\nstandard:\n  end_on_trigger: true\n")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	done := make(chan error, 1)
	go func() {
		_, err := execute(t, "--config", cfg, "run", "api", "-f", sensorCfg, "--port", strconv.Itoa(port))
		done <- err
	}()

	url := "http://127.0.0.1:" + strconv.Itoa(port) + "/hook"
	require.Eventually(t, func() bool {
		resp, err := http.Post(url, "text/plain", strings.NewReader("go"))
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 10*time.Second, 50*time.Millisecond)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("run did not exit after the trigger")
	}

	journal, err := sink.OpenJournal(journalPath)
	require.NoError(t, err)
	defer journal.Close()
	events, err := journal.Events("api")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "go", events[0].Payload["api_payload"])
}

func TestNeedsNATS(t *testing.T) {
	plain := config.Defaults()
	withSink := config.Defaults()
	withSink.Sinks.NATS.Enabled = true

	jetstream := map[string]any{"notification_transport": "jetstream"}
	mqtt := map[string]any{"notification_transport": "mqtt"}
	existing := map[string]any{"notification_transport": "mqtt", "trigger_on_existing_file": true}

	tests := []struct {
		name    string
		sensor  string
		raw     map[string]any
		cfg     *config.Config
		running bool
		want    bool
	}{
		{"api run", "api", nil, plain, true, false},
		{"api run with nats sink", "api", nil, withSink, true, true},
		{"api validate with nats sink", "api", nil, withSink, false, false},
		{"jetstream run", "objectstore", jetstream, plain, true, true},
		{"jetstream validate", "objectstore", jetstream, plain, false, false},
		{"mqtt run", "objectstore", mqtt, plain, true, false},
		{"existing validate", "objectstore", existing, plain, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, needsNATS(tt.sensor, tt.raw, tt.cfg, tt.running))
		})
	}
}

func TestSetupLogger(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := setupLogger("warn", "json", buf)
	logger.Info("hidden")
	logger.Warn("shown")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "shown", record["msg"])
	assert.Equal(t, appName, record["service"])
	assert.NotNil(t, record["pid"])

	buf.Reset()
	setupLogger("info", "text", buf).Info("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestSensorHealth(t *testing.T) {
	tests := []struct {
		state sensor.State
		want  string
	}{
		{sensor.StateConstructed, health.StatusUnhealthy},
		{sensor.StateValidated, health.StatusHealthy},
		{sensor.StateRunning, health.StatusHealthy},
		{sensor.StateTerminating, health.StatusDegraded},
		{sensor.StateEnded, health.StatusUnhealthy},
	}
	for _, tt := range tests {
		got := sensorHealth(tt.state)
		assert.Equal(t, tt.want, got.Status, tt.state.String())
		assert.Equal(t, tt.state.String(), got.Message)
	}
}

func TestNATSHealth(t *testing.T) {
	tests := []struct {
		name        string
		status      natsclient.Status
		want        string
		wantMessage string
	}{
		{
			name:        "connected",
			status:      natsclient.Status{Status: natsclient.StatusConnected, RTT: 2 * time.Millisecond},
			want:        health.StatusHealthy,
			wantMessage: "connected, rtt 2ms",
		},
		{
			name:        "reconnecting after failures",
			status:      natsclient.Status{Status: natsclient.StatusReconnecting, FailureCount: 2},
			want:        health.StatusDegraded,
			wantMessage: "reconnecting, 2 failures",
		},
		{
			name:        "circuit open",
			status:      natsclient.Status{Status: natsclient.StatusCircuitOpen, FailureCount: 5},
			want:        health.StatusUnhealthy,
			wantMessage: "circuit_open, 5 failures",
		},
		{
			name:        "disconnected",
			status:      natsclient.Status{Status: natsclient.StatusDisconnected},
			want:        health.StatusUnhealthy,
			wantMessage: "disconnected",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status := tt.status
			got := natsHealth(&status)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, tt.wantMessage, got.Message)
		})
	}
}
