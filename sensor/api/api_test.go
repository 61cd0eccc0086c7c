package api

import (
	"bytes"
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/schema"
	"github.com/c360/semsensors/sensor"
)

type captureSink struct {
	mu     sync.Mutex
	events []sensor.Event
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Push(_ context.Context, e sensor.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
	return nil
}

func (c *captureSink) snapshot() []sensor.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]sensor.Event(nil), c.events...)
}

func newTestSensor(t *testing.T, raw map[string]any, sink sensor.Sink, port int) *Sensor {
	t.Helper()
	s, err := New(raw, sensor.Dependencies{
		Schemas: sensor.NewSchemas("../../schemas", schema.NewCache()),
		Sink:    sink,
		Port:    port,
	})
	require.NoError(t, err)
	return s.(*Sensor)
}

// lockedBuffer collects log output written from several goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func TestValidate(t *testing.T) {
	s := newTestSensor(t, map[string]any{}, nil, 0)
	require.NoError(t, s.Validate(context.Background()))
	assert.Equal(t, Config{Host: DefaultHost, Port: DefaultPort, Path: DefaultPath}, s.Config())
	assert.Equal(t, sensor.StateValidated, s.State())

	s = newTestSensor(t, map[string]any{"port": 9000, "path": "/hook"}, nil, 9100)
	require.NoError(t, s.Validate(context.Background()))
	assert.Equal(t, 9100, s.Config().Port, "dependency port overrides config")
	assert.Equal(t, "127.0.0.1:9100", s.Config().Address())

	for _, raw := range []map[string]any{
		{"port": 0},
		{"port": 70000},
		{"path": "hook"},
		{"verbose": true},
		{"rate_limit": map[string]any{"requests_per_second": 0}},
		{"rate_limit": map[string]any{"burst": 2}},
	} {
		s := newTestSensor(t, raw, nil, 0)
		err := s.Validate(context.Background())
		assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation, "config %v", raw)
	}
}

func TestHandler(t *testing.T) {
	sink := &captureSink{}
	s := newTestSensor(t, map[string]any{"path": "/hook"}, sink, 0)
	require.NoError(t, s.Validate(context.Background()))
	h := s.Handler()

	tests := []struct {
		name     string
		method   string
		path     string
		body     string
		wantCode int
	}{
		{"post json", http.MethodPost, "/hook", `{"flow":"etl","rows":3}`, http.StatusOK},
		{"post text", http.MethodPost, "/hook", "hello", http.StatusOK},
		{"get", http.MethodGet, "/hook", "", http.StatusMethodNotAllowed},
		{"put", http.MethodPut, "/hook", "x", http.StatusMethodNotAllowed},
		{"delete", http.MethodDelete, "/hook", "", http.StatusMethodNotAllowed},
		{"other path", http.MethodPost, "/other", "x", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body)))
			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode == http.StatusMethodNotAllowed {
				assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"))
			}
		})
	}

	events := sink.snapshot()
	require.Len(t, events, 2)
	assert.Equal(t, map[string]any{"flow": "etl", "rows": float64(3)}, events[0].Payload["api_payload"])
	assert.Equal(t, "hello", events[1].Payload["api_payload"])
	assert.Equal(t, OperationReceived, events[1].Operation())
	assert.Equal(t, "api", events[0].Sensor)
}

func TestHandler_BodyTooLarge(t *testing.T) {
	sink := &captureSink{}
	s := newTestSensor(t, map[string]any{}, sink, 0)
	require.NoError(t, s.Validate(context.Background()))

	rec := httptest.NewRecorder()
	body := bytes.Repeat([]byte("a"), MaxBodyBytes+1)
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Empty(t, sink.snapshot())
}

func TestHandler_RateLimit(t *testing.T) {
	sink := &captureSink{}
	s := newTestSensor(t, map[string]any{
		"rate_limit": map[string]any{"requests_per_second": 0.001, "burst": 2},
	}, sink, 0)
	require.NoError(t, s.Validate(context.Background()))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", strings.NewReader("x")))
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Len(t, sink.snapshot(), 2)
}

func TestPayload(t *testing.T) {
	assert.Equal(t, map[string]any{"api_payload": []any{"a", "b"}, "operation": "received"}, Payload([]byte(`["a","b"]`)))
	assert.Equal(t, "not json {", Payload([]byte("not json {"))["api_payload"])
	assert.Equal(t, "", Payload(nil)["api_payload"])

	outputs, err := Metadata.Outputs(sensor.NewSchemas("../../schemas", nil))
	require.NoError(t, err)
	assert.NoError(t, schema.Validate(Payload([]byte(`{"k":1}`)), outputs))
}

func TestRun_EndOnTrigger(t *testing.T) {
	sink := &captureSink{}
	port := freePort(t)
	s := newTestSensor(t, map[string]any{"standard": map[string]any{"end_on_trigger": true}}, sink, port)
	require.NoError(t, s.Validate(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Post("http://"+s.Addr()+"/", "application/json", strings.NewReader(`{"go":true}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sensor did not end after trigger")
	}
	assert.Equal(t, sensor.StateEnded, s.State())
	assert.Len(t, sink.snapshot(), 1)
}

func TestRun_CancelStopsServer(t *testing.T) {
	port := freePort(t)
	s := newTestSensor(t, map[string]any{}, &captureSink{}, port)
	require.NoError(t, s.Validate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	require.Eventually(t, func() bool { return s.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	resp, err := http.Get("http://" + s.Addr() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	assert.Equal(t, sensor.StateRunning, s.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sensor did not stop on cancel")
	}
	assert.Equal(t, sensor.StateEnded, s.State())
}

func TestRun_ListenFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	s := newTestSensor(t, map[string]any{}, nil, ln.Addr().(*net.TCPAddr).Port)
	require.NoError(t, s.Validate(context.Background()))

	err = s.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrTransportBind)
}

func TestRun_ServeFailureTerminates(t *testing.T) {
	var logs lockedBuffer
	s, err := New(map[string]any{}, sensor.Dependencies{
		Schemas: sensor.NewSchemas("../../schemas", schema.NewCache()),
		Logger:  slog.New(slog.NewTextHandler(&logs, nil)),
		Port:    freePort(t),
	})
	require.NoError(t, err)
	sens := s.(*Sensor)
	require.NoError(t, sens.Validate(context.Background()))

	done := make(chan error, 1)
	go func() { done <- sens.Run(context.Background()) }()
	require.Eventually(t, func() bool { return sens.Addr() != "" }, 5*time.Second, 10*time.Millisecond)

	// closing the listener underneath the server makes Serve fail
	sens.mu.Lock()
	require.NoError(t, sens.listener.Close())
	sens.mu.Unlock()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, pkgerrors.ErrTransportReceive)
	case <-time.After(5 * time.Second):
		t.Fatal("sensor did not stop after serve failed")
	}
	assert.Equal(t, sensor.StateEnded, sens.State())

	out := logs.String()
	assert.Contains(t, out, "Sensor terminating")
	assert.Contains(t, out, `reason="serve failed"`)
	assert.Less(t, strings.Index(out, "Sensor terminating"), strings.Index(out, "Sensor ended"))
}

func TestRun_RequiresValidation(t *testing.T) {
	s := newTestSensor(t, map[string]any{}, nil, 0)
	err := s.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)
}
