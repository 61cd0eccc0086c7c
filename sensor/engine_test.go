package sensor

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/match"
	"github.com/c360/semsensors/metric"
	"github.com/c360/semsensors/schema"
	"github.com/c360/semsensors/transport"
)

type step struct {
	n   transport.Notification
	err error
}

// fakeTransport replays steps, then reports end of stream (or blocks until
// cancelled when block is set).
type fakeTransport struct {
	mu       sync.Mutex
	steps    []step
	block    bool
	bindErr  error
	state    transport.State
	binds    int
	receives int
	cleanups int
}

func (f *fakeTransport) Name() string { return "fake" }

func (f *fakeTransport) State() transport.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) Bind(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.binds++
	if f.bindErr != nil {
		return f.bindErr
	}
	f.state = transport.Bound
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) (transport.Notification, error) {
	f.mu.Lock()
	f.receives++
	if len(f.steps) > 0 {
		s := f.steps[0]
		f.steps = f.steps[1:]
		f.mu.Unlock()
		return s.n, s.err
	}
	block := f.block
	f.state = transport.Draining
	f.mu.Unlock()

	if block {
		<-ctx.Done()
	}
	return transport.Notification{}, transport.ErrEndOfStream
}

func (f *fakeTransport) Cleanup(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	f.state = transport.Closed
	return nil
}

func (f *fakeTransport) counts() (binds, receives, cleanups int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.binds, f.receives, f.cleanups
}

type fakeWatcher struct {
	key       *match.Matcher
	op        *match.Matcher
	tr        *fakeTransport
	checkErr  error
	precheck  *transport.Notification
	preErr    error
	created   int
	createErr error
}

func (w *fakeWatcher) CheckConfig(_ context.Context) error { return w.checkErr }

func (w *fakeWatcher) Precheck(_ context.Context) (transport.Notification, bool, error) {
	if w.preErr != nil {
		return transport.Notification{}, false, w.preErr
	}
	if w.precheck == nil {
		return transport.Notification{}, false, nil
	}
	return *w.precheck, true, nil
}

func (w *fakeWatcher) NewTransport() (transport.Transport, error) {
	w.created++
	if w.createErr != nil {
		return nil, w.createErr
	}
	return w.tr, nil
}

func (w *fakeWatcher) KeyMatcher() *match.Matcher { return w.key }
func (w *fakeWatcher) OpMatcher() *match.Matcher  { return w.op }

func (w *fakeWatcher) Payload(n transport.Notification) map[string]any {
	return map[string]any{"object_key": n.ObjectKey, "operation": string(n.Operation)}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Push(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func (s *recordingSink) pushed() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// testSchemas writes a minimal sensor schema tree and returns its Schemas.
func testSchemas(t *testing.T) *Schemas {
	t.Helper()
	root := t.TempDir()
	files := map[string]string{
		"shared/standard.json": `{"definitions":{"standard":{"type":"object",
			"properties":{"end_on_trigger":{"type":"boolean"}},"additionalProperties":false}}}`,
		"fake/user-config.json": `{"type":"object",
			"properties":{"standard":{"$ref":"standard.json#/definitions/standard"},"name":{"type":"string"}},
			"additionalProperties":false}`,
		"fake/outputs.json": `{"type":"object"}`,
	}
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
	return NewSchemas(root, schema.NewCache())
}

var fakeMeta = Metadata{Name: "fake", Description: "test sensor", SchemaDir: "fake"}

func exact(t *testing.T, pattern string) *match.Matcher {
	t.Helper()
	m, err := match.New(match.Exact, pattern)
	require.NoError(t, err)
	return m
}

func newTestEngine(t *testing.T, raw map[string]any, w *fakeWatcher, sink Sink, reg *metric.MetricsRegistry) *Engine {
	t.Helper()
	deps := Dependencies{Schemas: testSchemas(t), Sink: sink, MetricsRegistry: reg}
	return NewEngine(NewBase(fakeMeta, raw, deps), w)
}

var endOnTrigger = map[string]any{"standard": map[string]any{"end_on_trigger": true}}

func TestEngine_EndOnTrigger(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "a.csv", Operation: transport.OpCreated}},
	}}
	sink := &recordingSink{}
	e := newTestEngine(t, endOnTrigger, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, sink, nil)

	require.NoError(t, e.Validate(context.Background()))
	assert.Equal(t, StateValidated, e.State())
	require.NoError(t, e.Run(context.Background()))

	events := sink.pushed()
	require.Len(t, events, 1)
	assert.Equal(t, "created", events[0].Payload["operation"])
	assert.Equal(t, "fake", events[0].Sensor)
	assert.NotEmpty(t, events[0].ID)

	binds, receives, cleanups := tr.counts()
	assert.Equal(t, 1, binds)
	assert.Equal(t, 1, receives, "ends without reading end of stream")
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, StateEnded, e.State())
}

func TestEngine_NonMatchingContinues(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "b.csv", Operation: transport.OpCreated}},
	}}
	sink := &recordingSink{}
	e := newTestEngine(t, endOnTrigger, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, sink, nil)

	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))

	assert.Empty(t, sink.pushed())
	_, receives, cleanups := tr.counts()
	assert.Equal(t, 2, receives, "loop continues to the next receive")
	assert.Equal(t, 1, cleanups)
}

func TestEngine_TriggersUntilEndOfStream(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "in/1.csv", Operation: transport.OpCreated}},
		{err: pkgerrors.MalformedNotification(stderrors.New("bad body"), "fake", "Receive")},
		{n: transport.Notification{ObjectKey: "out/2.csv", Operation: transport.OpCreated}},
		{n: transport.Notification{ObjectKey: "in/3.csv", Operation: transport.OpDeleted}},
		{n: transport.Notification{ObjectKey: "in/4.csv", Operation: transport.OpModified}},
	}}
	key, err := match.New(match.Partial, "in/")
	require.NoError(t, err)
	op, err := match.New(match.Regex, "created|modified")
	require.NoError(t, err)

	sink := &recordingSink{}
	reg := metric.NewMetricsRegistry()
	e := newTestEngine(t, nil, &fakeWatcher{key: key, op: op, tr: tr}, sink, reg)

	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))

	events := sink.pushed()
	require.Len(t, events, 2)
	assert.Equal(t, "in/1.csv", events[0].Payload["object_key"])
	assert.Equal(t, "in/4.csv", events[1].Payload["object_key"])

	m := reg.CoreMetrics()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NotificationsSkipped.WithLabelValues("fake", "malformed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.NotificationsSkipped.WithLabelValues("fake", "no_match")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Triggers.WithLabelValues("fake", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Triggers.WithLabelValues("fake", "modified")))
	assert.Equal(t, float64(StateEnded), testutil.ToFloat64(m.SensorState.WithLabelValues("fake")))
	assert.Equal(t, float64(transport.Closed), testutil.ToFloat64(m.TransportState.WithLabelValues("fake", "fake")))
}

func TestEngine_ReceiveErrorEndsRun(t *testing.T) {
	tr := &fakeTransport{steps: []step{{err: stderrors.New("connection reset")}}}
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, &recordingSink{}, nil)

	require.NoError(t, e.Validate(context.Background()))
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransportReceive)
	assert.Contains(t, err.Error(), "connection reset")

	_, _, cleanups := tr.counts()
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, StateEnded, e.State())
}

func TestEngine_BindFailure(t *testing.T) {
	tr := &fakeTransport{bindErr: stderrors.New("no such bucket")}
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, &recordingSink{}, nil)

	require.NoError(t, e.Validate(context.Background()))
	err := e.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransportBind)
	assert.True(t, pkgerrors.IsFatal(err))

	binds, receives, cleanups := tr.counts()
	assert.Equal(t, 1, binds)
	assert.Equal(t, 0, receives)
	assert.Equal(t, 1, cleanups)
}

func TestEngine_TransportCreationFailure(t *testing.T) {
	w := &fakeWatcher{key: exact(t, "a.csv"), createErr: stderrors.New("unknown transport")}
	e := newTestEngine(t, nil, w, &recordingSink{}, nil)

	require.NoError(t, e.Validate(context.Background()))
	err := e.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrTransportBind)
}

func TestEngine_CancelIsGraceful(t *testing.T) {
	tr := &fakeTransport{block: true}
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, &recordingSink{}, nil)
	require.NoError(t, e.Validate(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, receives, _ := tr.counts()
		return receives == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateRunning, e.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	_, _, cleanups := tr.counts()
	assert.Equal(t, 1, cleanups)
	assert.Equal(t, StateEnded, e.State())
}

func TestEngine_PrecheckTriggerEnds(t *testing.T) {
	tr := &fakeTransport{}
	w := &fakeWatcher{
		key:      exact(t, "a.csv"),
		tr:       tr,
		precheck: &transport.Notification{ObjectKey: "a.csv", Operation: transport.OpExists},
	}
	sink := &recordingSink{}
	e := newTestEngine(t, endOnTrigger, w, sink, nil)

	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))

	events := sink.pushed()
	require.Len(t, events, 1)
	assert.Equal(t, "exists", events[0].Operation())
	assert.Equal(t, 0, w.created, "no transport once ended")
}

func TestEngine_PrecheckTriggerContinues(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "a.csv", Operation: transport.OpModified}},
	}}
	w := &fakeWatcher{
		key:      exact(t, "a.csv"),
		tr:       tr,
		precheck: &transport.Notification{ObjectKey: "a.csv", Operation: transport.OpExists},
	}
	sink := &recordingSink{}
	e := newTestEngine(t, nil, w, sink, nil)

	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))

	events := sink.pushed()
	require.Len(t, events, 2)
	assert.Equal(t, "exists", events[0].Operation())
	assert.Equal(t, "modified", events[1].Operation())
}

func TestEngine_PrecheckError(t *testing.T) {
	w := &fakeWatcher{key: exact(t, "a.csv"), tr: &fakeTransport{}, preErr: stderrors.New("bucket unavailable")}
	e := newTestEngine(t, nil, w, &recordingSink{}, nil)

	require.NoError(t, e.Validate(context.Background()))
	err := e.Run(context.Background())
	assert.ErrorContains(t, err, "bucket unavailable")
	assert.Equal(t, 0, w.created)
}

func TestEngine_SinkErrorIsNotFatal(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "a.csv", Operation: transport.OpCreated}},
		{n: transport.Notification{ObjectKey: "a.csv", Operation: transport.OpModified}},
	}}
	sink := &recordingSink{err: stderrors.New("sink down")}
	reg := metric.NewMetricsRegistry()
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, sink, reg)

	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))
	assert.Len(t, sink.pushed(), 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(reg.CoreMetrics().SinkErrors.WithLabelValues("recording")))
}

func TestEngine_RunRequiresValidation(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, &recordingSink{}, nil)

	err := e.Run(context.Background())
	assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)
	assert.Equal(t, StateConstructed, e.State())
	binds, _, _ := tr.counts()
	assert.Equal(t, 0, binds)
}

func TestEngine_RunOnlyOnce(t *testing.T) {
	tr := &fakeTransport{}
	e := newTestEngine(t, nil, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, &recordingSink{}, nil)
	require.NoError(t, e.Validate(context.Background()))
	require.NoError(t, e.Run(context.Background()))

	assert.ErrorIs(t, e.Run(context.Background()), pkgerrors.ErrConfigValidation)
}

func TestEngine_ValidateFailures(t *testing.T) {
	t.Run("schema violation", func(t *testing.T) {
		e := newTestEngine(t, map[string]any{"unexpected": 1}, &fakeWatcher{key: exact(t, "a")}, nil, nil)
		err := e.Validate(context.Background())
		assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)
		assert.Equal(t, StateConstructed, e.State())
	})

	t.Run("semantic check", func(t *testing.T) {
		w := &fakeWatcher{key: exact(t, "a"), checkErr: stderrors.New("bucket unreachable")}
		e := newTestEngine(t, nil, w, nil, nil)
		err := e.Validate(context.Background())
		assert.ErrorIs(t, err, pkgerrors.ErrConfigValidation)
		assert.ErrorContains(t, err, "bucket unreachable")
	})

	t.Run("missing schema", func(t *testing.T) {
		deps := Dependencies{Schemas: testSchemas(t)}
		meta := Metadata{Name: "ghost", SchemaDir: "ghost"}
		e := NewEngine(NewBase(meta, nil, deps), &fakeWatcher{key: exact(t, "a")})
		assert.ErrorIs(t, e.Validate(context.Background()), pkgerrors.ErrSchemaNotFound)
	})

	t.Run("no schemas", func(t *testing.T) {
		e := NewEngine(NewBase(fakeMeta, nil, Dependencies{}), &fakeWatcher{key: exact(t, "a")})
		assert.ErrorIs(t, e.Validate(context.Background()), pkgerrors.ErrConfigValidation)
	})
}

func TestEngine_NoSinkDropsEvent(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{n: transport.Notification{ObjectKey: "a.csv", Operation: transport.OpCreated}},
	}}
	e := newTestEngine(t, endOnTrigger, &fakeWatcher{key: exact(t, "a.csv"), tr: tr}, nil, nil)
	require.NoError(t, e.Validate(context.Background()))
	assert.NoError(t, e.Run(context.Background()))
}
