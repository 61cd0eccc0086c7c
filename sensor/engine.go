package sensor

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/match"
	"github.com/c360/semsensors/transport"
)

// DefaultCleanupTimeout bounds transport cleanup after the run context is
// gone.
const DefaultCleanupTimeout = 10 * time.Second

// Watcher is the type-specific half of a notification-driven sensor.
type Watcher interface {
	// CheckConfig runs the semantic checks that follow schema validation.
	CheckConfig(ctx context.Context) error
	// Precheck looks for an already present object before binding. ok
	// reports whether it found one that should trigger.
	Precheck(ctx context.Context) (n transport.Notification, ok bool, err error)
	// NewTransport creates the unbound notification transport.
	NewTransport() (transport.Transport, error)
	// KeyMatcher is required; OpMatcher may return nil.
	KeyMatcher() *match.Matcher
	OpMatcher() *match.Matcher
	// Payload builds the event payload for a matched notification.
	Payload(n transport.Notification) map[string]any
}

// Engine runs a Watcher: validate, precheck, bind, then receive, match and
// trigger until the stream ends, the context is cancelled, or a trigger
// ends the sensor. The transport is cleaned up exactly once on every path.
type Engine struct {
	*Base
	watcher        Watcher
	cleanupTimeout time.Duration
}

// NewEngine creates an engine around base and watcher.
func NewEngine(base *Base, watcher Watcher) *Engine {
	return &Engine{Base: base, watcher: watcher, cleanupTimeout: DefaultCleanupTimeout}
}

// SetCleanupTimeout overrides DefaultCleanupTimeout.
func (e *Engine) SetCleanupTimeout(d time.Duration) {
	if d > 0 {
		e.cleanupTimeout = d
	}
}

// Validate implements Sensor.
func (e *Engine) Validate(ctx context.Context) error {
	if err := e.ValidateSchema(); err != nil {
		return err
	}
	if err := e.watcher.CheckConfig(ctx); err != nil {
		if !stderrors.Is(err, errors.ErrConfigValidation) {
			err = errors.ConfigValidation(err, "Engine", "Validate", "check config")
		}
		return err
	}
	e.MarkValidated()
	return nil
}

// Matches reports whether n satisfies both matchers.
func (e *Engine) Matches(n transport.Notification) bool {
	return e.watcher.KeyMatcher().Matches(n.ObjectKey) &&
		match.Optional(e.watcher.OpMatcher(), string(n.Operation))
}

// Run implements Sensor.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Begin(); err != nil {
		return err
	}
	defer e.End()

	e.Logger().Info("Sensor started",
		"key_matcher", e.watcher.KeyMatcher().String(),
		"op_matcher", e.watcher.OpMatcher().String())

	n, ok, err := e.watcher.Precheck(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.Terminate("cancelled")
			return nil
		}
		e.Terminate("precheck failed")
		return err
	}
	if ok && e.Trigger(ctx, e.watcher.Payload(n)) {
		return nil
	}

	tr, err := e.watcher.NewTransport()
	if err != nil {
		e.Terminate("transport creation failed")
		if !stderrors.Is(err, errors.ErrTransportBind) {
			err = errors.TransportBind(err, "Engine", "Run", "create transport")
		}
		return err
	}
	defer e.cleanup(tr)

	if err := tr.Bind(ctx); err != nil {
		if ctx.Err() != nil {
			e.Terminate("cancelled")
			return nil
		}
		e.Terminate("bind failed")
		if !stderrors.Is(err, errors.ErrTransportBind) {
			err = errors.TransportBind(err, "Engine", "Run", "bind transport")
		}
		return err
	}
	e.recordTransport(tr)

	return e.loop(ctx, tr)
}

func (e *Engine) loop(ctx context.Context, tr transport.Transport) error {
	name := e.Meta().Name
	for {
		start := time.Now()
		n, err := tr.Receive(ctx)
		e.Metrics().RecordReceiveDuration(name, time.Since(start))

		switch {
		case err == nil:
		case stderrors.Is(err, transport.ErrEndOfStream):
			e.recordTransport(tr)
			if ctx.Err() != nil {
				e.Terminate("cancelled")
			} else {
				e.Terminate("end of stream")
			}
			return nil
		case stderrors.Is(err, errors.ErrMalformedNotification):
			e.Metrics().RecordSkipped(name, "malformed")
			e.Logger().Warn("Skipping malformed notification", "error", err)
			continue
		default:
			e.Logger().Error("Notification receive failed", "error", err)
			e.Terminate("receive failed")
			if !stderrors.Is(err, errors.ErrTransportReceive) {
				err = errors.TransportReceive(err, "Engine", "Run", "receive notification")
			}
			return err
		}

		op := string(n.Operation)
		e.Metrics().RecordReceived(name, op)
		e.Logger().Debug("Received notification", "key", n.ObjectKey, "operation", op)

		if !e.Matches(n) {
			e.Metrics().RecordSkipped(name, "no_match")
			continue
		}
		e.Metrics().RecordMatched(name, op)

		if e.Trigger(ctx, e.watcher.Payload(n)) {
			return nil
		}
	}
}

// cleanup runs with its own deadline so it still works after ctx is
// cancelled. Failures are logged only.
func (e *Engine) cleanup(tr transport.Transport) {
	ctx, cancel := context.WithTimeout(context.Background(), e.cleanupTimeout)
	defer cancel()

	if err := tr.Cleanup(ctx); err != nil {
		e.Logger().Error("Transport cleanup failed", "transport", tr.Name(), "error", err)
	} else {
		e.Logger().Debug("Transport cleaned up", "transport", tr.Name())
	}
	e.recordTransport(tr)
}

func (e *Engine) recordTransport(tr transport.Transport) {
	e.Metrics().RecordTransportState(e.Meta().Name, tr.Name(), int(tr.State()))
}
