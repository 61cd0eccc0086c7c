// Package transport delivers object change notifications from a bucket's
// notification channel to a sensor.
//
// A Transport moves through Unbound, Bound, Draining and Closed. Bind is
// allowed once; Receive is valid while Bound or Draining; Cleanup is
// idempotent and always ends in Closed.
//
// Two implementations exist: JetStream consumes the object-store metadata
// stream of a NATS JetStream bucket, and MQTT consumes S3-style bucket event
// records published to an MQTT topic.
package transport

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
)

// Operation names what happened to an object.
type Operation string

// Operations reported in notifications. OpExists is produced by the existing
// object precheck, never by a transport.
const (
	OpExists   Operation = "exists"
	OpCreated  Operation = "created"
	OpModified Operation = "modified"
	OpDeleted  Operation = "deleted"
)

// Notification is one decoded change event.
type Notification struct {
	ObjectKey string
	Operation Operation
}

// State of a transport.
type State int32

const (
	Unbound State = iota
	Bound
	Draining
	Closed
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Bound:
		return "bound"
	case Draining:
		return "draining"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

var (
	// ErrEndOfStream is returned by Receive when the channel closed or the
	// context was cancelled. It is a normal termination.
	ErrEndOfStream = stderrors.New("end of notification stream")

	// ErrNotBound is returned by Receive outside Bound and Draining.
	ErrNotBound = stderrors.New("transport not bound")

	// ErrAlreadyBound is returned by a second Bind.
	ErrAlreadyBound = stderrors.New("transport already bound")
)

// Transport is a bound notification channel.
type Transport interface {
	// Name identifies the transport kind in logs and metrics.
	Name() string
	Bind(ctx context.Context) error
	Receive(ctx context.Context) (Notification, error)
	Cleanup(ctx context.Context) error
	State() State
}

// lifecycle is the state machine shared by the implementations.
type lifecycle struct {
	mu      sync.Mutex
	state   State
	binding bool
}

func (l *lifecycle) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// beginBind reserves the single Bind call.
func (l *lifecycle) beginBind() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Unbound || l.binding {
		return fmt.Errorf("%w (state %s)", ErrAlreadyBound, l.state)
	}
	l.binding = true
	return nil
}

// bound completes Bind unless Cleanup ran concurrently.
func (l *lifecycle) bound() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state != Unbound {
		return false
	}
	l.state = Bound
	return true
}

func (l *lifecycle) drain() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Bound {
		l.state = Draining
	}
}

// close moves to Closed and reports whether this call did it.
func (l *lifecycle) close() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Closed {
		return false
	}
	l.state = Closed
	return true
}

func (l *lifecycle) receivable() error {
	switch s := l.State(); s {
	case Bound, Draining:
		return nil
	default:
		return fmt.Errorf("%w (state %s)", ErrNotBound, s)
	}
}
