package transport

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semsensors/errors"
)

// Defaults for JetStreamConfig.
const (
	DefaultConsumerPrefix    = "semsensor"
	DefaultLongPoll          = 30 * time.Second
	DefaultInactiveThreshold = 5 * time.Minute
)

// Stores opens object stores and exposes the JetStream context. It is
// satisfied by *natsclient.Client.
type Stores interface {
	ObjectStore(ctx context.Context, bucket string) (jetstream.ObjectStore, error)
	JetStream() (jetstream.JetStream, error)
}

// JetStreamConfig configures the JetStream transport.
type JetStreamConfig struct {
	Bucket            string
	ConsumerPrefix    string
	LongPoll          time.Duration
	InactiveThreshold time.Duration
}

func (c JetStreamConfig) withDefaults() JetStreamConfig {
	if c.ConsumerPrefix == "" {
		c.ConsumerPrefix = DefaultConsumerPrefix
	}
	if c.LongPoll <= 0 {
		c.LongPoll = DefaultLongPoll
	}
	if c.InactiveThreshold <= 0 {
		c.InactiveThreshold = DefaultInactiveThreshold
	}
	return c
}

// StreamName is the stream backing an object store bucket.
func StreamName(bucket string) string {
	return "OBJ_" + bucket
}

// MetaSubjects matches the metadata messages of every object in a bucket.
func MetaSubjects(bucket string) string {
	return fmt.Sprintf("$O.%s.M.>", bucket)
}

// JetStream reads object change notifications from the metadata subjects of
// an object store bucket through an ephemeral pull consumer.
type JetStream struct {
	cfg    JetStreamConfig
	stores Stores
	logger *slog.Logger
	lc     lifecycle

	js       jetstream.JetStream
	consumer string
	iter     jetstream.MessagesContext

	mu    sync.Mutex
	known map[string]struct{}
}

// NewJetStream creates an unbound JetStream transport.
func NewJetStream(stores Stores, cfg JetStreamConfig, logger *slog.Logger) *JetStream {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &JetStream{
		cfg:    cfg,
		stores: stores,
		logger: logger.With("component", "transport", "transport", "jetstream", "bucket", cfg.Bucket),
		known:  make(map[string]struct{}),
	}
}

// Name implements Transport.
func (t *JetStream) Name() string { return "jetstream" }

// State implements Transport.
func (t *JetStream) State() State { return t.lc.State() }

// ConsumerName returns the name of the bound consumer.
func (t *JetStream) ConsumerName() string { return t.consumer }

// Bind opens the bucket, records the objects already present, and starts a
// pull consumer that only delivers changes made from now on.
func (t *JetStream) Bind(ctx context.Context) error {
	if err := t.lc.beginBind(); err != nil {
		return errors.TransportBind(err, "JetStream", "Bind", "reserve bind")
	}

	store, err := t.stores.ObjectStore(ctx, t.cfg.Bucket)
	if err != nil {
		return errors.TransportBind(err, "JetStream", "Bind", fmt.Sprintf("open bucket %s", t.cfg.Bucket))
	}

	objects, err := store.List(ctx)
	if err != nil && !stderrors.Is(err, jetstream.ErrNoObjectsFound) {
		return errors.TransportBind(err, "JetStream", "Bind", "list existing objects")
	}
	t.mu.Lock()
	for _, info := range objects {
		t.known[info.Name] = struct{}{}
	}
	t.mu.Unlock()

	js, err := t.stores.JetStream()
	if err != nil {
		return errors.TransportBind(err, "JetStream", "Bind", "get jetstream context")
	}
	t.js = js

	name := fmt.Sprintf("%s-%s", t.cfg.ConsumerPrefix, uuid.NewString())
	consumer, err := js.CreateConsumer(ctx, StreamName(t.cfg.Bucket), jetstream.ConsumerConfig{
		Name:              name,
		FilterSubject:     MetaSubjects(t.cfg.Bucket),
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		InactiveThreshold: t.cfg.InactiveThreshold,
	})
	if err != nil {
		return errors.TransportBind(err, "JetStream", "Bind", "create consumer")
	}
	t.consumer = name

	iter, err := consumer.Messages(jetstream.PullExpiry(t.cfg.LongPoll))
	if err != nil {
		return errors.TransportBind(err, "JetStream", "Bind", "open message iterator")
	}
	t.iter = iter

	if !t.lc.bound() {
		return errors.TransportBind(fmt.Errorf("cleaned up during bind"), "JetStream", "Bind", "complete bind")
	}

	t.logger.Info("Bound notification consumer",
		"consumer", name, "known_objects", len(objects), "long_poll", t.cfg.LongPoll)
	return nil
}

// Receive blocks for the next notification. Messages are acknowledged as
// soon as they arrive.
func (t *JetStream) Receive(ctx context.Context) (Notification, error) {
	if err := t.lc.receivable(); err != nil {
		return Notification{}, err
	}
	if ctx.Err() != nil {
		t.lc.drain()
		return Notification{}, ErrEndOfStream
	}

	stop := context.AfterFunc(ctx, t.iter.Stop)
	msg, err := t.iter.Next()
	stop()
	if err != nil {
		if stderrors.Is(err, jetstream.ErrMsgIteratorClosed) || ctx.Err() != nil {
			t.lc.drain()
			return Notification{}, ErrEndOfStream
		}
		return Notification{}, errors.TransportReceive(err, "JetStream", "Receive", "next message")
	}

	if err := msg.Ack(); err != nil {
		t.logger.Warn("Failed to ack notification", "subject", msg.Subject(), "error", err)
	}

	return t.decode(msg.Data())
}

// decode turns an object metadata message into a notification and updates
// the set of known objects.
func (t *JetStream) decode(data []byte) (Notification, error) {
	var info jetstream.ObjectInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return Notification{}, errors.MalformedNotification(err, "JetStream", "Receive")
	}
	if info.Name == "" {
		return Notification{}, errors.MalformedNotification(fmt.Errorf("object info without name"), "JetStream", "Receive")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	_, seen := t.known[info.Name]
	switch {
	case info.Deleted:
		delete(t.known, info.Name)
		return Notification{ObjectKey: info.Name, Operation: OpDeleted}, nil
	case seen:
		return Notification{ObjectKey: info.Name, Operation: OpModified}, nil
	default:
		t.known[info.Name] = struct{}{}
		return Notification{ObjectKey: info.Name, Operation: OpCreated}, nil
	}
}

// Cleanup stops the iterator and deletes the consumer. Safe to call more
// than once and before Bind.
func (t *JetStream) Cleanup(ctx context.Context) error {
	if !t.lc.close() {
		return nil
	}
	if t.iter != nil {
		t.iter.Stop()
	}
	if t.js == nil || t.consumer == "" {
		return nil
	}

	err := t.js.DeleteConsumer(ctx, StreamName(t.cfg.Bucket), t.consumer)
	if err != nil && !stderrors.Is(err, jetstream.ErrConsumerNotFound) {
		return errors.WrapTransient(err, "JetStream", "Cleanup", fmt.Sprintf("delete consumer %s", t.consumer))
	}
	t.logger.Debug("Deleted notification consumer", "consumer", t.consumer)
	return nil
}
