package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/c360/semsensors/errors"
)

const (
	defaultConnectTimeout  = 10 * time.Second
	disconnectQuiesceMilli = 250
)

// MQTTConfig configures the MQTT transport.
type MQTTConfig struct {
	Broker   string
	Topic    string
	ClientID string
	QoS      byte
	// Bucket drops records for any other bucket. Empty accepts all.
	Bucket         string
	ConnectTimeout time.Duration
	// TLS is used for ssl://, tls:// and wss:// brokers.
	TLS *tls.Config
}

// MQTT reads S3-style bucket event records from an MQTT topic.
type MQTT struct {
	cfg    MQTTConfig
	logger *slog.Logger
	lc     lifecycle

	newClient func(*mqtt.ClientOptions) mqtt.Client
	client    mqtt.Client

	// The paho router must not block, so payloads queue here unbounded and
	// ready is signalled on each arrival.
	mu       sync.Mutex
	queue    [][]byte
	ready    chan struct{}
	done     chan struct{}
	doneOnce sync.Once

	pending []Notification
}

// NewMQTT creates an unbound MQTT transport.
func NewMQTT(cfg MQTTConfig, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "semsensor-" + uuid.NewString()[:8]
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &MQTT{
		cfg:       cfg,
		logger:    logger.With("component", "transport", "transport", "mqtt", "topic", cfg.Topic),
		newClient: mqtt.NewClient,
		ready:     make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

// Name implements Transport.
func (t *MQTT) Name() string { return "mqtt" }

// State implements Transport.
func (t *MQTT) State() State { return t.lc.State() }

// Bind connects to the broker and subscribes to the topic. It gives up at
// the connect timeout or when ctx ends, and a client that did not finish
// binding is disconnected before Bind returns.
func (t *MQTT) Bind(ctx context.Context) error {
	if err := t.lc.beginBind(); err != nil {
		return errors.TransportBind(err, "MQTT", "Bind", "reserve bind")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(t.cfg.Broker).
		SetClientID(t.cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetConnectionLostHandler(t.connectionLost)
	if t.cfg.TLS != nil {
		opts.SetTLSConfig(t.cfg.TLS)
	}

	client := t.newClient(opts)
	if err := t.await(ctx, client.Connect(), fmt.Sprintf("connect to %s", t.cfg.Broker)); err != nil {
		client.Disconnect(0)
		return err
	}

	if err := t.await(ctx, client.Subscribe(t.cfg.Topic, t.cfg.QoS, t.handle),
		fmt.Sprintf("subscribe to %s", t.cfg.Topic)); err != nil {
		client.Disconnect(disconnectQuiesceMilli)
		return err
	}

	t.client = client
	if !t.lc.bound() {
		client.Disconnect(disconnectQuiesceMilli)
		return errors.TransportBind(fmt.Errorf("cleaned up during bind"), "MQTT", "Bind", "complete bind")
	}
	t.logger.Info("Subscribed to bucket events", "broker", t.cfg.Broker, "qos", t.cfg.QoS)
	return nil
}

// await waits for token to complete.
func (t *MQTT) await(ctx context.Context, token mqtt.Token, action string) error {
	timer := time.NewTimer(t.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return errors.TransportBind(err, "MQTT", "Bind", action)
		}
		return nil
	case <-timer.C:
		return errors.TransportBind(fmt.Errorf("timed out after %s", t.cfg.ConnectTimeout), "MQTT", "Bind", action)
	case <-ctx.Done():
		return errors.TransportBind(ctx.Err(), "MQTT", "Bind", action)
	}
}

func (t *MQTT) handle(_ mqtt.Client, msg mqtt.Message) {
	t.mu.Lock()
	t.queue = append(t.queue, msg.Payload())
	t.mu.Unlock()

	select {
	case t.ready <- struct{}{}:
	default:
	}
}

func (t *MQTT) dequeue() ([]byte, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.queue) == 0 {
		return nil, false
	}
	payload := t.queue[0]
	t.queue = t.queue[1:]
	return payload, true
}

func (t *MQTT) connectionLost(_ mqtt.Client, err error) {
	t.logger.Warn("MQTT connection lost", "error", err)
	t.finish()
}

func (t *MQTT) finish() {
	t.doneOnce.Do(func() { close(t.done) })
}

// Receive returns the next notification. Queued messages are still
// delivered after the connection is lost; then ErrEndOfStream.
func (t *MQTT) Receive(ctx context.Context) (Notification, error) {
	if err := t.lc.receivable(); err != nil {
		return Notification{}, err
	}

	for {
		if len(t.pending) > 0 {
			n := t.pending[0]
			t.pending = t.pending[1:]
			return n, nil
		}

		payload, err := t.next(ctx)
		if err != nil {
			return Notification{}, err
		}

		notes, err := DecodeS3Event(payload, t.cfg.Bucket, t.logger)
		if err != nil {
			return Notification{}, err
		}
		if len(notes) == 0 {
			t.logger.Debug("Ignoring event with no matching records")
			continue
		}
		t.pending = notes[1:]
		return notes[0], nil
	}
}

func (t *MQTT) next(ctx context.Context) ([]byte, error) {
	for {
		if payload, ok := t.dequeue(); ok {
			return payload, nil
		}

		select {
		case <-t.ready:
		case <-t.done:
			t.lc.drain()
			if payload, ok := t.dequeue(); ok {
				return payload, nil
			}
			return nil, ErrEndOfStream
		case <-ctx.Done():
			t.lc.drain()
			return nil, ErrEndOfStream
		}
	}
}

// Cleanup unsubscribes and disconnects.
func (t *MQTT) Cleanup(_ context.Context) error {
	if !t.lc.close() {
		return nil
	}
	t.finish()
	if t.client == nil {
		return nil
	}

	var err error
	if t.client.IsConnected() {
		token := t.client.Unsubscribe(t.cfg.Topic)
		if token.WaitTimeout(t.cfg.ConnectTimeout) {
			err = token.Error()
		}
	}
	t.client.Disconnect(disconnectQuiesceMilli)
	if err != nil {
		return errors.WrapTransient(err, "MQTT", "Cleanup", fmt.Sprintf("unsubscribe from %s", t.cfg.Topic))
	}
	return nil
}

// s3Event is the S3 bucket notification envelope used by AWS and MinIO.
type s3Event struct {
	Records []struct {
		EventName string `json:"eventName"`
		S3        struct {
			Bucket struct {
				Name string `json:"name"`
			} `json:"bucket"`
			Object struct {
				Key string `json:"key"`
			} `json:"object"`
		} `json:"s3"`
	} `json:"Records"`
}

// DecodeS3Event decodes an S3 event message. Records for buckets other than
// bucket and event kinds other than creation and removal are skipped. A
// record without a usable object key is logged and skipped; its siblings are
// still returned.
func DecodeS3Event(data []byte, bucket string, logger *slog.Logger) ([]Notification, error) {
	var event s3Event
	if err := json.Unmarshal(data, &event); err != nil {
		return nil, errors.MalformedNotification(err, "MQTT", "Receive")
	}
	if len(event.Records) == 0 {
		return nil, errors.MalformedNotification(fmt.Errorf("no Records in event"), "MQTT", "Receive")
	}
	if logger == nil {
		logger = slog.Default()
	}

	var out []Notification
	for i, rec := range event.Records {
		if bucket != "" && rec.S3.Bucket.Name != bucket {
			continue
		}
		name := strings.TrimPrefix(rec.EventName, "s3:")
		var op Operation
		switch {
		case strings.HasPrefix(name, "ObjectCreated:"):
			op = OpCreated
		case strings.HasPrefix(name, "ObjectRemoved:"):
			op = OpDeleted
		default:
			continue
		}
		key, err := url.QueryUnescape(rec.S3.Object.Key)
		if err == nil && key == "" {
			err = fmt.Errorf("record without object key")
		}
		if err != nil {
			logger.Warn("Skipping event record", "record", i, "event", rec.EventName, "error", err)
			continue
		}
		out = append(out, Notification{ObjectKey: key, Operation: op})
	}
	return out, nil
}
