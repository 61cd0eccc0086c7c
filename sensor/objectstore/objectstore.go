// Package objectstore implements the storage sensor: it watches a NATS
// JetStream object store bucket and triggers when an object whose key
// matches the configured pattern is created, modified or deleted.
package objectstore

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/match"
	"github.com/c360/semsensors/pkg/retry"
	"github.com/c360/semsensors/pkg/tlsutil"
	"github.com/c360/semsensors/sensor"
	"github.com/c360/semsensors/transport"
)

// Notification transports.
const (
	TransportJetStream = "jetstream"
	TransportMQTT      = "mqtt"
)

// Metadata describes the objectstore sensor type.
var Metadata = sensor.Metadata{
	Name:        "objectstore",
	Description: "Triggers on object changes in a JetStream object store bucket",
	SchemaDir:   "objectstore",
}

// BucketConfig identifies the watched bucket.
type BucketConfig struct {
	Name    string `json:"name"`
	Account string `json:"account,omitempty"`
}

// MQTTConfig selects the MQTT topic carrying the bucket's event records.
type MQTTConfig struct {
	Broker   string `json:"broker"`
	Topic    string `json:"topic"`
	ClientID string `json:"client_id,omitempty"`
	QoS      byte   `json:"qos,omitempty"`

	TLS *tlsutil.ClientConfig `json:"tls,omitempty"`
}

// JetStreamConfig tunes the JetStream notification consumer.
type JetStreamConfig struct {
	ConsumerPrefix  string `json:"consumer_prefix,omitempty"`
	LongPollSeconds int    `json:"long_poll_seconds,omitempty"`
}

// Config is the decoded objectstore sensor configuration.
type Config struct {
	Bucket                    BucketConfig          `json:"bucket"`
	KeyMatcher                match.Spec            `json:"key_matcher"`
	OpMatcher                 *match.Spec           `json:"op_matcher,omitempty"`
	TriggerOnExistingFile     bool                  `json:"trigger_on_existing_file,omitempty"`
	ExistingFileMaxAgeMinutes float64               `json:"existing_file_max_age_minutes,omitempty"`
	NotificationTransport     string                `json:"notification_transport"`
	MQTT                      *MQTTConfig           `json:"mqtt,omitempty"`
	JetStream                 JetStreamConfig       `json:"jetstream,omitempty"`
	Standard                  sensor.StandardConfig `json:"standard,omitempty"`
}

// MaxAge returns the existing object age limit, zero when unset.
func (c Config) MaxAge() time.Duration {
	return time.Duration(c.ExistingFileMaxAgeMinutes * float64(time.Minute))
}

// Bucket is the part of an object store the precheck reads.
type Bucket interface {
	GetInfo(ctx context.Context, name string, opts ...jetstream.GetObjectInfoOpt) (*jetstream.ObjectInfo, error)
}

// Sensor is the objectstore sensor.
type Sensor struct {
	*sensor.Engine
	w *watcher
}

// Register adds the objectstore sensor type to r.
func Register(r *sensor.Registry) error {
	return r.Register(sensor.Registration{Metadata: Metadata, Factory: New})
}

// New is the sensor.Factory for the objectstore type.
func New(raw map[string]any, deps sensor.Dependencies) (sensor.Sensor, error) {
	return newSensor(raw, deps), nil
}

func newSensor(raw map[string]any, deps sensor.Dependencies) *Sensor {
	base := sensor.NewBase(Metadata, raw, deps)
	w := &watcher{base: base, now: time.Now, retry: retry.Quick()}
	w.openBucket = w.natsBucket
	w.newTransport = w.defaultTransport
	return &Sensor{Engine: sensor.NewEngine(base, w), w: w}
}

// Config returns the decoded configuration. Valid after Validate.
func (s *Sensor) Config() Config {
	return s.w.cfg
}

type watcher struct {
	base *sensor.Base
	cfg  Config
	key  *match.Matcher
	op   *match.Matcher

	openBucket   func(ctx context.Context, name string) (Bucket, error)
	newTransport func() (transport.Transport, error)
	now          func() time.Time
	retry        retry.Config
	mqttTLS      *tls.Config
}

func (w *watcher) natsBucket(ctx context.Context, name string) (Bucket, error) {
	client := w.base.Dependencies().NATSClient
	if client == nil {
		return nil, fmt.Errorf("no NATS client configured")
	}
	return client.ObjectStore(ctx, name)
}

func (w *watcher) CheckConfig(ctx context.Context) error {
	var cfg Config
	if err := sensor.DecodeConfig(w.base.Config(), &cfg); err != nil {
		return err
	}

	key, err := match.Compile(cfg.KeyMatcher)
	if err != nil {
		return err
	}
	var op *match.Matcher
	if cfg.OpMatcher != nil {
		if op, err = match.Compile(*cfg.OpMatcher); err != nil {
			return err
		}
	}

	if cfg.TriggerOnExistingFile && key.Type() != match.Exact {
		return errors.ConfigValidationf("objectstore", "CheckConfig",
			"trigger_on_existing_file requires an exact key_matcher, got %s", key.Type())
	}
	switch cfg.NotificationTransport {
	case TransportJetStream:
	case TransportMQTT:
		if cfg.MQTT == nil {
			return errors.ConfigValidationf("objectstore", "CheckConfig",
				"notification_transport mqtt requires an mqtt section")
		}
		tlsConfig, err := tlsutil.LoadClientConfig(cfg.MQTT.TLS)
		if err != nil {
			return errors.ConfigValidation(err, "objectstore", "CheckConfig", "load mqtt tls")
		}
		w.mqttTLS = tlsConfig
	default:
		return errors.ConfigValidationf("objectstore", "CheckConfig",
			"unknown notification_transport %q", cfg.NotificationTransport)
	}

	if cfg.TriggerOnExistingFile {
		if _, err := w.openBucket(ctx, cfg.Bucket.Name); err != nil {
			return errors.ConfigValidation(err, "objectstore", "CheckConfig",
				fmt.Sprintf("reach bucket %s", cfg.Bucket.Name))
		}
	}

	w.cfg, w.key, w.op = cfg, key, op
	return nil
}

// Precheck triggers on an object already stored under the exact key when
// trigger_on_existing_file is set and the object is young enough.
func (w *watcher) Precheck(ctx context.Context) (transport.Notification, bool, error) {
	if !w.cfg.TriggerOnExistingFile {
		return transport.Notification{}, false, nil
	}
	logger := w.base.Logger()
	key := w.key.Pattern()

	bucket, err := w.openBucket(ctx, w.cfg.Bucket.Name)
	if err != nil {
		return transport.Notification{}, false, errors.WrapTransient(err, "objectstore", "Precheck", "open bucket")
	}
	info, err := retry.DoWithResult(ctx, w.retry, func() (*jetstream.ObjectInfo, error) {
		info, err := bucket.GetInfo(ctx, key)
		if stderrors.Is(err, jetstream.ErrObjectNotFound) {
			return nil, retry.NonRetryable(err)
		}
		return info, err
	})
	if stderrors.Is(err, jetstream.ErrObjectNotFound) {
		logger.Debug("No existing object", "key", key)
		return transport.Notification{}, false, nil
	}
	if err != nil {
		return transport.Notification{}, false, errors.WrapTransient(err, "objectstore", "Precheck", "get object info")
	}

	if maxAge := w.cfg.MaxAge(); maxAge > 0 {
		if age := w.now().Sub(info.ModTime); age > maxAge {
			logger.Info("Existing object older than limit, not triggering",
				"key", key, "age", age.Round(time.Second), "max_age", maxAge)
			return transport.Notification{}, false, nil
		}
	}

	logger.Info("Found existing object", "key", key, "size", info.Size)
	return transport.Notification{ObjectKey: key, Operation: transport.OpExists}, true, nil
}

func (w *watcher) NewTransport() (transport.Transport, error) {
	return w.newTransport()
}

func (w *watcher) defaultTransport() (transport.Transport, error) {
	logger := w.base.Logger()
	switch w.cfg.NotificationTransport {
	case TransportJetStream:
		client := w.base.Dependencies().NATSClient
		if client == nil {
			return nil, fmt.Errorf("jetstream transport needs a NATS client")
		}
		return transport.NewJetStream(client, transport.JetStreamConfig{
			Bucket:         w.cfg.Bucket.Name,
			ConsumerPrefix: w.cfg.JetStream.ConsumerPrefix,
			LongPoll:       time.Duration(w.cfg.JetStream.LongPollSeconds) * time.Second,
		}, logger), nil
	case TransportMQTT:
		return transport.NewMQTT(transport.MQTTConfig{
			Broker:   w.cfg.MQTT.Broker,
			Topic:    w.cfg.MQTT.Topic,
			ClientID: w.cfg.MQTT.ClientID,
			QoS:      w.cfg.MQTT.QoS,
			Bucket:   w.cfg.Bucket.Name,
			TLS:      w.mqttTLS,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown notification_transport %q", w.cfg.NotificationTransport)
	}
}

func (w *watcher) KeyMatcher() *match.Matcher { return w.key }
func (w *watcher) OpMatcher() *match.Matcher  { return w.op }

func (w *watcher) Payload(n transport.Notification) map[string]any {
	return map[string]any{
		"watched_object": map[string]any{
			"container": map[string]any{
				"account": w.cfg.Bucket.Account,
				"name":    w.cfg.Bucket.Name,
			},
			"object_key": n.ObjectKey,
		},
		"operation": string(n.Operation),
	}
}
