package sink

import (
	"context"
	"encoding/json"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/pkg/retry"
	"github.com/c360/semsensors/sensor"
)

// DefaultSubjectPrefix is prepended to the sensor name to form the publish
// subject.
const DefaultSubjectPrefix = "semsensor.events"

// Publisher publishes raw messages. *natsclient.Client implements it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATS publishes each event as JSON on <prefix>.<sensor>. Failed publishes
// are retried with retry.Quick.
type NATS struct {
	pub    Publisher
	prefix string
	retry  retry.Config
}

// NewNATS returns a NATS sink. An empty prefix uses DefaultSubjectPrefix.
func NewNATS(pub Publisher, prefix string) *NATS {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATS{pub: pub, prefix: prefix, retry: retry.Quick()}
}

func (n *NATS) Name() string { return "nats" }

// Subject returns the subject events of the named sensor are published on.
func (n *NATS) Subject(sensorName string) string {
	return n.prefix + "." + sensorName
}

func (n *NATS) Push(ctx context.Context, e sensor.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "NATSSink", "Push", "marshal event")
	}
	subject := n.Subject(e.Sensor)
	err = retry.Do(ctx, n.retry, func() error {
		return n.pub.Publish(ctx, subject, data)
	})
	if err != nil {
		return errors.WrapTransient(err, "NATSSink", "Push", "publish event")
	}
	return nil
}
