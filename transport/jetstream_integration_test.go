//go:build integration

package transport

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/natsclient"
)

func TestIntegration_JetStreamNotifications(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithObjectBuckets("landing"))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := tc.Client.ObjectStore(ctx, "landing")
	require.NoError(t, err)
	_, err = store.Put(ctx, jetstream.ObjectMeta{Name: "before.csv"}, bytes.NewReader([]byte("x")))
	require.NoError(t, err)

	tr := NewJetStream(tc.Client, JetStreamConfig{Bucket: "landing", LongPoll: time.Second}, nil)
	require.NoError(t, tr.Bind(ctx))
	defer func() { _ = tr.Cleanup(context.Background()) }()

	_, err = store.Put(ctx, jetstream.ObjectMeta{Name: "incoming/a.csv"}, bytes.NewReader([]byte("a,b\n")))
	require.NoError(t, err)
	_, err = store.Put(ctx, jetstream.ObjectMeta{Name: "before.csv"}, bytes.NewReader([]byte("y")))
	require.NoError(t, err)
	require.NoError(t, store.Delete(ctx, "incoming/a.csv"))

	want := []Notification{
		{ObjectKey: "incoming/a.csv", Operation: OpCreated},
		{ObjectKey: "before.csv", Operation: OpModified},
		{ObjectKey: "incoming/a.csv", Operation: OpDeleted},
	}
	for _, w := range want {
		n, err := tr.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, w, n)
	}

	name := tr.ConsumerName()
	require.NoError(t, tr.Cleanup(ctx))

	js, err := tc.Client.JetStream()
	require.NoError(t, err)
	_, err = js.Consumer(ctx, StreamName("landing"), name)
	assert.ErrorIs(t, err, jetstream.ErrConsumerNotFound)
}

func TestIntegration_JetStreamCancelEndsStream(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithObjectBuckets("landing"))

	tr := NewJetStream(tc.Client, JetStreamConfig{Bucket: "landing", LongPoll: time.Second}, nil)
	require.NoError(t, tr.Bind(context.Background()))
	defer func() { _ = tr.Cleanup(context.Background()) }()

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := tr.Receive(ctx)
	assert.ErrorIs(t, err, ErrEndOfStream)
	assert.Equal(t, Draining, tr.State())
}

func TestIntegration_JetStreamMissingBucket(t *testing.T) {
	tc := natsclient.NewTestClient(t, natsclient.WithJetStream())

	tr := NewJetStream(tc.Client, JetStreamConfig{Bucket: "nosuch"}, nil)
	err := tr.Bind(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, pkgerrors.ErrTransportBind)
	assert.Equal(t, Unbound, tr.State())
}
