// Package natsclient manages the NATS connection shared by sensors and sinks.
//
// # Overview
//
// Client wraps a *nats.Conn and its JetStream context. Connection attempts and
// JetStream calls go through a circuit breaker: after a threshold of
// consecutive failures the circuit opens and calls fail fast with
// ErrCircuitOpen until the backoff elapses. The backoff doubles on each new
// round of failures, up to the configured maximum.
//
// # Usage
//
//	client, err := natsclient.NewClient("nats://localhost:4222",
//	    natsclient.WithName("semsensor"),
//	    natsclient.WithSlog(logger),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := client.Connect(ctx); err != nil {
//	    return err
//	}
//	defer client.Close(context.Background())
//
//	store, err := client.ObjectStore(ctx, "landing")
//
// A missing bucket is reported as an invalid-class error and does not count
// toward the circuit breaker.
//
// # Testing
//
// TestClient starts a NATS server in a container (testcontainers) and returns
// a connected Client. Integration tests using it carry the "integration"
// build tag:
//
//	tc := natsclient.NewTestClient(t, natsclient.WithObjectBuckets("landing"))
//	store, _ := tc.Client.ObjectStore(ctx, "landing")
package natsclient
