// Package metric provides the Prometheus registry and HTTP endpoint for
// sensor monitoring.
//
// MetricsRegistry owns a private prometheus.Registry preloaded with the core
// sensor metrics (Metrics) and the Go/process collectors. Sinks and other
// components register their own collectors through MetricsRegistrar, keyed
// by "service.metric" so a second registration under the same key is
// rejected.
//
// # Usage
//
//	registry := metric.NewMetricsRegistry()
//	server := metric.NewServer(9090, "/metrics", registry)
//
//	g.Go(func() error { return server.Run(ctx) })
//
//	m := registry.CoreMetrics()
//	m.RecordReceived("objectstore", "created")
//
// The Record methods tolerate a nil *Metrics, so code paths that run without
// a registry (tests, the validate command) need no guards.
package metric
