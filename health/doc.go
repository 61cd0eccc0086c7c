// Package health aggregates component checks into one status.
//
// A Monitor holds named Check functions evaluated on every request, so the
// reported status is always current:
//
//	monitor := health.NewMonitor("semsensor")
//	monitor.Register("nats", func() health.Status {
//	    if client.IsHealthy() {
//	        return health.NewHealthy("nats", "connected")
//	    }
//	    return health.NewUnhealthy("nats", client.Status().String())
//	})
//	http.Handle("/health", monitor)
//
// The aggregate is unhealthy if any check is unhealthy, degraded if any is
// degraded and healthy otherwise. Messages of non-healthy statuses are
// sanitized: URLs, file paths, IP addresses, ports and credentials are
// masked before they reach the HTTP response.
package health
