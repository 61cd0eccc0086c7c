package sensor

import (
	"log/slog"

	"github.com/c360/semsensors/metric"
	"github.com/c360/semsensors/natsclient"
)

// Dependencies provides the external collaborators a sensor needs.
type Dependencies struct {
	NATSClient      *natsclient.Client      // NATS client for storage and transports (can be nil for sensors that do not need it)
	MetricsRegistry *metric.MetricsRegistry // Metrics registry for Prometheus (can be nil)
	Logger          *slog.Logger            // Structured logger (can be nil, defaults to slog.Default())
	Schemas         *Schemas                // Schema locations shared by all sensors
	Sink            Sink                    // Destination of trigger events
	Port            int                     // Listen port override for sensors serving HTTP; 0 keeps the configured port
}

// GetLogger returns the configured logger or a default logger if none is provided
func (d *Dependencies) GetLogger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// GetLoggerWithSensor returns a logger configured with sensor context
func (d *Dependencies) GetLoggerWithSensor(name string) *slog.Logger {
	return d.GetLogger().With("component", "sensor", "sensor", name)
}

// CoreMetrics returns the core metrics, or nil when no registry is set.
func (d *Dependencies) CoreMetrics() *metric.Metrics {
	if d.MetricsRegistry == nil {
		return nil
	}
	return d.MetricsRegistry.CoreMetrics()
}
