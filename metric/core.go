package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "semsensors"

// Metrics contains the runtime-level sensor metrics
type Metrics struct {
	SensorState           *prometheus.GaugeVec
	NotificationsReceived *prometheus.CounterVec
	NotificationsMatched  *prometheus.CounterVec
	NotificationsSkipped  *prometheus.CounterVec
	Triggers              *prometheus.CounterVec
	SinkErrors            *prometheus.CounterVec
	TransportState        *prometheus.GaugeVec
	ReceiveDuration       *prometheus.HistogramVec

	NATSConnected prometheus.Gauge
}

// NewMetrics creates the core sensor metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SensorState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "sensor",
				Name:      "state",
				Help:      "Sensor state (0=constructed, 1=validated, 2=running, 3=terminating, 4=ended)",
			},
			[]string{"sensor"},
		),

		NotificationsReceived: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "received_total",
				Help:      "Notifications received from the transport",
			},
			[]string{"sensor", "operation"},
		),

		NotificationsMatched: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "matched_total",
				Help:      "Notifications that satisfied the key and operation matchers",
			},
			[]string{"sensor", "operation"},
		),

		NotificationsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "notifications",
				Name:      "skipped_total",
				Help:      "Notifications dropped without matching",
			},
			[]string{"sensor", "reason"},
		),

		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sensor",
				Name:      "triggers_total",
				Help:      "Trigger events pushed to the sink",
			},
			[]string{"sensor", "operation"},
		),

		SinkErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "sink",
				Name:      "errors_total",
				Help:      "Failed event pushes",
			},
			[]string{"sink"},
		),

		TransportState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "state",
				Help:      "Transport state (0=unbound, 1=bound, 2=draining, 3=closed)",
			},
			[]string{"sensor", "transport"},
		),

		ReceiveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "transport",
				Name:      "receive_duration_seconds",
				Help:      "Time spent blocked in a single receive",
				Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 300},
			},
			[]string{"sensor"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SensorState,
		m.NotificationsReceived,
		m.NotificationsMatched,
		m.NotificationsSkipped,
		m.Triggers,
		m.SinkErrors,
		m.TransportState,
		m.ReceiveDuration,
		m.NATSConnected,
	}
}

// The Record methods are no-ops on a nil *Metrics so sensors can run without
// a registry.

// RecordSensorState records a sensor lifecycle state
func (m *Metrics) RecordSensorState(sensor string, state int) {
	if m == nil {
		return
	}
	m.SensorState.WithLabelValues(sensor).Set(float64(state))
}

// RecordReceived records a notification read from the transport
func (m *Metrics) RecordReceived(sensor, operation string) {
	if m == nil {
		return
	}
	m.NotificationsReceived.WithLabelValues(sensor, operation).Inc()
}

// RecordMatched records a notification that passed the matchers
func (m *Metrics) RecordMatched(sensor, operation string) {
	if m == nil {
		return
	}
	m.NotificationsMatched.WithLabelValues(sensor, operation).Inc()
}

// RecordSkipped records a dropped notification and why
func (m *Metrics) RecordSkipped(sensor, reason string) {
	if m == nil {
		return
	}
	m.NotificationsSkipped.WithLabelValues(sensor, reason).Inc()
}

// RecordTrigger records an emitted trigger event
func (m *Metrics) RecordTrigger(sensor, operation string) {
	if m == nil {
		return
	}
	m.Triggers.WithLabelValues(sensor, operation).Inc()
}

// RecordSinkError records a failed push
func (m *Metrics) RecordSinkError(sink string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(sink).Inc()
}

// RecordTransportState records a transport state transition
func (m *Metrics) RecordTransportState(sensor, transport string, state int) {
	if m == nil {
		return
	}
	m.TransportState.WithLabelValues(sensor, transport).Set(float64(state))
}

// RecordReceiveDuration records how long one receive blocked
func (m *Metrics) RecordReceiveDuration(sensor string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReceiveDuration.WithLabelValues(sensor).Observe(d.Seconds())
}

// SetNATSConnected records the NATS connection health
func (m *Metrics) SetNATSConnected(connected bool) {
	if m == nil {
		return
	}
	if connected {
		m.NATSConnected.Set(1)
		return
	}
	m.NATSConnected.Set(0)
}
