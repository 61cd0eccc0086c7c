package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/c360/semsensors/config"
	"github.com/c360/semsensors/health"
	"github.com/c360/semsensors/metric"
	"github.com/c360/semsensors/natsclient"
	"github.com/c360/semsensors/schema"
	"github.com/c360/semsensors/sensor"
	"github.com/c360/semsensors/sensor/objectstore"
	"github.com/c360/semsensors/sensorregistry"
	"github.com/c360/semsensors/sink"
)

// loadRuntime loads the layered runtime config, applies flag overrides and
// installs the process logger.
func loadRuntime(flags *rootFlags, logOut io.Writer) (*config.Config, *slog.Logger, error) {
	loader := config.NewLoader()
	for _, path := range flags.configPaths {
		loader.AddLayer(path)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if flags.logLevel != "" {
		cfg.Log.Level = flags.logLevel
	}
	if flags.logFormat != "" {
		cfg.Log.Format = flags.logFormat
	}
	if flags.schemaRoot != "" {
		cfg.Schemas.Root = flags.schemaRoot
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format, logOut)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// session holds everything one sensor needs for validation or a run.
type session struct {
	cfg      *config.Config
	logger   *slog.Logger
	sensor   sensor.Sensor
	metrics  *metric.MetricsRegistry
	nats     *natsclient.Client
	journal  *sink.Journal
	ws       *sink.WebSocket
	sinkName string
}

type sessionOptions struct {
	sensorType string
	configPath string
	port       int
	withSinks  bool
}

func newSession(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts sessionOptions) (*session, error) {
	registry, err := sensorregistry.New()
	if err != nil {
		return nil, err
	}
	if _, err := registry.Lookup(opts.sensorType); err != nil {
		return nil, err
	}

	raw, err := config.LoadSensorConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	s := &session{cfg: cfg, logger: logger, metrics: metric.NewMetricsRegistry()}

	if needsNATS(opts.sensorType, raw, cfg, opts.withSinks) {
		if s.nats, err = connectNATS(ctx, cfg.NATS, logger, s.metrics.CoreMetrics()); err != nil {
			return nil, err
		}
	}

	var eventSink sensor.Sink = sink.NewLog(logger)
	if opts.withSinks {
		if eventSink, err = s.buildSinks(); err != nil {
			s.Close()
			return nil, err
		}
	}
	s.sinkName = eventSink.Name()

	deps := sensor.Dependencies{
		MetricsRegistry: s.metrics,
		Logger:          logger,
		Schemas:         sensor.NewSchemas(cfg.Schemas.Root, schema.NewCache()),
		Sink:            eventSink,
		Port:            opts.port,
		NATSClient:      s.nats,
	}

	if s.sensor, err = registry.Create(opts.sensorType, raw, deps); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// healthMonitor reports the sensor lifecycle state and, when connected, the
// NATS connection.
func (s *session) healthMonitor() *health.Monitor {
	monitor := health.NewMonitor(appName)
	monitor.Register("sensor", func() health.Status {
		return sensorHealth(s.sensor.State())
	})
	if s.nats != nil {
		monitor.Register("nats", func() health.Status {
			return natsHealth(s.nats.GetStatus())
		})
	}
	return monitor
}

// natsHealth maps the connection status onto a health check. Reconnecting
// is degraded; an open circuit or a closed connection is unhealthy.
func natsHealth(status *natsclient.Status) health.Status {
	message := status.Status.String()
	if status.FailureCount > 0 {
		message = fmt.Sprintf("%s, %d failures", message, status.FailureCount)
	}
	switch status.Status {
	case natsclient.StatusConnected:
		if status.RTT > 0 {
			message = fmt.Sprintf("%s, rtt %s", message, status.RTT)
		}
		return health.NewHealthy("nats", message)
	case natsclient.StatusReconnecting, natsclient.StatusConnecting:
		return health.NewDegraded("nats", message)
	default:
		return health.NewUnhealthy("nats", message)
	}
}

func sensorHealth(state sensor.State) health.Status {
	switch state {
	case sensor.StateRunning, sensor.StateValidated:
		return health.NewHealthy("sensor", state.String())
	case sensor.StateTerminating:
		return health.NewDegraded("sensor", state.String())
	default:
		return health.NewUnhealthy("sensor", state.String())
	}
}

// buildSinks assembles the configured sinks behind a Multi. The log sink is
// always first.
func (s *session) buildSinks() (sensor.Sink, error) {
	sinks := sink.Multi{sink.NewLog(s.logger)}
	cfg := s.cfg.Sinks

	if cfg.NATS.Enabled && s.nats != nil {
		sinks = append(sinks, sink.NewNATS(s.nats, cfg.NATS.SubjectPrefix))
	}
	if cfg.Journal.Path != "" {
		journal, err := sink.OpenJournal(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		s.journal = journal
		sinks = append(sinks, journal)
	}
	if cfg.WebSocket.Enabled {
		s.ws = sink.NewWebSocket(cfg.WebSocket.Port, cfg.WebSocket.Path, s.logger)
		sinks = append(sinks, s.ws)
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return sinks, nil
}

// Close releases the NATS connection and the journal.
func (s *session) Close() {
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("Failed to close journal", "error", err)
		}
	}
	if s.nats != nil {
		timeout := 10 * time.Second
		if d := s.cfg.NATS.DrainTimeoutDuration(); d > 0 {
			timeout = d + time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := s.nats.Close(ctx); err != nil {
			s.logger.Warn("Failed to close NATS connection", "error", err)
		}
	}
}

// needsNATS reports whether the sensor or the sinks use the NATS connection.
// Validation alone needs it only to reach the bucket of an existing-object
// check.
func needsNATS(sensorType string, raw map[string]any, cfg *config.Config, running bool) bool {
	if running && cfg.Sinks.NATS.Enabled {
		return true
	}
	if sensorType != objectstore.Metadata.Name {
		return false
	}
	if existing, _ := raw["trigger_on_existing_file"].(bool); existing {
		return true
	}
	transport, _ := raw["notification_transport"].(string)
	return running && transport != objectstore.TransportMQTT
}

// connectNATS establishes the NATS connection and waits for it to be ready
func connectNATS(ctx context.Context, cfg config.NATSConfig, logger *slog.Logger, metrics *metric.Metrics) (*natsclient.Client, error) {
	name := cfg.Name
	if name == "" {
		name = appName
	}
	opts := []natsclient.ClientOption{
		natsclient.WithSlog(logger),
		natsclient.WithName(name),
		natsclient.WithMaxReconnects(cfg.MaxReconnects),
		natsclient.WithHealthChangeCallback(metrics.SetNATSConnected),
		natsclient.WithDisconnectCallback(func(err error) {
			logger.Warn("NATS disconnected", "error", err)
		}),
		natsclient.WithReconnectCallback(func() {
			logger.Info("NATS reconnected")
		}),
	}
	if d := cfg.ReconnectWaitDuration(); d > 0 {
		opts = append(opts, natsclient.WithReconnectWait(d))
	}
	if d := cfg.TimeoutDuration(); d > 0 {
		opts = append(opts, natsclient.WithTimeout(d))
	}
	if d := cfg.DrainTimeoutDuration(); d > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(d))
	}
	if d := cfg.MaxBackoffDuration(); d > 0 {
		opts = append(opts, natsclient.WithMaxBackoff(d))
	}
	if cfg.Username != "" {
		opts = append(opts, natsclient.WithCredentials(cfg.Username, cfg.Password))
	}
	if cfg.Token != "" {
		opts = append(opts, natsclient.WithToken(cfg.Token))
	}
	if cfg.TLS != nil {
		opts = append(opts, natsclient.WithTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.CAFile))
	}

	client, err := natsclient.NewClient(strings.Join(cfg.URLs, ","), opts...)
	if err != nil {
		return nil, fmt.Errorf("create NATS client: %w", err)
	}

	logger.Info("Connecting to NATS", "urls", cfg.URLs)
	if err := client.Connect(ctx); err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.WaitForConnection(connCtx); err != nil {
		_ = client.Close(context.Background())
		return nil, fmt.Errorf("NATS connection timeout: %w", err)
	}
	metrics.SetNATSConnected(true)
	return client, nil
}
