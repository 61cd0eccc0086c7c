// Package api implements the HTTP sensor: every POST to the configured
// endpoint triggers an event carrying the request body.
package api

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/sensor"
)

// Defaults for the listening endpoint.
const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 8080
	DefaultPath = "/"

	// MaxBodyBytes caps the accepted request body.
	MaxBodyBytes = 1 << 20

	// OperationReceived is the operation of every api event.
	OperationReceived = "received"
)

const shutdownTimeout = 5 * time.Second

// Metadata describes the api sensor type.
var Metadata = sensor.Metadata{
	Name:        "api",
	Description: "Listens for HTTP POST requests and triggers with the request body",
	SchemaDir:   "api",
	HasInputs:   true,
}

// Config is the decoded api sensor configuration.
type Config struct {
	Host      string                `json:"host,omitempty"`
	Port      int                   `json:"port,omitempty"`
	Path      string                `json:"path,omitempty"`
	RateLimit *RateLimitConfig      `json:"rate_limit,omitempty"`
	Standard  sensor.StandardConfig `json:"standard,omitempty"`
}

// RateLimitConfig bounds accepted requests. Requests over the limit are
// answered 429 and do not trigger.
type RateLimitConfig struct {
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst,omitempty"`
}

func (c *RateLimitConfig) limiter() *rate.Limiter {
	if c == nil {
		return nil
	}
	burst := c.Burst
	if burst == 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(c.RequestsPerSecond), burst)
}

func (c Config) withDefaults(portOverride int) Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if portOverride > 0 {
		c.Port = portOverride
	}
	if c.Path == "" {
		c.Path = DefaultPath
	}
	return c
}

// Address returns host:port.
func (c Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Sensor is the api sensor.
type Sensor struct {
	*sensor.Base
	cfg     Config
	limiter *rate.Limiter

	mu       sync.Mutex
	listener net.Listener

	triggerMu sync.Mutex
	ended     atomic.Bool
	endOnce   sync.Once
	endCh     chan struct{}
}

// Register adds the api sensor type to r.
func Register(r *sensor.Registry) error {
	return r.Register(sensor.Registration{Metadata: Metadata, Factory: New})
}

// New is the sensor.Factory for the api type.
func New(raw map[string]any, deps sensor.Dependencies) (sensor.Sensor, error) {
	return &Sensor{
		Base:  sensor.NewBase(Metadata, raw, deps),
		endCh: make(chan struct{}),
	}, nil
}

// Config returns the decoded configuration with defaults applied. Valid
// after Validate.
func (s *Sensor) Config() Config {
	return s.cfg
}

// Validate checks the configuration against the api schema.
func (s *Sensor) Validate(_ context.Context) error {
	if err := s.ValidateSchema(); err != nil {
		return err
	}
	var cfg Config
	if err := sensor.DecodeConfig(s.Base.Config(), &cfg); err != nil {
		return err
	}
	s.cfg = cfg.withDefaults(s.Dependencies().Port)
	s.limiter = cfg.RateLimit.limiter()
	s.MarkValidated()
	return nil
}

// Addr returns the bound listener address, empty before Run listens.
func (s *Sensor) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Run serves the endpoint until ctx is cancelled or, with end_on_trigger,
// until the first accepted request.
func (s *Sensor) Run(ctx context.Context) error {
	if err := s.Begin(); err != nil {
		return err
	}
	defer s.End()

	logger := s.Logger()
	addr := s.cfg.Address()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return errors.TransportBind(err, "api", "Run", fmt.Sprintf("listen on %s", addr))
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(ln)
	}()
	logger.Info("API sensor listening", "address", ln.Addr().String(), "path", s.cfg.Path)

	var result error
	select {
	case err := <-serveErr:
		if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			s.Terminate("serve failed")
			result = errors.TransportReceive(err, "api", "Run", "serve")
		}
	case <-ctx.Done():
		s.Terminate("context cancelled")
	case <-s.endCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown incomplete", "error", err)
	}
	logger.Info("Stopped API server", "address", addr)
	return result
}

// Handler returns the HTTP handler for the sensor endpoint.
func (s *Sensor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Path, s.handle)
	return mux
}

func (s *Sensor) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "only POST requests are permitted to this endpoint", http.StatusMethodNotAllowed)
		return
	}
	if s.ended.Load() {
		http.Error(w, "sensor has ended", http.StatusServiceUnavailable)
		return
	}
	if s.limiter != nil && !s.limiter.Allow() {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	s.Metrics().RecordReceived(s.Meta().Name, OperationReceived)
	s.Logger().Debug("Received payload", "bytes", len(body), "remote", r.RemoteAddr)

	s.triggerMu.Lock()
	if s.ended.Load() {
		s.triggerMu.Unlock()
		http.Error(w, "sensor has ended", http.StatusServiceUnavailable)
		return
	}
	if s.Trigger(r.Context(), Payload(body)) {
		s.ended.Store(true)
		s.endOnce.Do(func() { close(s.endCh) })
	}
	s.triggerMu.Unlock()

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Message received\n"))
}

// Payload builds the event payload from a request body. JSON bodies are
// decoded; anything else is carried as a string.
func Payload(body []byte) map[string]any {
	var decoded any
	if err := json.Unmarshal(body, &decoded); err != nil {
		decoded = string(body)
	}
	return map[string]any{
		"api_payload": decoded,
		"operation":   OperationReceived,
	}
}
