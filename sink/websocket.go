package sink

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/c360/semsensors/errors"
	"github.com/c360/semsensors/sensor"
)

// WebSocket defaults.
const (
	DefaultWebSocketPort = 8081
	DefaultWebSocketPath = "/ws"
)

const (
	writeTimeout = 10 * time.Second
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// MessageEnvelope wraps every message sent to clients.
type MessageEnvelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Timestamp int64           `json:"timestamp"` // Unix milliseconds
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type wsClient struct {
	conn        *websocket.Conn
	connectedAt time.Time
	writeMu     sync.Mutex // gorilla/websocket allows one concurrent writer
	closeOnce   sync.Once
}

func (c *wsClient) send(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(messageType, data)
}

// WebSocket serves a WebSocket endpoint and broadcasts every event to the
// connected clients. Events pushed while no client is connected are dropped.
type WebSocket struct {
	addr   string
	path   string
	logger *slog.Logger

	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*wsClient
	clientsMu sync.RWMutex

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
}

// NewWebSocket returns a WebSocket sink listening on port once Run starts.
func NewWebSocket(port int, path string, logger *slog.Logger) *WebSocket {
	if port == 0 {
		port = DefaultWebSocketPort
	}
	if path == "" {
		path = DefaultWebSocketPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocket{
		addr:   fmt.Sprintf(":%d", port),
		path:   path,
		logger: logger.With("component", "sink", "sink", "websocket"),
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(_ *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]*wsClient),
	}
}

func (w *WebSocket) Name() string { return "websocket" }

// Handler returns the HTTP handler upgrading clients on the configured path.
func (w *WebSocket) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebSocket)
	return mux
}

// Clients returns the number of connected clients.
func (w *WebSocket) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Addr returns the bound address once Run is listening, empty before.
func (w *WebSocket) Addr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.listener == nil {
		return ""
	}
	return w.listener.Addr().String()
}

// Run serves clients until ctx is cancelled, then closes every connection.
func (w *WebSocket) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", w.addr)
	if err != nil {
		return errors.WrapFatal(err, "WebSocketSink", "Run", fmt.Sprintf("listen on %s", w.addr))
	}
	w.mu.Lock()
	w.listener = ln
	w.mu.Unlock()

	srv := &http.Server{Handler: w.Handler(), ReadHeaderTimeout: 5 * time.Second}
	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()
	w.logger.Info("WebSocket sink listening", "address", ln.Addr().String(), "path", w.path)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	var result error
loop:
	for {
		select {
		case err := <-done:
			if err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				result = errors.WrapFatal(err, "WebSocketSink", "Run", "serve")
			}
			break loop
		case <-ticker.C:
			w.pingClients()
		case <-ctx.Done():
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := srv.Shutdown(shutdownCtx); err != nil {
				w.logger.Warn("WebSocket server shutdown incomplete", "error", err)
			}
			cancel()
			break loop
		}
	}

	// Hijacked connections are not closed by Shutdown.
	for _, c := range w.snapshot() {
		w.removeClient(c)
	}
	w.wg.Wait()
	return result
}

func (w *WebSocket) handleWebSocket(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Debug("WebSocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{conn: conn, connectedAt: time.Now()}
	w.clientsMu.Lock()
	w.clients[conn] = c
	count := len(w.clients)
	w.clientsMu.Unlock()
	w.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	w.wg.Add(1)
	go w.handleClient(c)
}

// handleClient drains client frames so control messages are processed and
// a closed connection is noticed.
func (w *WebSocket) handleClient(c *wsClient) {
	defer w.wg.Done()
	defer w.removeClient(c)

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(readTimeout))
	})
	for {
		_ = c.conn.SetReadDeadline(time.Now().Add(readTimeout))
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *WebSocket) removeClient(c *wsClient) {
	c.closeOnce.Do(func() {
		w.clientsMu.Lock()
		delete(w.clients, c.conn)
		w.clientsMu.Unlock()
		_ = c.conn.Close()
	})
}

func (w *WebSocket) snapshot() []*wsClient {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	list := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		list = append(list, c)
	}
	return list
}

func (w *WebSocket) pingClients() {
	for _, c := range w.snapshot() {
		if err := c.send(websocket.PingMessage, nil); err != nil {
			w.removeClient(c)
		}
	}
}

// Push broadcasts the event to every connected client. Clients that fail
// the write are disconnected.
func (w *WebSocket) Push(_ context.Context, e sensor.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return errors.WrapInvalid(err, "WebSocketSink", "Push", "marshal event")
	}
	data, err := json.Marshal(MessageEnvelope{
		Type:      "event",
		ID:        e.ID,
		Timestamp: e.Timestamp.UnixMilli(),
		Payload:   payload,
	})
	if err != nil {
		return errors.WrapInvalid(err, "WebSocketSink", "Push", "marshal envelope")
	}

	for _, c := range w.snapshot() {
		if err := c.send(websocket.TextMessage, data); err != nil {
			w.logger.Debug("Dropping WebSocket client after failed write", "error", err)
			w.removeClient(c)
		}
	}
	return nil
}
