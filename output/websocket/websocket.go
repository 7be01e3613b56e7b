package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/output"
)

// Defaults
const (
	DefaultPort         = 3001
	DefaultPath         = "/events"
	DefaultQueueSize    = 64
	DefaultPingInterval = 30 * time.Second
	DefaultWriteTimeout = 10 * time.Second
)

// Config configures the WebSocket output. Port 0 binds an ephemeral port.
type Config struct {
	Name         string
	Port         int
	Path         string
	QueueSize    int
	PingInterval time.Duration
	WriteTimeout time.Duration
}

// FromConfig converts the outputs.websocket section
func FromConfig(cfg config.WebSocketOutputConfig) Config {
	return Config{Port: cfg.Port, Path: cfg.Path}
}

// Metrics holds Prometheus metrics for the WebSocket output
type Metrics struct {
	messagesSent       *prometheus.CounterVec
	bytesSent          prometheus.Counter
	clientsConnected   prometheus.Gauge
	connectionTotal    prometheus.Counter
	disconnectionTotal *prometheus.CounterVec
	errorsTotal        *prometheus.CounterVec
}

func newMetrics(registrar metric.MetricsRegistrar, name string) *Metrics {
	if registrar == nil {
		return nil
	}

	m := &Metrics{
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Envelopes queued to WebSocket clients by type",
		}, []string{"type"}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to WebSocket clients",
		}),
		clientsConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "clients_connected",
			Help:      "Currently connected WebSocket clients",
		}),
		connectionTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "connections_total",
			Help:      "Total WebSocket connections accepted",
		}),
		disconnectionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "disconnections_total",
			Help:      "WebSocket disconnections by reason",
		}, []string{"reason"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "barnowl",
			Subsystem: "websocket",
			Name:      "errors_total",
			Help:      "WebSocket errors by type",
		}, []string{"type"}),
	}

	_ = registrar.RegisterCounterVec(name, "messages_sent", m.messagesSent)
	_ = registrar.RegisterCounter(name, "bytes_sent", m.bytesSent)
	_ = registrar.RegisterGauge(name, "clients_connected", m.clientsConnected)
	_ = registrar.RegisterCounter(name, "connections", m.connectionTotal)
	_ = registrar.RegisterCounterVec(name, "disconnections", m.disconnectionTotal)
	_ = registrar.RegisterCounterVec(name, "errors", m.errorsTotal)
	return m
}

func (m *Metrics) error(kind string) {
	if m != nil {
		m.errorsTotal.WithLabelValues(kind).Inc()
	}
}

// clientInfo holds the state of one connected client
type clientInfo struct {
	conn        *websocket.Conn
	connectedAt time.Time
	types       map[string]bool // nil accepts every type
	send        chan []byte
	closed      atomic.Bool
	closeOnce   sync.Once
	writeMutex  sync.Mutex
}

func (c *clientInfo) accepts(typ string) bool {
	return c.types == nil || c.types[typ]
}

// Output serves a WebSocket endpoint and broadcasts every event envelope to
// the connected clients. A client whose send queue is full is disconnected
// rather than allowed to hold up the others.
type Output struct {
	output.Encoder

	name         string
	port         int
	path         string
	queueSize    int
	pingInterval time.Duration
	writeTimeout time.Duration
	logger       *slog.Logger
	metrics      *Metrics

	// WebSocket server
	server    *http.Server
	listener  net.Listener
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]*clientInfo
	clientsMu sync.RWMutex

	flow        component.FlowTracker
	running     atomic.Bool
	shutdown    chan struct{}
	mu          sync.RWMutex
	lifecycleMu sync.Mutex
	wg          sync.WaitGroup
}

// Ensure Output implements all required interfaces
var _ component.LifecycleComponent = (*Output)(nil)

// New creates a WebSocket output
func New(cfg Config, deps component.Dependencies) (*Output, error) {
	if cfg.Name == "" {
		cfg.Name = "websocket-output"
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultPingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, cfg.Name, "New",
			fmt.Sprintf("invalid port %d", cfg.Port))
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, cfg.Name, "New",
			fmt.Sprintf("path %q must start with /", cfg.Path))
	}

	w := &Output{
		name:         cfg.Name,
		port:         cfg.Port,
		path:         cfg.Path,
		queueSize:    cfg.QueueSize,
		pingInterval: cfg.PingInterval,
		writeTimeout: cfg.WriteTimeout,
		logger:       deps.GetLoggerWithComponent(cfg.Name),
		metrics:      newMetrics(deps.Registrar(), cfg.Name),
		upgrader: websocket.Upgrader{
			// Dashboards are served from other origins
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		clients: make(map[*websocket.Conn]*clientInfo),
	}
	w.Encoder = output.NewEncoder(deps.Platform.ID, w.broadcast)
	return w, nil
}

// Name implements pipeline.Sink
func (w *Output) Name() string { return w.name }

// Addr returns the bound address, or nil while stopped
func (w *Output) Addr() net.Addr {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// Clients returns the number of connected clients
func (w *Output) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Meta implements component.Discoverable
func (w *Output) Meta() component.Metadata {
	return component.Metadata{
		Name:        w.name,
		Type:        "output",
		Description: fmt.Sprintf("WebSocket endpoint at ws://localhost:%d%s", w.port, w.path),
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable
func (w *Output) Health() component.HealthStatus {
	return w.flow.Health(w.running.Load() && w.Addr() != nil, time.Now())
}

// DataFlow implements component.Discoverable
func (w *Output) DataFlow() component.FlowMetrics {
	return w.flow.Flow(time.Now())
}

// Initialize implements component.LifecycleComponent
func (w *Output) Initialize() error { return nil }

// Start binds the port and serves the endpoint. A bind failure is returned.
func (w *Output) Start(ctx context.Context) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, w.name, "Start", "check running state")
	}
	if err := ctx.Err(); err != nil {
		return errors.Wrap(err, w.name, "Start", "context already cancelled or timed out")
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", w.port))
	if err != nil {
		return errors.WrapTransient(err, w.name, "Start", "bind port")
	}

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebSocket)
	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.mu.Lock()
	w.server = server
	w.listener = listener
	w.shutdown = make(chan struct{})
	w.mu.Unlock()

	w.running.Store(true)
	w.flow.Begin(time.Now())

	w.wg.Add(2)
	go w.runServer(server, listener)
	go w.maintainClients(w.shutdown)

	w.logger.Info("WebSocket output started", "address", listener.Addr().String(), "path", w.path)
	return nil
}

// Stop shuts the server down and disconnects every client
func (w *Output) Stop(timeout time.Duration) error {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Swap(false) {
		return nil
	}

	w.mu.Lock()
	server := w.server
	close(w.shutdown)
	w.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn("HTTP server shutdown error", "error", err)
	}

	// Hijacked connections are not closed by Shutdown
	w.closeAllClients()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout), w.name, "Stop", "graceful shutdown")
	}

	w.mu.Lock()
	w.server = nil
	w.listener = nil
	w.mu.Unlock()
	return err
}

func (w *Output) runServer(server *http.Server, listener net.Listener) {
	defer w.wg.Done()

	if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
		w.logger.Error("HTTP server failed", "error", err)
		w.flow.Fail(err)
		w.metrics.error("server")
	}
}

// handleWebSocket upgrades a request and registers the client. The optional
// types query parameter restricts which envelope types it receives, as in
// ?types=visibility,sensor.
func (w *Output) handleWebSocket(wr http.ResponseWriter, r *http.Request) {
	if !w.running.Load() {
		http.Error(wr, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := w.upgrader.Upgrade(wr, r, nil)
	if err != nil {
		w.flow.Fail(err)
		w.metrics.error("connection_upgrade")
		return
	}

	info := &clientInfo{
		conn:        conn,
		connectedAt: time.Now(),
		types:       parseTypes(r.URL.Query().Get("types")),
		send:        make(chan []byte, w.queueSize),
	}

	w.clientsMu.Lock()
	w.clients[conn] = info
	count := len(w.clients)
	w.clientsMu.Unlock()

	if w.metrics != nil {
		w.metrics.connectionTotal.Inc()
		w.metrics.clientsConnected.Set(float64(count))
	}
	w.logger.Debug("WebSocket client connected", "remote", r.RemoteAddr, "clients", count)

	w.wg.Add(2)
	go w.readPump(info)
	go w.writePump(info)
}

func parseTypes(raw string) map[string]bool {
	if raw == "" {
		return nil
	}
	types := make(map[string]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types[t] = true
		}
	}
	if len(types) == 0 {
		return nil
	}
	return types
}

// readPump discards client messages and notices disconnects
func (w *Output) readPump(info *clientInfo) {
	defer w.wg.Done()
	defer w.removeClient(info, "normal")

	conn := info.conn
	conn.SetReadLimit(4096)
	deadline := func() { _ = conn.SetReadDeadline(time.Now().Add(2 * w.pingInterval)) }
	deadline()
	conn.SetPongHandler(func(string) error {
		deadline()
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the client's queue onto the connection
func (w *Output) writePump(info *clientInfo) {
	defer w.wg.Done()

	for data := range info.send {
		if err := w.sendToClient(info, websocket.TextMessage, data); err != nil {
			w.flow.Fail(err)
			w.metrics.error("client_send")
			w.removeClient(info, "write_error")
			// Drain so removeClient's close is observed
			for range info.send {
			}
			return
		}
		if w.metrics != nil {
			w.metrics.bytesSent.Add(float64(len(data)))
		}
	}
}

// sendToClient writes one frame with the client's write lock held
func (w *Output) sendToClient(info *clientInfo, messageType int, data []byte) error {
	info.writeMutex.Lock()
	defer info.writeMutex.Unlock()

	_ = info.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	return info.conn.WriteMessage(messageType, data)
}

// removeClient disconnects a client once
func (w *Output) removeClient(info *clientInfo, reason string) {
	info.closeOnce.Do(func() {
		info.closed.Store(true)

		w.clientsMu.Lock()
		delete(w.clients, info.conn)
		count := len(w.clients)
		close(info.send)
		w.clientsMu.Unlock()

		if w.metrics != nil {
			w.metrics.disconnectionTotal.WithLabelValues(reason).Inc()
			w.metrics.clientsConnected.Set(float64(count))
		}
		_ = info.conn.Close()
	})
}

func (w *Output) closeAllClients() {
	w.clientsMu.RLock()
	infos := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		infos = append(infos, info)
	}
	w.clientsMu.RUnlock()

	for _, info := range infos {
		w.removeClient(info, "shutdown")
	}
}

// broadcast queues env to every client that accepts its type
func (w *Output) broadcast(env *output.Envelope) error {
	data, err := env.Marshal()
	if err != nil {
		w.flow.Fail(err)
		w.metrics.error("envelope_marshal")
		return errors.WrapInvalid(err, w.name, "broadcast", "marshal envelope")
	}
	w.flow.Record(len(data), time.Now())

	var slow []*clientInfo
	w.clientsMu.RLock()
	for _, info := range w.clients {
		if info.closed.Load() || !info.accepts(env.Type) {
			continue
		}
		select {
		case info.send <- data:
			if w.metrics != nil {
				w.metrics.messagesSent.WithLabelValues(env.Type).Inc()
			}
		default:
			slow = append(slow, info)
		}
	}
	w.clientsMu.RUnlock()

	for _, info := range slow {
		w.logger.Warn("Dropping slow WebSocket client", "remote", info.conn.RemoteAddr().String())
		w.metrics.error("client_slow")
		w.removeClient(info, "slow")
	}
	return nil
}

// maintainClients pings every client periodically
func (w *Output) maintainClients(shutdown <-chan struct{}) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return
		case <-ticker.C:
			w.pingClients()
		}
	}
}

func (w *Output) pingClients() {
	w.clientsMu.RLock()
	infos := make([]*clientInfo, 0, len(w.clients))
	for _, info := range w.clients {
		if !info.closed.Load() {
			infos = append(infos, info)
		}
	}
	w.clientsMu.RUnlock()

	for _, info := range infos {
		if err := w.sendToClient(info, websocket.PingMessage, nil); err != nil {
			w.metrics.error("ping")
			w.removeClient(info, "ping_failed")
		}
	}
}
