// Package natsclient provides a client for managing NATS connections with circuit breaker pattern.
package natsclient

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/metric"
)

// ConnectionStatus represents the state of the NATS connection
type ConnectionStatus int

// Possible connection statuses
const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusReconnecting
	StatusCircuitOpen
)

// String returns the string representation of ConnectionStatus
func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusReconnecting:
		return "reconnecting"
	case StatusCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Error messages
var (
	ErrNotConnected      = fmt.Errorf("not connected to NATS: %w", errors.ErrNoConnection)
	ErrCircuitOpen       = errors.ErrCircuitOpen
	ErrConnectionTimeout = stderrors.New("connection timeout")
)

// Status holds runtime status information for the NATS client
type Status struct {
	Status          ConnectionStatus
	FailureCount    int32
	LastFailureTime time.Time
	RTT             time.Duration
}

// Client manages NATS connections with circuit breaker pattern
type Client struct {
	url      string
	status   atomic.Value // stores ConnectionStatus
	failures atomic.Int32
	logger   *slog.Logger
	metrics  *metric.Metrics

	// NATS connection
	conn *nats.Conn
	js   jetstream.JetStream

	// KV buckets opened through this client, by name
	buckets   map[string]*KVStore
	bucketsMu sync.Mutex

	// Circuit breaker
	lastFailure      atomic.Value // stores time.Time
	backoff          atomic.Value // stores time.Duration
	circuitFailures  atomic.Int32 // failures in current circuit round
	circuitThreshold int32        // failures before opening circuit
	maxBackoff       time.Duration

	// Connection options
	maxReconnects int
	reconnectWait time.Duration
	pingInterval  time.Duration
	timeout       time.Duration
	drainTimeout  time.Duration

	// Authentication - cleared on close
	username string
	password string
	token    string

	clientName string

	// Callbacks
	onReconnect    func()
	onHealthChange func(bool)

	// Health monitoring
	healthInterval time.Duration
	healthDone     chan struct{}

	mu      sync.RWMutex
	closeMu sync.Mutex
	closed  atomic.Bool
}

// NewClient creates a new NATS client. url may list several servers
// separated by commas.
func NewClient(url string, opts ...ClientOption) (*Client, error) {
	c := &Client{
		url:              url,
		logger:           slog.Default().With("component", "natsclient"),
		buckets:          make(map[string]*KVStore),
		maxReconnects:    -1,
		reconnectWait:    2 * time.Second,
		pingInterval:     30 * time.Second,
		healthInterval:   10 * time.Second,
		circuitThreshold: 5,
		maxBackoff:       time.Minute,
		timeout:          5 * time.Second,
		drainTimeout:     30 * time.Second,
	}

	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.WrapInvalid(err, "Client", "NewClient", "apply option")
		}
	}

	c.status.Store(StatusDisconnected)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	c.logger.Debug("Created NATS client", "url", url)

	return c, nil
}

// URL returns the NATS server URL
func (c *Client) URL() string {
	return c.url
}

// Status returns the current connection status
func (c *Client) Status() ConnectionStatus {
	val := c.status.Load()
	if val == nil {
		return StatusDisconnected
	}
	return val.(ConnectionStatus)
}

// GetConnection returns the current NATS connection
func (c *Client) GetConnection() *nats.Conn {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn
}

func (c *Client) setStatus(status ConnectionStatus) {
	c.status.Store(status)
	c.metrics.RecordNATSStatus(status == StatusConnected)
	if status == StatusCircuitOpen {
		c.metrics.RecordCircuitBreakerState(1)
	} else {
		c.metrics.RecordCircuitBreakerState(0)
	}
}

// IsHealthy returns true if the connection is healthy
func (c *Client) IsHealthy() bool {
	return c.Status() == StatusConnected
}

// Failures returns the current failure count
func (c *Client) Failures() int32 {
	return c.failures.Load()
}

// Backoff returns the current backoff duration
func (c *Client) Backoff() time.Duration {
	return c.backoff.Load().(time.Duration)
}

// recordFailure records a connection failure and manages circuit breaker
func (c *Client) recordFailure() {
	total := c.failures.Add(1)
	c.lastFailure.Store(time.Now())
	round := c.circuitFailures.Add(1)

	c.logger.Debug("Recorded NATS failure", "failures", total, "circuit_failures", round)

	if round < c.circuitThreshold {
		return
	}

	current := c.backoff.Load().(time.Duration)
	next := current * 2
	if next > c.maxBackoff {
		next = c.maxBackoff
	}

	status := c.Status()
	if status == StatusCircuitOpen {
		// Failures keep arriving while open: lengthen the next wait.
		c.backoff.Store(next)
		c.circuitFailures.Store(0)
		c.logger.Warn("Circuit breaker still open", "backoff", next)
		return
	}

	// Only one goroutine wins the transition to open.
	if c.status.CompareAndSwap(status, StatusCircuitOpen) {
		c.metrics.RecordNATSStatus(false)
		c.metrics.RecordCircuitBreakerState(1)
		c.backoff.Store(next)
		c.circuitFailures.Store(0)
		c.logger.Warn("Circuit breaker opened", "failures", round, "backoff", current)
		time.AfterFunc(current, c.testCircuit)
	}
}

// resetCircuit resets the circuit breaker state
func (c *Client) resetCircuit() {
	c.failures.Store(0)
	c.circuitFailures.Store(0)
	c.backoff.Store(time.Second)
	c.lastFailure.Store(time.Time{})

	if c.Status() == StatusCircuitOpen {
		c.setStatus(StatusDisconnected)
	}
}

// testCircuit half-opens the breaker so the next Connect is attempted
func (c *Client) testCircuit() {
	if c.Status() == StatusCircuitOpen {
		c.logger.Debug("Circuit breaker half-open")
		c.setStatus(StatusDisconnected)
	}
}

// WaitForConnection waits for the connection to be established
func (c *Client) WaitForConnection(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.IsHealthy() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrConnectionTimeout, ctx.Err())
		case <-ticker.C:
		}
	}
}

// buildConnectionOptions builds NATS connection options from client configuration
func (c *Client) buildConnectionOptions() []nats.Option {
	opts := []nats.Option{
		nats.MaxReconnects(c.maxReconnects),
		nats.ReconnectWait(c.reconnectWait),
		nats.PingInterval(c.pingInterval),
		nats.Timeout(c.timeout),
		nats.DrainTimeout(c.drainTimeout),
		nats.DisconnectErrHandler(c.handleDisconnect),
		nats.ReconnectHandler(c.handleReconnect),
		nats.ClosedHandler(c.handleClosed),
		nats.ErrorHandler(c.handleError),
	}

	if c.username != "" && c.password != "" {
		opts = append(opts, nats.UserInfo(c.username, c.password))
	}
	if c.token != "" {
		opts = append(opts, nats.Token(c.token))
	}
	if c.clientName != "" {
		opts = append(opts, nats.Name(c.clientName))
	}
	return opts
}

// GetStatus returns current status information
func (c *Client) GetStatus() *Status {
	status := &Status{
		Status:          c.Status(),
		FailureCount:    c.failures.Load(),
		LastFailureTime: c.lastFailure.Load().(time.Time),
	}
	if rtt, err := c.RTT(); err == nil {
		status.RTT = rtt
	}
	return status
}

// Connect establishes connection to NATS server
func (c *Client) Connect(ctx context.Context) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}
	if c.closed.Load() {
		return errors.WrapInvalid(ErrNotConnected, "Client", "Connect", "client closed")
	}

	c.setStatus(StatusConnecting)
	c.logger.Info("Connecting to NATS", "url", c.url)

	opts := c.buildConnectionOptions()
	connectDone := make(chan error, 1)
	go func() {
		conn, err := nats.Connect(c.url, opts...)
		if err != nil {
			connectDone <- err
			return
		}

		js, err := jetstream.New(conn)
		if err != nil {
			c.logger.Warn("JetStream unavailable", "error", err)
		}

		c.mu.Lock()
		c.conn = conn
		c.js = js
		c.mu.Unlock()

		connectDone <- nil
	}()

	select {
	case err := <-connectDone:
		if err != nil {
			c.recordFailure()
			if c.Status() == StatusCircuitOpen {
				return ErrCircuitOpen
			}
			c.setStatus(StatusDisconnected)
			return errors.WrapTransient(err, "Client", "Connect", "establish connection")
		}
	case <-ctx.Done():
		c.recordFailure()
		if c.Status() != StatusCircuitOpen {
			c.setStatus(StatusDisconnected)
		}
		return errors.WrapTransient(ctx.Err(), "Client", "Connect", "connection cancelled")
	}

	c.setStatus(StatusConnected)
	c.resetCircuit()

	c.logger.Info("Connected to NATS", "url", c.url)

	if c.healthInterval > 0 {
		c.startHealthMonitoring()
	}

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()
	if onHealthChange != nil {
		onHealthChange(true)
	}

	return nil
}

// Close drains and closes the NATS connection. It is safe to call more
// than once.
func (c *Client) Close(ctx context.Context) error {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed.Load() {
		return nil
	}
	c.closed.Store(true)

	c.stopHealthMonitoring()

	c.mu.Lock()
	defer c.mu.Unlock()

	var drainErr error
	if c.conn != nil {
		drainTimeout := c.drainTimeout
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining > 0 && remaining < drainTimeout {
				drainTimeout = remaining
			}
		}

		conn := c.conn
		drainDone := make(chan error, 1)
		go func() {
			drainDone <- conn.Drain()
		}()

		select {
		case err := <-drainDone:
			if err != nil {
				drainErr = errors.Wrap(err, "Client", "Close", "drain connection")
			}
		case <-time.After(drainTimeout):
			drainErr = errors.WrapTransient(
				fmt.Errorf("drain timeout after %v", drainTimeout),
				"Client", "Close", "drain connection")
		case <-ctx.Done():
			drainErr = errors.Wrap(ctx.Err(), "Client", "Close", "drain connection")
		}
		if drainErr != nil {
			c.logger.Error("Drain failed, force closing", "error", drainErr)
		}

		conn.Close()
		c.conn = nil
		c.js = nil
	}

	c.bucketsMu.Lock()
	c.buckets = make(map[string]*KVStore)
	c.bucketsMu.Unlock()

	c.username = ""
	c.password = ""
	c.token = ""

	c.setStatus(StatusDisconnected)
	return drainErr
}

// RTT returns the round-trip time to the NATS server
func (c *Client) RTT() (time.Duration, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || !conn.IsConnected() {
		return 0, ErrNotConnected
	}
	return conn.RTT()
}

// Publish publishes a message to a NATS subject. While the connection is
// reconnecting the NATS library buffers the message.
func (c *Client) Publish(_ context.Context, subject string, data []byte) error {
	if c.Status() == StatusCircuitOpen {
		return ErrCircuitOpen
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	if conn == nil || conn.IsClosed() {
		return ErrNotConnected
	}
	if err := conn.Publish(subject, data); err != nil {
		return errors.WrapTransient(err, "Client", "Publish", fmt.Sprintf("publish to %s", subject))
	}
	return nil
}

// JetStream returns the JetStream context
func (c *Client) JetStream() (jetstream.JetStream, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.js == nil {
		return nil, errors.WrapTransient(ErrNotConnected, "Client", "JetStream", "get JetStream context")
	}
	return c.js, nil
}

// CreateKeyValueBucket creates or gets a KV bucket with configuration
func (c *Client) CreateKeyValueBucket(ctx context.Context, cfg jetstream.KeyValueConfig) (jetstream.KeyValue, error) {
	if c.Status() == StatusCircuitOpen {
		return nil, ErrCircuitOpen
	}
	if c.Status() != StatusConnected {
		return nil, ErrNotConnected
	}

	js, err := c.JetStream()
	if err != nil {
		c.recordFailure()
		return nil, err
	}

	bucket, err := js.KeyValue(ctx, cfg.Bucket)
	if err == nil {
		c.resetCircuit()
		return bucket, nil
	}

	bucket, err = js.CreateKeyValue(ctx, cfg)
	if err != nil {
		if !isAlreadyExistsError(err) {
			c.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("create bucket %s", cfg.Bucket))
		}
		// Lost a creation race with another gateway.
		bucket, err = js.KeyValue(ctx, cfg.Bucket)
		if err != nil {
			c.recordFailure()
			return nil, errors.WrapTransient(err, "Client", "CreateKeyValueBucket",
				fmt.Sprintf("access existing bucket %s", cfg.Bucket))
		}
	} else {
		c.logger.Info("Created KV bucket", "bucket", cfg.Bucket)
	}

	c.resetCircuit()
	return bucket, nil
}

// KVStore returns the store for a bucket, creating the bucket on first use
func (c *Client) KVStore(ctx context.Context, bucket string) (*KVStore, error) {
	c.bucketsMu.Lock()
	defer c.bucketsMu.Unlock()

	if kv, ok := c.buckets[bucket]; ok {
		return kv, nil
	}

	kv, err := c.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "barnowl reel topology snapshots",
		History:     1,
	})
	if err != nil {
		return nil, err
	}

	store := newKVStore(kv, c.logger)
	c.buckets[bucket] = store
	return store, nil
}

// PutKV stores value under key in bucket, creating the bucket on first use
func (c *Client) PutKV(ctx context.Context, bucket, key string, value []byte) error {
	kv, err := c.KVStore(ctx, bucket)
	if err != nil {
		return err
	}
	if _, err := kv.Put(ctx, key, value); err != nil {
		return errors.WrapTransient(err, "Client", "PutKV", fmt.Sprintf("put %s/%s", bucket, key))
	}
	return nil
}

func (c *Client) handleDisconnect(_ *nats.Conn, err error) {
	if c.closed.Load() {
		return
	}
	c.setStatus(StatusReconnecting)
	c.logger.Warn("Disconnected from NATS", "error", err)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleReconnect(_ *nats.Conn) {
	c.setStatus(StatusConnected)
	c.resetCircuit()
	c.metrics.RecordNATSReconnect()
	c.logger.Info("Reconnected to NATS", "url", c.url)

	c.mu.RLock()
	onReconnect := c.onReconnect
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onReconnect != nil {
		go onReconnect()
	}
	if onHealthChange != nil {
		go onHealthChange(true)
	}
}

func (c *Client) handleClosed(_ *nats.Conn) {
	c.setStatus(StatusDisconnected)

	c.mu.RLock()
	onHealthChange := c.onHealthChange
	c.mu.RUnlock()

	if onHealthChange != nil {
		go onHealthChange(false)
	}
}

func (c *Client) handleError(_ *nats.Conn, _ *nats.Subscription, err error) {
	// Not a connection failure; the breaker only counts those.
	c.logger.Error("NATS error", "error", err)
}

// startHealthMonitoring polls the connection and reports RTT
func (c *Client) startHealthMonitoring() {
	c.stopHealthMonitoring()

	c.mu.Lock()
	done := make(chan struct{})
	c.healthDone = done
	interval := c.healthInterval
	c.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		lastHealthy := c.IsHealthy()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				rtt, err := c.RTT()
				healthy := err == nil
				if healthy {
					c.metrics.RecordNATSRTT(rtt)
				}

				if healthy && c.Status() != StatusConnected {
					c.setStatus(StatusConnected)
				} else if !healthy && c.Status() == StatusConnected {
					c.setStatus(StatusReconnecting)
				}

				c.mu.RLock()
				onHealthChange := c.onHealthChange
				c.mu.RUnlock()
				if healthy != lastHealthy && onHealthChange != nil {
					onHealthChange(healthy)
				}
				lastHealthy = healthy
			}
		}
	}()
}

func (c *Client) stopHealthMonitoring() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthDone != nil {
		close(c.healthDone)
		c.healthDone = nil
	}
}

// isAlreadyExistsError checks if an error indicates a KV bucket already exists
func isAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, jetstream.ErrBucketExists) || stderrors.Is(err, jetstream.ErrStreamNameAlreadyInUse) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "bucket name already in use") ||
		strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "stream name already in use")
}
