package udp

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
	"github.com/reelyactive/barnowl/metric"
	"github.com/reelyactive/barnowl/pkg/retry"
)

// DefaultAddress is where reels are usually configured to send
const DefaultAddress = "0.0.0.0:50000"

const (
	socketBufferSize = 2 * 1024 * 1024
	readTimeout      = 100 * time.Millisecond
	maxDatagramSize  = 65536
)

// Metrics holds Prometheus metrics for one UDP listener
type Metrics struct {
	packetsReceived prometheus.Counter
	bytesReceived   prometheus.Counter
	socketErrors    prometheus.Counter
	rejected        prometheus.Counter
	lastActivity    prometheus.Gauge
}

// newMetrics creates and registers UDP listener metrics. A nil registrar
// yields nil metrics.
func newMetrics(registrar metric.MetricsRegistrar, name string) *Metrics {
	if registrar == nil {
		return nil
	}

	labels := prometheus.Labels{"listener": name}
	m := &Metrics{
		packetsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "barnowl",
			Subsystem:   "udp",
			Name:        "packets_received_total",
			Help:        "Total UDP datagrams received",
			ConstLabels: labels,
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "barnowl",
			Subsystem:   "udp",
			Name:        "bytes_received_total",
			Help:        "Total bytes received over UDP",
			ConstLabels: labels,
		}),
		socketErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "barnowl",
			Subsystem:   "udp",
			Name:        "socket_errors_total",
			Help:        "Socket read errors encountered",
			ConstLabels: labels,
		}),
		rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "barnowl",
			Subsystem:   "udp",
			Name:        "datagrams_rejected_total",
			Help:        "Datagrams the listener could not translate",
			ConstLabels: labels,
		}),
		lastActivity: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "barnowl",
			Subsystem:   "udp",
			Name:        "last_activity_timestamp",
			Help:        "Unix timestamp of last received datagram",
			ConstLabels: labels,
		}),
	}

	serviceName := "udp_" + name
	_ = registrar.RegisterCounter(serviceName, "packets_received", m.packetsReceived)
	_ = registrar.RegisterCounter(serviceName, "bytes_received", m.bytesReceived)
	_ = registrar.RegisterCounter(serviceName, "socket_errors", m.socketErrors)
	_ = registrar.RegisterCounter(serviceName, "datagrams_rejected", m.rejected)
	_ = registrar.RegisterGauge(serviceName, "last_activity", m.lastActivity)

	return m
}

func (m *Metrics) received(n int, now time.Time) {
	if m == nil {
		return
	}
	m.packetsReceived.Inc()
	m.bytesReceived.Add(float64(n))
	m.lastActivity.Set(float64(now.Unix()))
}

func (m *Metrics) reject() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func (m *Metrics) socketError() {
	if m == nil {
		return
	}
	m.socketErrors.Inc()
}

// Transform turns one datagram into the reel bytes to emit for origin.
// Listeners for forwarders that do not speak the reel protocol natively
// translate here.
type Transform func(origin string, datagram []byte, now time.Time) ([][]byte, error)

// Options configures a UDP-based listener
type Options struct {
	Name        string
	Kind        string
	Description string
	Address     string
	Reconnect   retry.Config
	Transform   Transform
}

// Listener receives reel bytes as UDP datagrams. Each sender address is its
// own origin, so several reels can share one socket.
type Listener struct {
	*input.Base

	address   string
	policy    retry.Config
	metrics   *Metrics
	transform Transform

	mu   sync.RWMutex
	conn *net.UDPConn
}

// New creates a UDP listener from its configuration. cfg.Path is the bind
// address.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	l, err := NewListener(Options{
		Name:      cfg.Name,
		Kind:      config.ListenerUDP,
		Address:   cfg.Path,
		Reconnect: cfg.Reconnect,
	}, handler, deps)
	if err != nil {
		return nil, err
	}
	return l, nil
}

// NewListener creates a UDP-based listener
func NewListener(opts Options, handler input.Handler, deps component.Dependencies) (*Listener, error) {
	if opts.Kind == "" {
		opts.Kind = config.ListenerUDP
	}
	if opts.Address == "" {
		opts.Address = DefaultAddress
	}
	if opts.Name == "" {
		opts.Name = opts.Kind
	}
	if opts.Description == "" {
		opts.Description = "UDP reel listener on " + opts.Address
	}
	if _, err := net.ResolveUDPAddr("udp", opts.Address); err != nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: bind address %q: %v", errors.ErrInvalidConfig, opts.Address, err),
			opts.Kind+"-listener", "New", "resolve address")
	}

	return &Listener{
		Base:      input.NewBase(opts.Name, opts.Kind, opts.Description, handler, deps.GetLogger()),
		address:   opts.Address,
		policy:    opts.Reconnect,
		metrics:   newMetrics(deps.Registrar(), opts.Name),
		transform: opts.Transform,
	}, nil
}

// Register adds the UDP listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerUDP, New)
}

// Addr returns the bound address, or nil while unbound
func (l *Listener) Addr() net.Addr {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Start binds the socket and begins reading. A bind failure is returned so
// a misconfigured address surfaces at startup; later socket failures are
// retried by the supervisor.
func (l *Listener) Start(ctx context.Context) error {
	if l.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, l.Meta().Name, "Start", "check running")
	}

	conn, err := l.bind()
	if err != nil {
		return errors.WrapTransient(err, l.Meta().Name, "Start", "socket binding")
	}

	l.Go(ctx, func(ctx context.Context) {
		first := conn
		err := l.Supervise(ctx, l.address, l.policy, func(ctx context.Context) error {
			c := first
			first = nil
			if c == nil {
				var err error
				if c, err = l.bind(); err != nil {
					return err
				}
			}
			return l.readLoop(ctx, c)
		})
		if err != nil {
			l.Logger().Error("UDP listener stopped", "address", l.address, "error", err)
		}
	})
	return nil
}

// Stop closes the socket and waits for the read loop
func (l *Listener) Stop(timeout time.Duration) error {
	err := l.Base.Stop(timeout)
	l.closeConn()
	return err
}

func (l *Listener) bind() (*net.UDPConn, error) {
	addr, err := net.ResolveUDPAddr("udp", l.address)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve UDP address %s: %w", l.address, err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on UDP %s: %w", l.address, err)
	}

	if err := conn.SetReadBuffer(socketBufferSize); err != nil {
		l.Logger().Warn("Could not set UDP buffer size",
			"buffer_size", socketBufferSize,
			"address", l.address,
			"error", err)
	}

	l.mu.Lock()
	l.conn = conn
	l.mu.Unlock()
	l.SetConnected(true)
	l.Logger().Info("UDP listener bound", "address", conn.LocalAddr().String())
	return conn, nil
}

func (l *Listener) closeConn() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn != nil {
		_ = l.conn.Close()
		l.conn = nil
	}
}

// readLoop reads datagrams until ctx ends or the socket fails
func (l *Listener) readLoop(ctx context.Context, conn *net.UDPConn) error {
	defer l.closeConn()

	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return nil
		}

		// Short deadlines let the loop notice cancellation
		_ = conn.SetReadDeadline(time.Now().Add(readTimeout))

		n, remote, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if stderrors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			l.metrics.socketError()
			return errors.WrapTransient(err, l.Meta().Name, "readLoop", "read datagram")
		}
		if n == 0 {
			continue
		}

		now := l.Now()
		l.metrics.received(n, now)

		data := make([]byte, n)
		copy(data, buf[:n])
		origin := remote.String()

		chunks := [][]byte{data}
		if l.transform != nil {
			var err error
			if chunks, err = l.transform(origin, data, now); err != nil {
				l.metrics.reject()
				l.Logger().Debug("Datagram rejected", "origin", origin, "error", err)
				continue
			}
		}

		for _, chunk := range chunks {
			if err := l.Emit(ctx, origin, chunk, now); err != nil && ctx.Err() == nil {
				l.Logger().Debug("Handler rejected datagram", "origin", origin, "error", err)
			}
		}
	}
}
