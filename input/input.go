// Package input defines the transport listener contract and the state every
// listener shares.
//
// A listener turns a transport (UDP socket, serial port, HCI socket,
// in-process channel, simulation) into a stream of raw reel bytes tagged with
// an origin and a timestamp. It never decodes frames itself; it hands every
// chunk to a Handler, normally the pipeline, and reports transport failures
// so the framer can drop partial frames for that origin.
package input

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/pkg/retry"
)

// Handler receives what listeners read. HandleData may block for
// backpressure until ctx ends.
type Handler interface {
	HandleData(ctx context.Context, origin string, data []byte, ts time.Time) error
	HandleError(origin string, err error)
}

// Listener is a transport listener managed as a lifecycle component
type Listener interface {
	component.LifecycleComponent
}

// Factory builds a listener from its configuration
type Factory func(cfg config.ListenerConfig, handler Handler, deps component.Dependencies) (Listener, error)

// Registry maps listener types to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty listener registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory for a listener type
func (r *Registry) Register(typ string, factory Factory) error {
	if typ == "" || factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "Register", "validate factory")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[typ]; exists {
		return errors.WrapInvalid(fmt.Errorf("listener type %q already registered", typ),
			"Registry", "Register", "check duplicate")
	}
	r.factories[typ] = factory
	return nil
}

// Create builds a listener for cfg
func (r *Registry) Create(cfg config.ListenerConfig, handler Handler, deps component.Dependencies) (Listener, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: unknown listener type %q", errors.ErrInvalidConfig, cfg.Type),
			"Registry", "Create", "lookup factory")
	}
	if handler == nil {
		return nil, errors.WrapInvalid(fmt.Errorf("%w: nil handler", errors.ErrInvalidConfig),
			"Registry", "Create", "validate handler")
	}
	return factory(cfg, handler, deps)
}

// Types returns the registered listener types, sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Base carries the lifecycle, health and flow state shared by listeners.
// Listeners embed it and launch their loops with Go.
type Base struct {
	name        string
	kind        string
	description string
	handler     Handler
	logger      *slog.Logger
	now         func() time.Time

	flow      component.FlowTracker
	running   atomic.Bool
	connected atomic.Bool

	mu     sync.Mutex
	runCtx context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBase creates the shared listener state
func NewBase(name, kind, description string, handler Handler, logger *slog.Logger) *Base {
	if logger == nil {
		logger = slog.Default()
	}
	return &Base{
		name:        name,
		kind:        kind,
		description: description,
		handler:     handler,
		logger:      logger.With("component", name, "listener", kind),
		now:         time.Now,
	}
}

// SetClock replaces the time source used for timestamps
func (b *Base) SetClock(now func() time.Time) {
	b.now = now
}

// Now returns the current time from the listener's clock
func (b *Base) Now() time.Time {
	return b.now()
}

// Logger returns the listener's logger
func (b *Base) Logger() *slog.Logger {
	return b.logger
}

// Meta implements component.Discoverable
func (b *Base) Meta() component.Metadata {
	return component.Metadata{
		Name:        b.name,
		Type:        "input",
		Description: b.description,
		Version:     "1.0.0",
	}
}

// Health implements component.Discoverable. A listener is healthy while it
// runs with its transport open.
func (b *Base) Health() component.HealthStatus {
	return b.flow.Health(b.running.Load() && b.connected.Load(), b.now())
}

// DataFlow implements component.Discoverable
func (b *Base) DataFlow() component.FlowMetrics {
	return b.flow.Flow(b.now())
}

// Initialize implements component.LifecycleComponent
func (b *Base) Initialize() error {
	if b.handler == nil {
		return errors.WrapInvalid(fmt.Errorf("%w: nil handler", errors.ErrInvalidConfig),
			b.name, "Initialize", "validate handler")
	}
	return nil
}

// Running reports whether the listener has been started and not stopped
func (b *Base) Running() bool {
	return b.running.Load()
}

// SetConnected records whether the transport is open
func (b *Base) SetConnected(connected bool) {
	b.connected.Store(connected)
}

// Go starts fn on a context that Stop cancels. The first call marks the
// listener running; later calls share its context.
func (b *Base) Go(ctx context.Context, fn func(ctx context.Context)) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel == nil {
		b.runCtx, b.cancel = context.WithCancel(ctx)
		b.running.Store(true)
		b.flow.Begin(b.now())
	}
	runCtx := b.runCtx

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		fn(runCtx)
	}()
}

// Stop cancels the listener's goroutines and waits for them up to timeout
func (b *Base) Stop(timeout time.Duration) error {
	b.mu.Lock()
	cancel := b.cancel
	b.cancel = nil
	b.mu.Unlock()

	if cancel == nil {
		return nil
	}
	b.running.Store(false)
	cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.connected.Store(false)
		return nil
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			b.name, "Stop", "graceful shutdown")
	}
}

// Emit hands a chunk to the handler. A zero ts is replaced with the
// listener clock.
func (b *Base) Emit(ctx context.Context, origin string, data []byte, ts time.Time) error {
	if len(data) == 0 {
		return nil
	}
	if ts.IsZero() {
		ts = b.now()
	}
	b.flow.Record(len(data), ts)
	if err := b.handler.HandleData(ctx, origin, data, ts); err != nil {
		b.flow.Fail(err)
		return err
	}
	return nil
}

// Fail reports a transport error for origin
func (b *Base) Fail(origin string, err error) {
	b.flow.Fail(err)
	b.handler.HandleError(origin, err)
}

// Supervise runs session until ctx ends. Whenever session fails the error
// is reported for origin and session is restarted after the policy's next
// backoff delay; a session that ran for at least a second resets the
// backoff. It returns nil when ctx ends and ErrMaxRetriesExceeded, wrapped
// fatal, once the policy's attempts are used up.
func (b *Base) Supervise(ctx context.Context, origin string, policy retry.Config, session func(ctx context.Context) error) error {
	backoff := retry.NewBackoff(policy)
	for {
		started := b.now()
		err := session(ctx)
		b.connected.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = errors.ErrConnectionLost
		}

		b.logger.Warn("Listener session ended", "origin", origin, "error", err)
		b.Fail(origin, err)

		if b.now().Sub(started) >= time.Second {
			backoff.Reset()
		}
		if werr := backoff.Wait(ctx); werr != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("Listener giving up", "origin", origin, "attempts", backoff.Attempts()+1)
			return errors.WrapFatal(werr, b.name, "Supervise", "reconnect")
		}
	}
}
