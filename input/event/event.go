// Package event provides an in-process listener: code embedding the gateway
// publishes reel bytes directly instead of through a transport.
package event

import (
	"context"
	"time"

	"github.com/reelyactive/barnowl/component"
	"github.com/reelyactive/barnowl/config"
	"github.com/reelyactive/barnowl/errors"
	"github.com/reelyactive/barnowl/input"
)

// DefaultOrigin labels data published without an origin
const DefaultOrigin = "event"

const queueSize = 256

type chunk struct {
	origin string
	data   []byte
	ts     time.Time
}

// Listener relays published chunks to the pipeline in order
type Listener struct {
	*input.Base

	origin string
	queue  chan chunk
}

// New creates an event listener. cfg.Origin replaces the default origin.
func New(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) (input.Listener, error) {
	return NewListener(cfg, handler, deps), nil
}

// NewListener is New with a concrete return type, for callers that
// publish
func NewListener(cfg config.ListenerConfig, handler input.Handler, deps component.Dependencies) *Listener {
	name := cfg.Name
	if name == "" {
		name = config.ListenerEvent
	}
	origin := cfg.Origin
	if origin == "" {
		origin = DefaultOrigin
	}
	return &Listener{
		Base:   input.NewBase(name, config.ListenerEvent, "In-process event listener", handler, deps.GetLogger()),
		origin: origin,
		queue:  make(chan chunk, queueSize),
	}
}

// Register adds the event listener factory to registry
func Register(registry *input.Registry) error {
	return registry.Register(config.ListenerEvent, New)
}

// Start begins relaying published chunks
func (l *Listener) Start(ctx context.Context) error {
	if l.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, l.Meta().Name, "Start", "check running")
	}
	l.SetConnected(true)
	l.Go(ctx, l.relay)
	return nil
}

// Publish queues data for the pipeline. An empty origin becomes the
// listener's origin and a zero ts the time of relay. It blocks while the
// queue is full until ctx ends.
func (l *Listener) Publish(ctx context.Context, data []byte, origin string, ts time.Time) error {
	if !l.Running() {
		return errors.WrapInvalid(errors.ErrNotStarted, l.Meta().Name, "Publish", "check running")
	}
	if origin == "" {
		origin = l.origin
	}

	c := chunk{origin: origin, data: append([]byte(nil), data...), ts: ts}
	select {
	case l.queue <- c:
		return nil
	case <-ctx.Done():
		return errors.WrapTransient(ctx.Err(), l.Meta().Name, "Publish", "enqueue")
	}
}

func (l *Listener) relay(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case c := <-l.queue:
			if err := l.Emit(ctx, c.origin, c.data, c.ts); err != nil && ctx.Err() == nil {
				l.Logger().Debug("Handler rejected event", "origin", c.origin, "error", err)
			}
		}
	}
}
