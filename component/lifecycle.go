package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/reelyactive/barnowl/errors"
)

// State represents the current lifecycle state of a component
type State int

const (
	// StateCreated indicates component was created but not initialized
	StateCreated State = iota
	// StateInitialized indicates component was initialized but not started
	StateInitialized
	// StateStarted indicates component is running
	StateStarted
	// StateStopped indicates component was stopped
	StateStopped
	// StateFailed indicates component failed during lifecycle operation
	StateFailed
)

// String returns a string representation of the component state
func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent defines components that support full lifecycle management:
//   - Initialize() error                     // Setup/validate only, NO I/O
//   - Start(ctx context.Context) error      // Start with context passed through
//   - Stop(timeout time.Duration) error     // Stop with timeout for graceful shutdown
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}

// ManagedComponent tracks a component and its lifecycle state
type ManagedComponent struct {
	Component  LifecycleComponent
	State      State
	StartOrder int
	LastError  error
}

// Manager starts components in the order they were added and stops them in
// reverse, so consumers are running before producers feed them and
// producers stop before their consumers drain.
type Manager struct {
	logger *slog.Logger

	mu         sync.Mutex
	components []*ManagedComponent
}

// NewManager creates an empty Manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{logger: logger.With("component", "component-manager")}
}

// Add registers a component. It must be called before Start.
func (m *Manager) Add(c LifecycleComponent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.components = append(m.components, &ManagedComponent{Component: c, State: StateCreated})
}

// Components returns the managed components in start order
func (m *Manager) Components() []*ManagedComponent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*ManagedComponent, len(m.components))
	copy(out, m.components)
	return out
}

// Start initializes then starts every component. On failure the components
// already started are stopped again and the error returned.
func (m *Manager) Start(ctx context.Context, stopTimeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mc := range m.components {
		name := mc.Component.Meta().Name
		if err := mc.Component.Initialize(); err != nil {
			mc.State, mc.LastError = StateFailed, err
			m.stopLocked(stopTimeout)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("initialize %s", name))
		}
		mc.State = StateInitialized
	}

	for i, mc := range m.components {
		name := mc.Component.Meta().Name
		if err := mc.Component.Start(ctx); err != nil {
			mc.State, mc.LastError = StateFailed, err
			m.stopLocked(stopTimeout)
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("start %s", name))
		}
		mc.State = StateStarted
		mc.StartOrder = i
		m.logger.Debug("component started", "name", name, "type", mc.Component.Meta().Type)
	}
	return nil
}

// Stop stops every started component in reverse start order. All components
// get a stop attempt; the first error is returned.
func (m *Manager) Stop(timeout time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopLocked(timeout)
}

func (m *Manager) stopLocked(timeout time.Duration) error {
	var first error
	for i := len(m.components) - 1; i >= 0; i-- {
		mc := m.components[i]
		if mc.State != StateStarted {
			continue
		}
		name := mc.Component.Meta().Name
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State, mc.LastError = StateFailed, err
			m.logger.Warn("component stop failed", "name", name, "error", err)
			if first == nil {
				first = errors.Wrap(err, "Manager", "Stop", fmt.Sprintf("stop %s", name))
			}
			continue
		}
		mc.State = StateStopped
	}
	return first
}
