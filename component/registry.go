package component

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/reelyactive/barnowl/errors"
)

// Limits for user-supplied names and ports
const (
	MaxNameLength = 128
	MinPort       = 1
	MaxPort       = 65535
)

// Registry holds the running component instances for discovery and
// health reporting.
type Registry struct {
	mu        sync.RWMutex
	instances map[string]Discoverable
}

// NewRegistry creates a new empty component registry
func NewRegistry() *Registry {
	return &Registry{instances: make(map[string]Discoverable)}
}

// RegisterInstance registers a component instance with the given name.
// Returns an error if an instance with the same name is already registered.
func (r *Registry) RegisterInstance(name string, component Discoverable) error {
	if err := ValidateComponentName(name); err != nil {
		return errors.Wrap(err, "Registry", "RegisterInstance", "instance name validation")
	}
	if component == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterInstance", "component validation")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.instances[name]; exists {
		msg := fmt.Errorf("%w: instance '%s' is already registered", errors.ErrInvalidConfig, name)
		return errors.WrapInvalid(msg, "Registry", "RegisterInstance", "duplicate instance check")
	}
	r.instances[name] = component
	return nil
}

// UnregisterInstance removes a component instance from the registry
func (r *Registry) UnregisterInstance(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.instances, name)
}

// Component returns the named instance or nil
func (r *Registry) Component(name string) Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.instances[name]
}

// ListComponents returns a copy of the registered instances
func (r *Registry) ListComponents() map[string]Discoverable {
	r.mu.RLock()
	defer r.mu.RUnlock()
	result := make(map[string]Discoverable, len(r.instances))
	maps.Copy(result, r.instances)
	return result
}

// Names returns the registered instance names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instances))
	for name := range r.instances {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateComponentName checks an instance name: non-empty, bounded, and
// limited to letters, digits, dash, underscore and dot so it is safe as a
// metric label and NATS subject token.
func ValidateComponentName(name string) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "empty name")
	}
	if len(name) > MaxNameLength {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "ConfigValidator", "ValidateComponentName", "name too long")
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return errors.WrapInvalid(
				fmt.Errorf("%w: invalid character %q in %q", errors.ErrInvalidConfig, r, name),
				"ConfigValidator", "ValidateComponentName", "invalid name characters")
		}
	}
	return nil
}

// ValidatePortNumber validates port numbers are within valid range
func ValidatePortNumber(port int) error {
	if port < MinPort || port > MaxPort {
		msg := fmt.Errorf("%w: port %d outside valid range %d-%d", errors.ErrInvalidConfig, port, MinPort, MaxPort)
		return errors.WrapInvalid(msg, "ConfigValidator", "ValidatePortNumber", "port range validation")
	}
	return nil
}
