package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor tracks health of multiple components in a thread-safe manner
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
	}
}

// Update updates the health status for a named component
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// GetAll returns a copy of all current health statuses
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]Status, len(m.statuses))
	for name, status := range m.statuses {
		result[name] = status
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
}

// AggregateHealth returns an aggregated health status for the entire system.
// Sub-statuses are ordered by component name.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	sort.Slice(subStatuses, func(i, j int) bool {
		return subStatuses[i].Component < subStatuses[j].Component
	})
	return Aggregate(systemName, subStatuses)
}

// Aggregate rolls sub-statuses up into one status for component. The worst
// sub-status wins: any unhealthy makes the aggregate unhealthy, otherwise
// any degraded makes it degraded.
func Aggregate(component string, subStatuses []Status) Status {
	state, message := StatusHealthy, "All components are healthy"
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			state, message = StatusUnhealthy, "One or more components are unhealthy"
		case sub.IsDegraded() && state == StatusHealthy:
			state, message = StatusDegraded, "One or more components are degraded"
		}
	}
	if len(subStatuses) == 0 {
		message = "No components registered"
	}

	status := newStatus(component, state, message)
	status.SubStatuses = append([]Status(nil), subStatuses...)
	return status
}
