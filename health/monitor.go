package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
	"time"
)

// Checker reports the current health of a component. Sinks and clients
// implement it so the monitor can poll them when the aggregate is built.
type Checker interface {
	Health() Status
}

// CheckerFunc adapts a function to the Checker interface
type CheckerFunc func() Status

// Health calls f()
func (f CheckerFunc) Health() Status {
	return f()
}

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push their status with Update or are polled through a
// registered Checker.
type Monitor struct {
	mu       sync.RWMutex
	statuses map[string]Status
	checkers map[string]Checker
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		statuses: make(map[string]Status),
		checkers: make(map[string]Checker),
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

// UpdateHealthy is a convenience method to update a component as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy is a convenience method to update a component as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded is a convenience method to update a component as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Register adds a component polled on every Get and AggregateHealth
func (m *Monitor) Register(name string, c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[name] = c
}

// Get retrieves the health status for a named component
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	c, polled := m.checkers[name]
	status, exists := m.statuses[name]
	m.mu.RUnlock()

	if polled {
		status = c.Health()
		status.Component = name
		return status, true
	}
	return status, exists
}

// GetAll returns the pushed statuses merged with a fresh poll of every
// registered checker. A checker shadows a pushed status of the same name.
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	result := maps.Clone(m.statuses)
	checkers := maps.Clone(m.checkers)
	m.mu.RUnlock()

	// checkers may take their own locks
	for name, c := range checkers {
		status := c.Health()
		status.Component = name
		result[name] = status
	}
	return result
}

// Remove removes a component from monitoring
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.statuses, name)
	delete(m.checkers, name)
}

// AggregateHealth folds every component into one status named systemName
func (m *Monitor) AggregateHealth(systemName string) Status {
	return Aggregate(systemName, slices.Collect(maps.Values(m.GetAll())))
}

// Count returns the number of components being monitored
func (m *Monitor) Count() int {
	return len(m.GetAll())
}

// Handler serves the aggregate status as JSON. Unhealthy systems answer
// 503 so load balancers and orchestrators can act on the status code.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	})
}
