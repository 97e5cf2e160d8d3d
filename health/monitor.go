package health

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Monitor tracks the status of named parts. Safe for concurrent use; the
// NATS callbacks update it from library goroutines.
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

// Update records status under name. The component name is forced to name
// and a zero timestamp is set to now.
func (m *Monitor) Update(name string, status Status) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}
	m.statuses[name] = status
}

// UpdateHealthy marks name healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy marks name unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded marks name degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// UpdateFromBool adapts a healthy/unhealthy callback. downMessage is used
// when healthy is false.
func (m *Monitor) UpdateFromBool(name string, healthy bool, downMessage string) {
	if healthy {
		m.UpdateHealthy(name, "OK")
		return
	}
	m.UpdateUnhealthy(name, downMessage)
}

// UpdateFromError records FromError(name, err, okMessage)
func (m *Monitor) UpdateFromError(name string, err error, okMessage string) {
	m.Update(name, FromError(name, err, okMessage))
}

// Get retrieves the status recorded for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, exists := m.statuses[name]
	return status, exists
}

// Count returns the number of parts reported
func (m *Monitor) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.statuses)
}

// AggregateHealth aggregates every recorded status under systemName
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	subStatuses := make([]Status, 0, len(m.statuses))
	for _, status := range m.statuses {
		subStatuses = append(subStatuses, status)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, subStatuses)
}

// Handler serves AggregateHealth(systemName) as JSON. Unhealthy answers 503,
// healthy and degraded answer 200.
func (m *Monitor) Handler(systemName string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		status := m.AggregateHealth(systemName)

		code := http.StatusOK
		if status.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(status)
	})
}
