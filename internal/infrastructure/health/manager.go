// Package health aggregates component liveness probes for the live trader.
// Bootstrap registers one probe per component (broker, feed, engine queue,
// cache); the monitor server serves the aggregate on /health and the
// heartbeat loop logs it.
package health

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"quant_trader/internal/core"
)

// Check probes one component. A nil return means healthy.
type Check func() error

// Status is one aggregate snapshot.
type Status struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components"`
}

// Manager holds named probes. Register during bootstrap, before any reader
// starts; probes run on every Status call.
type Manager struct {
	logger   core.ILogger
	interval time.Duration

	mu     sync.RWMutex
	checks map[string]Check
}

func NewManager(logger core.ILogger, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Manager{
		logger:   logger.WithField("component", "health"),
		interval: interval,
		checks:   make(map[string]Check),
	}
}

// Register adds a probe under a component name. Re-registering replaces it.
func (m *Manager) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Status runs every probe and reports per-component results.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st := Status{Healthy: true, Components: make(map[string]string, len(m.checks))}
	for component, check := range m.checks {
		if err := check(); err != nil {
			st.Healthy = false
			st.Components[component] = "unhealthy: " + err.Error()
		} else {
			st.Components[component] = "healthy"
		}
	}
	return st
}

// IsHealthy reports whether every probe passes.
func (m *Manager) IsHealthy() bool {
	return m.Status().Healthy
}

// Run logs a heartbeat at the configured interval until ctx is done. It is
// meant to ride in the application's runner group.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			st := m.Status()
			if st.Healthy {
				m.logger.Info("heartbeat", "components", len(st.Components))
				continue
			}
			m.logger.Warn("heartbeat", "unhealthy", strings.Join(unhealthyNames(st), ","))
		}
	}
}

func unhealthyNames(st Status) []string {
	var names []string
	for component, msg := range st.Components {
		if msg != "healthy" {
			names = append(names, component)
		}
	}
	sort.Strings(names)
	return names
}
