// Package alert fans risk and connectivity notifications out to webhook
// channels. Delivery is asynchronous; the trading path never blocks on a
// webhook.
package alert

import (
	"context"
	"sync"
	"time"

	"quant_trader/internal/core"
)

// Level grades an alert.
type Level string

const (
	Info     Level = "INFO"
	Warning  Level = "WARNING"
	Error    Level = "ERROR"
	Critical Level = "CRITICAL"
)

// Payload is one rendered alert.
type Payload struct {
	Level     Level
	Title     string
	Message   string
	Timestamp time.Time
	Fields    map[string]string
}

// Channel delivers a payload to one destination.
type Channel interface {
	Send(ctx context.Context, p Payload) error
	Name() string
}

// Manager dispatches alerts to its channels on background goroutines.
type Manager struct {
	logger core.ILogger

	mu       sync.RWMutex
	channels []Channel
	wg       sync.WaitGroup
}

func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		logger: logger.WithField("component", "alerts"),
	}
}

// AddChannel registers a delivery channel.
func (m *Manager) AddChannel(ch Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = append(m.channels, ch)
	m.logger.Info("alert channel registered", "name", ch.Name())
}

// Alert dispatches one payload to every channel without waiting for
// delivery. Each send gets its own timeout so one stuck webhook cannot
// hold the others up.
func (m *Manager) Alert(ctx context.Context, level Level, title, message string, fields map[string]string) {
	p := Payload{
		Level:     level,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
		Fields:    fields,
	}

	m.mu.RLock()
	channels := make([]Channel, len(m.channels))
	copy(channels, m.channels)
	m.mu.RUnlock()

	m.logger.Info("alert dispatched", "title", title, "level", string(level), "channels", len(channels))

	for _, ch := range channels {
		m.wg.Add(1)
		go func(c Channel) {
			defer m.wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			if err := c.Send(sendCtx, p); err != nil {
				m.logger.Error("alert delivery failed", "channel", c.Name(), "error", err)
			}
		}(ch)
	}
}

// Flush waits for in-flight deliveries. Shutdown calls it so the final
// alerts leave before the process exits.
func (m *Manager) Flush() {
	m.wg.Wait()
}
