package alert

import (
	"context"
	"strconv"
	"sync"

	"quant_trader/internal/core"
)

// StreakMonitor watches order snapshots and raises one alert when
// consecutive rejections reach the threshold. A broker acknowledgment or a
// fill resets the streak and re-arms the alert.
type StreakMonitor struct {
	manager   *Manager
	threshold int

	mu      sync.Mutex
	streak  int
	alerted bool
}

func NewStreakMonitor(manager *Manager, threshold int) *StreakMonitor {
	if threshold < 1 {
		threshold = 3
	}
	return &StreakMonitor{manager: manager, threshold: threshold}
}

// OnOrder feeds one order snapshot, typically from an engine observer.
func (s *StreakMonitor) OnOrder(o *core.Order) {
	if o == nil {
		return
	}

	s.mu.Lock()
	switch o.Status {
	case core.StatusRejected:
		s.streak++
	case core.StatusSubmitted, core.StatusAccepted, core.StatusPartiallyFilled, core.StatusFilled:
		s.streak = 0
		s.alerted = false
	default:
		s.mu.Unlock()
		return
	}
	fire := s.streak >= s.threshold && !s.alerted
	if fire {
		s.alerted = true
	}
	streak := s.streak
	s.mu.Unlock()

	if !fire {
		return
	}
	s.manager.Alert(context.Background(), Error, "order rejection streak",
		"the broker rejected "+strconv.Itoa(streak)+" orders in a row",
		map[string]string{
			"symbol":      o.Symbol,
			"last_reason": o.RejectReason,
		})
}

// Streak reports the current consecutive rejection count.
func (s *StreakMonitor) Streak() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streak
}
