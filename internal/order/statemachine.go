// Package order owns the order lifecycle: the legal state machine, the
// sqlite-backed store and the manager that walks live orders from
// submission to a terminal state against a broker adapter.
package order

import (
	"fmt"
	"time"

	"quant_trader/internal/core"
	apperrors "quant_trader/pkg/errors"
)

// transitions lists the legal successor states for each order status.
// VALIDATED doubles as the resting "new" state in backtests, so fills,
// cancels and expiry are reachable from it without a broker round trip.
// A fill print can race a cancel, so CANCELING may still end FILLED.
var transitions = map[core.OrderStatus]map[core.OrderStatus]bool{
	core.StatusCreated: {
		core.StatusValidated: true,
		core.StatusRejected:  true,
	},
	core.StatusValidated: {
		core.StatusSubmitted:       true,
		core.StatusRejected:        true,
		core.StatusPartiallyFilled: true,
		core.StatusFilled:          true,
		core.StatusCanceling:       true,
		core.StatusCanceled:        true,
		core.StatusExpired:         true,
	},
	// SUBMITTED is not cancelable from our side (no CANCELING edge): the
	// order is in flight and has no broker identity yet. CANCELED stays
	// reachable for a broker-initiated cancel reported on the first poll.
	core.StatusSubmitted: {
		core.StatusAccepted:        true,
		core.StatusRejected:        true,
		core.StatusPartiallyFilled: true,
		core.StatusFilled:          true,
		core.StatusCanceled:        true,
		core.StatusExpired:         true,
	},
	core.StatusAccepted: {
		core.StatusPartiallyFilled: true,
		core.StatusFilled:          true,
		core.StatusRejected:        true,
		core.StatusCanceling:       true,
		core.StatusCanceled:        true,
		core.StatusExpired:         true,
	},
	core.StatusPartiallyFilled: {
		core.StatusPartiallyFilled: true,
		core.StatusFilled:          true,
		core.StatusCanceling:       true,
		core.StatusCanceled:        true,
		core.StatusExpired:         true,
	},
	core.StatusCanceling: {
		core.StatusCanceled: true,
		core.StatusFilled:   true,
		core.StatusExpired:  true,
	},
	// Terminal states have no successors.
	core.StatusFilled:   {},
	core.StatusCanceled: {},
	core.StatusRejected: {},
	core.StatusExpired:  {},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to core.OrderStatus) bool {
	next, ok := transitions[from]
	if !ok {
		return false
	}
	return next[to]
}

// Transition moves the order to the next status and stamps the lifecycle
// timestamp that status carries. Illegal moves leave the order untouched
// and return an error wrapping ErrInvalidTransition.
func Transition(o *core.Order, next core.OrderStatus, now time.Time) error {
	if !CanTransition(o.Status, next) {
		return fmt.Errorf("%w: %s -> %s (order %s)",
			apperrors.ErrInvalidTransition, o.Status, next, o.ID)
	}
	o.Status = next
	switch next {
	case core.StatusSubmitted:
		ts := now
		o.SubmittedAt = &ts
	case core.StatusFilled:
		ts := now
		o.FilledAt = &ts
	case core.StatusCanceled, core.StatusExpired:
		ts := now
		o.CanceledAt = &ts
	}
	return nil
}
