package core

import (
	"fmt"
	"time"
)

// EventType tags the event variant. The engine routes with an exhaustive
// switch over these values; an unknown tag is a programming error.
type EventType string

const (
	EventMarketData EventType = "MARKET_DATA"
	EventSignal     EventType = "SIGNAL"
	EventOrder      EventType = "ORDER"
	EventFill       EventType = "FILL"
)

// Event is the tagged variant flowing through the engine queue. Exactly one
// payload pointer is set, matching Type. Seq and Timestamp are assigned by
// the engine at dispatch: Seq is unique per engine run, Timestamp is
// monotonically non-decreasing per processing step.
type Event struct {
	Type      EventType
	Seq       uint64
	Timestamp time.Time
	Symbol    string

	Bar    *Bar
	Signal *Signal
	Order  *Order
	Fill   *Fill
}

// NewMarketDataEvent wraps a bar.
func NewMarketDataEvent(bar *Bar) Event {
	return Event{Type: EventMarketData, Symbol: bar.Symbol, Bar: bar}
}

// NewSignalEvent wraps a strategy signal.
func NewSignalEvent(sig *Signal) Event {
	return Event{Type: EventSignal, Symbol: sig.Symbol, Signal: sig}
}

// NewOrderEvent wraps an order snapshot. Callers pass a Clone; the engine
// never mutates it.
func NewOrderEvent(order *Order) Event {
	return Event{Type: EventOrder, Symbol: order.Symbol, Order: order}
}

// NewFillEvent wraps a fill.
func NewFillEvent(fill *Fill) Event {
	return Event{Type: EventFill, Symbol: fill.Symbol, Fill: fill}
}

// Validate checks that the payload matches the tag.
func (e Event) Validate() error {
	switch e.Type {
	case EventMarketData:
		if e.Bar == nil {
			return fmt.Errorf("event %d: MARKET_DATA without bar payload", e.Seq)
		}
	case EventSignal:
		if e.Signal == nil {
			return fmt.Errorf("event %d: SIGNAL without payload", e.Seq)
		}
	case EventOrder:
		if e.Order == nil {
			return fmt.Errorf("event %d: ORDER without payload", e.Seq)
		}
	case EventFill:
		if e.Fill == nil {
			return fmt.Errorf("event %d: FILL without payload", e.Seq)
		}
	default:
		return fmt.Errorf("event %d: unknown type %q", e.Seq, e.Type)
	}
	return nil
}

// EventPublisher is the publish-only bus handle injected into strategies,
// portfolio and background tasks. Publish never blocks the caller beyond the
// engine's overflow policy and is safe for concurrent use.
type EventPublisher interface {
	Publish(event Event)
}

// PublishFunc adapts a function to the EventPublisher capability.
type PublishFunc func(event Event)

// Publish calls f.
func (f PublishFunc) Publish(event Event) { f(event) }
