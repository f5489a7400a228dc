package event

import (
	"encoding/json"
	"time"

	"github.com/rickgao/marketstream/internal/model"
)

// Kind identifies an event variant.
type Kind string

const (
	KindTickArrived            Kind = "tick_arrived"
	KindFlushOccurred          Kind = "flush_occurred"
	KindConnectionStateChanged Kind = "connection_state_changed"
)

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	sealed()
}

// TickArrived is emitted for every tick frame on an active topic.
type TickArrived struct {
	Topic      string
	Payload    json.RawMessage // Unvalidated upstream payload
	Timestamp  time.Time       // Upstream event time
	ReceivedAt time.Time       // Local receive time
}

// FlushOccurred is emitted after a stream buffer delivered a batch.
type FlushOccurred struct {
	Topic  string
	Count  int    // Ticks collapsed into the delivered one
	Reason string // "size", "timer" or "manual"
	At     time.Time
}

// ConnectionStateChanged is emitted on every state machine transition,
// including RECONNECTING -> RECONNECTING after a failed attempt.
type ConnectionStateChanged struct {
	From      model.ConnectionState
	To        model.ConnectionState
	Attempt   int    // Reconnect attempt number, 0 when not reconnecting
	SessionID string // Empty until a transport has been established
	Err       error  // Cause of the transition, if any
	At        time.Time
}

func (TickArrived) Kind() Kind            { return KindTickArrived }
func (FlushOccurred) Kind() Kind          { return KindFlushOccurred }
func (ConnectionStateChanged) Kind() Kind { return KindConnectionStateChanged }

func (TickArrived) sealed()            {}
func (FlushOccurred) sealed()          {}
func (ConnectionStateChanged) sealed() {}

// Observer receives events.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc is a function adapter for Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) {
	f(e)
}

// Publisher accepts events for dispatch.
type Publisher interface {
	Publish(Event) bool
}
