package model

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// ConnectionState is the state of the upstream real-time connection.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "DISCONNECTED"
	StateConnecting   ConnectionState = "CONNECTING"
	StateConnected    ConnectionState = "CONNECTED"
	StateDegraded     ConnectionState = "DEGRADED"
	StateReconnecting ConnectionState = "RECONNECTING"
)

// Live reports whether a transport is currently established.
// A degraded connection is live but its heartbeat is late.
func (s ConnectionState) Live() bool {
	return s == StateConnected || s == StateDegraded
}

// Tick is a single inbound event for a topic.
type Tick[P any] struct {
	Topic     string    `json:"topic"`
	Payload   P         `json:"payload"`
	Timestamp time.Time `json:"timestamp"` // Upstream event time, receive time if absent
}

// Quote is the validated payload of a market data tick.
type Quote struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Bid    decimal.Decimal `json:"bid"`
	Ask    decimal.Decimal `json:"ask"`
	Volume int64           `json:"volume"`

	// Extra carries upstream-derived content (greeks, sentiment) untouched.
	Extra json.RawMessage `json:"extra,omitempty"`
}

// Direction of the last price move.
const (
	DirectionUp   = "up"
	DirectionDown = "down"
	DirectionFlat = "flat"
)

// Derived holds cheap deterministic fields computed on every flush.
type Derived struct {
	Change        decimal.Decimal `json:"change"`         // Price - previous price
	ChangePercent decimal.Decimal `json:"change_percent"` // Change / previous price * 100
	Mid           decimal.Decimal `json:"mid"`            // (Bid + Ask) / 2, zero without a two-sided quote
	Spread        decimal.Decimal `json:"spread"`         // Ask - Bid
	High          decimal.Decimal `json:"high"`           // Highest price since subscription
	Low           decimal.Decimal `json:"low"`            // Lowest price since subscription
	Direction     string          `json:"direction"`
}

// Update is a flushed tick enriched with derived fields.
type Update struct {
	Symbol    string      `json:"symbol"`
	Tick      Tick[Quote] `json:"tick"`
	Derived   Derived     `json:"derived"`
	Batched   int         `json:"batched"` // Ticks collapsed into this update
	FlushedAt time.Time   `json:"flushed_at"`
}

// UserData is the per-user state cached in the USER_DATA namespace.
type UserData struct {
	UserID    string    `json:"user_id"`
	Watchlist []string  `json:"watchlist"`
	LoadedAt  time.Time `json:"loaded_at"`
}

// Health summarizes the connection and buffering state for consumers.
// IsConnected=false means data may be stale, not that the process failed.
type Health struct {
	IsConnected       bool            `json:"is_connected"`
	State             ConnectionState `json:"state"`
	ReconnectAttempts int             `json:"reconnect_attempts"`
	SubscriptionCount int             `json:"subscription_count"`
	BufferSize        int             `json:"buffer_size"`
	LatencyMs         int64           `json:"latency_ms"`
}
