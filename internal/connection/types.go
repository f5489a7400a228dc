package connection

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/marketstream/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale (no heartbeat)")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrEmptyTopic      = errors.New("topic is required")
	ErrNotSubscribed   = errors.New("topic not subscribed")
)

// TimestampedMessage wraps raw message data with receive timestamp.
type TimestampedMessage struct {
	Data       []byte    // Raw message bytes from WebSocket
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Wire message types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	TypeTick        = "tick"
	TypeHeartbeat   = "heartbeat"
	TypeError       = "error"
)

// Message is a JSON text frame exchanged with the upstream feed.
type Message struct {
	Type    string          `json:"type"`
	Topic   string          `json:"topic,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	TS      int64           `json:"ts,omitempty"` // Unix milliseconds
	Message string          `json:"message,omitempty"`
}

// ClientConfig configures a WebSocket client.
type ClientConfig struct {
	URL              string        // WebSocket URL (e.g., wss://feed.example.com/v1/stream)
	APIKey           string        // Sent as a bearer token when set
	HandshakeTimeout time.Duration // Upper bound on the WebSocket handshake
	WriteTimeout     time.Duration // Write deadline for sends
	BufferSize       int           // Message channel buffer size
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       10000,
	}
}

// ManagerConfig configures the connection Manager.
type ManagerConfig struct {
	URL                  string
	APIKey               string
	ConnectionTimeout    time.Duration // Bound on each dial
	ReconnectBaseDelay   time.Duration // Backoff before the first reconnect attempt
	ReconnectMaxDelay    time.Duration // Backoff cap
	ReconnectJitter      time.Duration // Jitter is uniform in [0, ReconnectJitter)
	MaxReconnectAttempts int           // Negative retries forever
	HeartbeatInterval    time.Duration
	HeartbeatTimeout     time.Duration // No echo for this long -> DEGRADED
	CommandRate          float64       // Outbound commands per second, 0 = unlimited
	CommandBurst         int
	WriteTimeout         time.Duration
	BufferSize           int // Inbound message buffer per transport
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ConnectionTimeout:    10 * time.Second,
		ReconnectBaseDelay:   time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		ReconnectJitter:      500 * time.Millisecond,
		MaxReconnectAttempts: 10,
		HeartbeatInterval:    15 * time.Second,
		HeartbeatTimeout:     45 * time.Second,
		CommandRate:          50,
		CommandBurst:         100,
		WriteTimeout:         5 * time.Second,
		BufferSize:           10000,
	}
}

// Status is a snapshot of the connection state machine.
type Status struct {
	State      model.ConnectionState
	Attempt    int
	LastPingAt time.Time
	LatencyMs  int64
	SessionID  string
}

// Stats provides counters about the manager.
type Stats struct {
	State          model.ConnectionState
	Subscriptions  int
	TicksReceived  uint64
	TicksDropped   uint64
	Reconnects     uint64
	CommandsSent   uint64
	FramesRejected uint64
}
