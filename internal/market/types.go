package market

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/stream"
)

// Errors
var (
	ErrInvalidSymbol = errors.New("invalid symbol")
	ErrNotSubscribed = errors.New("symbol not subscribed")
	ErrInvalidQuote  = errors.New("invalid quote")
	ErrNoWatchlists  = errors.New("no watchlist source configured")
	ErrNoInsights    = errors.New("no insight source configured")

	ErrWatchlistReadOnly = errors.New("watchlist source does not support changes")
)

// Config holds coordinator configuration.
type Config struct {
	MaxDataPoints int           // History ring capacity per symbol
	SnapshotTTL   time.Duration // MARKET_DATA entry TTL, 0 uses the namespace default
	InsightTTL    time.Duration // ANALYTICS entry TTL, 0 uses the namespace default
	Stream        stream.Config
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxDataPoints: 500,
		Stream:        stream.DefaultConfig(),
	}
}

// Connection is the part of the connection manager the coordinator drives.
type Connection interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	State() connection.Status
}

// Bus carries ticks in and flush notifications out.
type Bus interface {
	event.Publisher
	Subscribe(event.Observer) (cancel func())
}

// WatchlistSource loads a user's watchlist from durable storage.
type WatchlistSource interface {
	Watchlist(ctx context.Context, userID string) ([]string, error)
}

// WatchlistEditor is a WatchlistSource whose watchlists can be changed.
type WatchlistEditor interface {
	WatchlistSource
	AddSymbol(ctx context.Context, userID, symbol string) (bool, error)
	RemoveSymbol(ctx context.Context, userID, symbol string) (bool, error)
}

// InsightSource produces an opaque derived payload for a symbol.
type InsightSource interface {
	Insight(ctx context.Context, symbol string, latest model.Update) (json.RawMessage, error)
}

// Listener is notified synchronously, in flush order, of every update.
// Listeners must return quickly and must not call back into the Coordinator.
type Listener interface {
	OnUpdate(model.Update)
}

// ListenerFunc is a function adapter for Listener.
type ListenerFunc func(model.Update)

func (f ListenerFunc) OnUpdate(u model.Update) {
	f(u)
}

// Stats reports coordinator activity.
type Stats struct {
	Symbols        int
	Updates        uint64
	LateFlushes    uint64 // Flushes for symbols unsubscribed meanwhile
	Rejected       uint64 // Ticks that failed validation
	Ignored        uint64 // Ticks that arrived after their symbol was unsubscribed
	ListenerPanics uint64
}
