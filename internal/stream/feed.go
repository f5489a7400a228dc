package stream

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"

	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/model"
)

// ParseFunc validates and decodes an upstream payload for topic.
type ParseFunc[P any] func(topic string, payload json.RawMessage) (P, error)

// Feed is an event.Observer that parses TickArrived events and pushes them
// into a Buffer. Other events are ignored.
type Feed[P any] struct {
	buf      *Buffer[P]
	parse    ParseFunc[P]
	logger   *slog.Logger
	rejected atomic.Uint64
}

// NewFeed creates a Feed.
func NewFeed[P any](buf *Buffer[P], parse ParseFunc[P], logger *slog.Logger) *Feed[P] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feed[P]{
		buf:    buf,
		parse:  parse,
		logger: logger.With("component", "stream_feed"),
	}
}

// OnEvent implements event.Observer.
func (f *Feed[P]) OnEvent(e event.Event) {
	ev, ok := e.(event.TickArrived)
	if !ok {
		return
	}

	payload, err := f.parse(ev.Topic, ev.Payload)
	if err != nil {
		f.rejected.Add(1)
		f.logger.Warn("tick rejected", "topic", ev.Topic, "error", err)
		return
	}

	tick := model.Tick[P]{
		Topic:     ev.Topic,
		Payload:   payload,
		Timestamp: ev.Timestamp,
	}
	if !f.buf.Push(tick) {
		f.logger.Debug("tick for closed topic ignored", "topic", ev.Topic)
	}
}

// Rejected returns how many ticks failed to parse.
func (f *Feed[P]) Rejected() uint64 {
	return f.rejected.Load()
}
