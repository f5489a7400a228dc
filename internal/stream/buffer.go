package stream

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/model"
)

// Flush reasons.
const (
	ReasonSize   = "size"
	ReasonTimer  = "timer"
	ReasonManual = "manual"
)

// Config configures a Buffer.
type Config struct {
	BatchSize      int           // Flush as soon as a topic holds this many ticks
	UpdateInterval time.Duration // Periodic flush of every topic

	// ExplicitTopics makes Push drop ticks for topics not opened with Open.
	ExplicitTopics bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:      50,
		UpdateInterval: 250 * time.Millisecond,
	}
}

// Batch is what a flush delivers downstream.
type Batch[P any] struct {
	Topic  string
	Latest model.Tick[P]
	Count  int // Ticks buffered in this cycle, Latest included
	Reason string
	At     time.Time
}

// Sink receives flushed batches. Flushes for one topic are delivered one at
// a time and in order; a Sink must not call back into the Buffer for the
// topic it is handling.
type Sink[P any] func(Batch[P])

// Stats reports buffer activity.
type Stats struct {
	Topics   int
	Buffered int
	Pushed   uint64
	Flushes  uint64
	Dropped  uint64 // Ticks discarded with Discard
	Ignored  uint64 // Ticks pushed to topics that are not open
}

type topicBuffer[P any] struct {
	mu     sync.Mutex
	ticks  []model.Tick[P]
	closed bool // Set by Discard; the entry is no longer in the map
}

// Buffer batches ticks per topic.
type Buffer[P any] struct {
	cfg    Config
	sink   Sink[P]
	bus    event.Publisher
	logger *slog.Logger
	now    func() time.Time

	mu     sync.RWMutex
	topics map[string]*topicBuffer[P]

	pushed  atomic.Uint64
	flushes atomic.Uint64
	dropped atomic.Uint64
	ignored atomic.Uint64

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started atomic.Bool
}

// NewBuffer creates a Buffer delivering to sink. bus may be nil.
func NewBuffer[P any](cfg Config, sink Sink[P], bus event.Publisher, logger *slog.Logger) *Buffer[P] {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}

	return &Buffer[P]{
		cfg:    cfg,
		sink:   sink,
		bus:    bus,
		logger: logger.With("component", "stream"),
		now:    time.Now,
		topics: make(map[string]*topicBuffer[P]),
	}
}

// Config returns the effective configuration.
func (b *Buffer[P]) Config() Config {
	return b.cfg
}

// Open registers topic so Push accepts ticks for it. Only needed with
// ExplicitTopics.
func (b *Buffer[P]) Open(topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.topics[topic]; !ok {
		b.topics[topic] = b.newTopic()
	}
}

// Push appends tick to its topic. Reaching BatchSize flushes the topic
// before Push returns. It reports false when the tick was ignored because
// the topic is not open or was discarded meanwhile.
func (b *Buffer[P]) Push(tick model.Tick[P]) bool {
	tb := b.topic(tick.Topic)
	if tb == nil {
		b.ignored.Add(1)
		return false
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	if tb.closed {
		b.ignored.Add(1)
		return false
	}

	tb.ticks = append(tb.ticks, tick)
	b.pushed.Add(1)

	if len(tb.ticks) >= b.cfg.BatchSize {
		b.flushLocked(tick.Topic, tb, ReasonSize)
	}
	return true
}

// Flush forces a flush of one topic.
func (b *Buffer[P]) Flush(topic string) {
	b.mu.RLock()
	tb, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return
	}

	tb.mu.Lock()
	b.flushLocked(topic, tb, ReasonManual)
	tb.mu.Unlock()
}

// FlushAll flushes every topic.
func (b *Buffer[P]) FlushAll() {
	b.flushAll(ReasonManual)
}

// Discard drops whatever is buffered for topic and forgets it.
func (b *Buffer[P]) Discard(topic string) int {
	b.mu.Lock()
	tb, ok := b.topics[topic]
	delete(b.topics, topic)
	b.mu.Unlock()
	if !ok {
		return 0
	}

	tb.mu.Lock()
	n := len(tb.ticks)
	tb.ticks = nil
	tb.closed = true
	tb.mu.Unlock()

	if n > 0 {
		b.dropped.Add(uint64(n))
		b.logger.Debug("buffer discarded", "topic", topic, "count", n)
	}
	return n
}

// Len returns the number of ticks buffered across all topics.
func (b *Buffer[P]) Len() int {
	total := 0
	for _, tb := range b.snapshot() {
		tb.mu.Lock()
		total += len(tb.ticks)
		tb.mu.Unlock()
	}
	return total
}

// TopicLen returns the number of ticks buffered for topic.
func (b *Buffer[P]) TopicLen(topic string) int {
	b.mu.RLock()
	tb, ok := b.topics[topic]
	b.mu.RUnlock()
	if !ok {
		return 0
	}
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.ticks)
}

// Stats returns buffer counters.
func (b *Buffer[P]) Stats() Stats {
	b.mu.RLock()
	topics := len(b.topics)
	b.mu.RUnlock()

	return Stats{
		Topics:   topics,
		Buffered: b.Len(),
		Pushed:   b.pushed.Load(),
		Flushes:  b.flushes.Load(),
		Dropped:  b.dropped.Load(),
		Ignored:  b.ignored.Load(),
	}
}

// Start begins periodic flushing.
func (b *Buffer[P]) Start(ctx context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	b.ctx, b.cancel = context.WithCancel(ctx)

	b.wg.Add(1)
	go b.flushLoop()

	b.logger.Info("stream buffer started",
		"batch_size", b.cfg.BatchSize,
		"update_interval", b.cfg.UpdateInterval,
	)
	return nil
}

// Stop ends periodic flushing and flushes what is left.
func (b *Buffer[P]) Stop(ctx context.Context) error {
	if !b.started.CompareAndSwap(true, false) {
		return nil
	}
	b.logger.Info("stopping stream buffer")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		b.logger.Warn("stream buffer stop timed out")
	}

	// Final flush
	b.flushAll(ReasonManual)
	b.logger.Info("stream buffer stopped")
	return nil
}

func (b *Buffer[P]) flushLoop() {
	defer b.wg.Done()

	ticker := time.NewTicker(b.cfg.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-b.ctx.Done():
			return
		case <-ticker.C:
			b.flushAll(ReasonTimer)
		}
	}
}

func (b *Buffer[P]) flushAll(reason string) {
	b.mu.RLock()
	names := make([]string, 0, len(b.topics))
	for name := range b.topics {
		names = append(names, name)
	}
	b.mu.RUnlock()
	sort.Strings(names)

	for _, name := range names {
		b.mu.RLock()
		tb, ok := b.topics[name]
		b.mu.RUnlock()
		if !ok {
			continue
		}
		tb.mu.Lock()
		b.flushLocked(name, tb, reason)
		tb.mu.Unlock()
	}
}

// flushLocked delivers the latest tick of the cycle. Caller holds tb.mu,
// which keeps deliveries for a topic serialized and ordered.
func (b *Buffer[P]) flushLocked(topic string, tb *topicBuffer[P], reason string) {
	n := len(tb.ticks)
	if n == 0 {
		return
	}

	batch := Batch[P]{
		Topic:  topic,
		Latest: tb.ticks[n-1],
		Count:  n,
		Reason: reason,
		At:     b.now(),
	}
	clear(tb.ticks)
	tb.ticks = tb.ticks[:0]
	b.flushes.Add(1)

	if b.sink != nil {
		b.sink(batch)
	}
	if b.bus != nil {
		b.bus.Publish(event.FlushOccurred{
			Topic:  topic,
			Count:  n,
			Reason: reason,
			At:     batch.At,
		})
	}
}

// topic returns the buffer for name, creating it unless ExplicitTopics is
// set. It returns nil for a topic that is not open.
func (b *Buffer[P]) topic(name string) *topicBuffer[P] {
	b.mu.RLock()
	tb, ok := b.topics[name]
	b.mu.RUnlock()
	if ok {
		return tb
	}
	if b.cfg.ExplicitTopics {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if tb, ok = b.topics[name]; ok {
		return tb
	}
	tb = b.newTopic()
	b.topics[name] = tb
	return tb
}

func (b *Buffer[P]) newTopic() *topicBuffer[P] {
	return &topicBuffer[P]{ticks: make([]model.Tick[P], 0, b.cfg.BatchSize)}
}

func (b *Buffer[P]) snapshot() []*topicBuffer[P] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*topicBuffer[P], 0, len(b.topics))
	for _, tb := range b.topics {
		out = append(out, tb)
	}
	return out
}
