package event

import (
	"context"
	"log/slog"
	"sync"
)

// Bus fans events out to observers on a single dispatch goroutine.
// Observers are invoked in registration order for every event, and events
// are delivered in the order they were published.
type Bus struct {
	logger *slog.Logger
	queue  *Queue[Event]

	mu        sync.RWMutex
	observers []observerEntry
	nextID    int

	startOnce sync.Once
	done      chan struct{}
}

type observerEntry struct {
	id       int
	observer Observer
}

// NewBus creates a Bus. Events published before Start are queued.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		logger: logger,
		queue:  NewQueue[Event](256),
		done:   make(chan struct{}),
	}
}

// Subscribe registers an observer and returns a function that removes it.
func (b *Bus) Subscribe(o Observer) (cancel func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.observers = append(b.observers, observerEntry{id: id, observer: o})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

// Publish queues an event for dispatch. Returns false after Stop.
func (b *Bus) Publish(e Event) bool {
	return b.queue.Push(e)
}

// Start launches the dispatch goroutine. The context is unused for
// cancellation; dispatch ends when Stop closes the queue.
func (b *Bus) Start(ctx context.Context) error {
	b.startOnce.Do(func() {
		go b.dispatchLoop()
	})
	return nil
}

// Stop closes the bus and waits for queued events to be dispatched. If ctx
// ends first, events still queued are dropped.
func (b *Bus) Stop(ctx context.Context) error {
	b.queue.Close()
	b.startOnce.Do(func() {
		// Never started: drain on the caller.
		go b.dispatchLoop()
	})

	select {
	case <-b.done:
		return nil
	case <-ctx.Done():
		dropped := b.drain()
		b.logger.Warn("event bus stop timed out", "dropped", dropped)
		return ctx.Err()
	}
}

// drain discards queued events without dispatching them.
func (b *Bus) drain() int {
	n := 0
	for {
		if _, ok := b.queue.TryPop(); !ok {
			return n
		}
		n++
	}
}

// Pending returns the number of queued, undelivered events.
func (b *Bus) Pending() int {
	return b.queue.Len()
}

func (b *Bus) dispatchLoop() {
	defer close(b.done)

	for {
		e, ok := b.queue.Pop()
		if !ok {
			return
		}
		b.dispatch(e)
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	observers := make([]observerEntry, len(b.observers))
	copy(observers, b.observers)
	b.mu.RUnlock()

	for _, entry := range observers {
		b.deliver(entry, e)
	}
}

func (b *Bus) deliver(entry observerEntry, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event observer panicked",
				"observer", entry.id,
				"kind", e.Kind(),
				"panic", r,
			)
		}
	}()
	entry.observer.OnEvent(e)
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, entry := range b.observers {
		if entry.id == id {
			b.observers = append(b.observers[:i:i], b.observers[i+1:]...)
			return
		}
	}
}
