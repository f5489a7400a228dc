package event

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	bus.Subscribe(rec)

	ctx := context.Background()
	if err := bus.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	for i := 0; i < 100; i++ {
		bus.Publish(FlushOccurred{Topic: fmt.Sprintf("T%d", i), Count: i})
	}

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	if err := bus.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	events := rec.snapshot()
	if len(events) != 100 {
		t.Fatalf("received %d events, want 100", len(events))
	}
	for i, e := range events {
		f, ok := e.(FlushOccurred)
		if !ok {
			t.Fatalf("event %d has kind %s", i, e.Kind())
		}
		if f.Count != i {
			t.Errorf("event %d Count = %d, want %d", i, f.Count, i)
		}
	}
}

func TestBus_ObserversInRegistrationOrder(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var order []string
	for _, name := range []string{"a", "b", "c"} {
		name := name
		bus.Subscribe(ObserverFunc(func(Event) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
		}))
	}

	bus.Publish(TickArrived{Topic: "AAPL"})
	bus.Start(context.Background())

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 3 || order[0] != "a" || order[1] != "b" || order[2] != "c" {
		t.Errorf("order = %v, want [a b c]", order)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	rec := &recorder{}
	cancelSub := bus.Subscribe(rec)
	cancelSub()
	cancelSub() // Idempotent

	bus.Publish(TickArrived{Topic: "AAPL"})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := bus.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	if got := len(rec.snapshot()); got != 0 {
		t.Errorf("received %d events after unsubscribe, want 0", got)
	}
	if bus.Publish(TickArrived{}) {
		t.Error("Publish after Stop returned true")
	}
}

func TestBus_ObserverPanicDoesNotStopDispatch(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(ObserverFunc(func(Event) { panic("boom") }))
	rec := &recorder{}
	bus.Subscribe(rec)

	bus.Start(context.Background())
	bus.Publish(TickArrived{Topic: "A"})
	bus.Publish(TickArrived{Topic: "B"})

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bus.Stop(stopCtx)

	if got := len(rec.snapshot()); got != 2 {
		t.Errorf("received %d events, want 2", got)
	}
}

func TestBus_StopTimeoutDropsQueued(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	rec := &recorder{}
	bus.Subscribe(ObserverFunc(func(e Event) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
	}))
	bus.Subscribe(rec)
	bus.Start(context.Background())

	for i := 0; i < 3; i++ {
		bus.Publish(FlushOccurred{Count: i})
	}
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := bus.Stop(ctx); err == nil {
		t.Fatal("Stop() returned nil while an observer was blocked")
	}
	if n := bus.Pending(); n != 0 {
		t.Errorf("Pending() = %d after timed out Stop, want 0", n)
	}

	close(release)
	select {
	case <-bus.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch loop did not exit")
	}
	if got := len(rec.snapshot()); got != 1 {
		t.Errorf("delivered %d events, want only the one in flight", got)
	}
}
