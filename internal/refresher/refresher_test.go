package refresher

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// staticSymbols returns a fixed list of symbols.
type staticSymbols []string

func (s staticSymbols) Symbols() []string { return s }

type fakeTarget struct {
	mu       sync.Mutex
	seen     []string
	fail     map[string]bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	delay    time.Duration
}

func (f *fakeTarget) RefreshInsight(ctx context.Context, symbol string) (json.RawMessage, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		old := f.maxSeen.Load()
		if n <= old || f.maxSeen.CompareAndSwap(old, n) {
			break
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.seen = append(f.seen, symbol)
	f.mu.Unlock()

	if f.fail[symbol] {
		return nil, errors.New("upstream unavailable")
	}
	return json.RawMessage(`{}`), nil
}

func TestRefresher_RefreshAll(t *testing.T) {
	target := &fakeTarget{fail: map[string]bool{"BAD": true}}
	r := New(Config{Interval: time.Hour, Concurrency: 2, Timeout: time.Second},
		staticSymbols{"AAPL", "MSFT", "BAD"}, target, nil)

	res := r.RefreshAll(context.Background())

	if res.Symbols != 3 || res.Refreshed != 2 || res.Failed != 1 {
		t.Errorf("Result = %+v, want 3 symbols, 2 refreshed, 1 failed", res)
	}
	if r.LastResult().Refreshed != 2 {
		t.Errorf("LastResult = %+v", r.LastResult())
	}
}

func TestRefresher_BoundedConcurrency(t *testing.T) {
	target := &fakeTarget{delay: 10 * time.Millisecond}
	syms := make(staticSymbols, 20)
	for i := range syms {
		syms[i] = string(rune('A' + i))
	}
	r := New(Config{Interval: time.Hour, Concurrency: 3, Timeout: time.Second}, syms, target, nil)

	r.RefreshAll(context.Background())

	if got := target.maxSeen.Load(); got > 3 {
		t.Errorf("max concurrent refreshes = %d, want <= 3", got)
	}
	if len(target.seen) != 20 {
		t.Errorf("refreshed %d symbols, want 20", len(target.seen))
	}
}

func TestRefresher_NoSymbols(t *testing.T) {
	target := &fakeTarget{}
	r := New(DefaultConfig(), staticSymbols{}, target, nil)

	if res := r.RefreshAll(context.Background()); res.Symbols != 0 {
		t.Errorf("Result = %+v, want empty", res)
	}
}

func TestRefresher_StartStop(t *testing.T) {
	target := &fakeTarget{}
	r := New(Config{Interval: time.Hour, Concurrency: 1, Timeout: time.Second}, staticSymbols{"AAPL"}, target, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	// The first cycle runs immediately on start.
	deadline := time.Now().Add(2 * time.Second)
	for {
		target.mu.Lock()
		n := len(target.seen)
		target.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial refresh did not run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
}

func TestNew_Defaults(t *testing.T) {
	r := New(Config{}, staticSymbols{}, &fakeTarget{}, nil)
	if r.cfg != DefaultConfig() {
		t.Errorf("cfg = %+v, want defaults", r.cfg)
	}
}
