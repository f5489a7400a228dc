package cache

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func mustRegister[V any](t *testing.T, s *Store, cfg NamespaceConfig) *Namespace[V] {
	t.Helper()
	ns, err := Register[V](s, cfg)
	if err != nil {
		t.Fatalf("Register(%s) error = %v", cfg.Name, err)
	}
	return ns
}
