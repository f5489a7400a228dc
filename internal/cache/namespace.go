package cache

import (
	"container/list"
	"fmt"
	"sync"
	"time"
)

// NamespaceConfig declares a namespace.
type NamespaceConfig struct {
	Name       string        `yaml:"name"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

func (c NamespaceConfig) validate() error {
	if c.Name == "" {
		return &ConfigurationError{Reason: "name is required"}
	}
	if c.DefaultTTL <= 0 {
		return &ConfigurationError{Namespace: c.Name, Reason: fmt.Sprintf("default_ttl must be > 0, got %s", c.DefaultTTL)}
	}
	if c.MaxEntries < 1 {
		return &CapacityError{Namespace: c.Name, MaxEntries: c.MaxEntries}
	}
	return nil
}

// Entry is a cached value with its bookkeeping.
type Entry[V any] struct {
	Key            string
	Namespace      string
	Value          V
	CreatedAt      time.Time
	TTL            time.Duration
	ExpiresAt      time.Time
	LastAccessedAt time.Time
	HitCount       int64
}

func (e *Entry[V]) expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}

// Stats is a point-in-time view of a namespace.
type Stats struct {
	Namespace   string  `json:"namespace"`
	Hits        uint64  `json:"hits"`
	Misses      uint64  `json:"misses"`
	Evictions   uint64  `json:"evictions"`
	Expirations uint64  `json:"expirations"`
	HitRate     float64 `json:"hit_rate"`
	Size        int     `json:"size"`
	MaxSize     int     `json:"max_size"`
}

// Namespace is a TTL + LRU partition holding values of type V.
// All methods are safe for concurrent use.
type Namespace[V any] struct {
	cfg NamespaceConfig
	now func() time.Time

	mu    sync.Mutex
	items map[string]*list.Element
	lru   *list.List // Front is most recently used

	hits        uint64
	misses      uint64
	evictions   uint64
	expirations uint64
}

func newNamespace[V any](cfg NamespaceConfig, now func() time.Time) *Namespace[V] {
	return &Namespace[V]{
		cfg:   cfg,
		now:   now,
		items: make(map[string]*list.Element),
		lru:   list.New(),
	}
}

// Name returns the namespace name.
func (n *Namespace[V]) Name() string { return n.cfg.Name }

// Config returns the namespace declaration.
func (n *Namespace[V]) Config() NamespaceConfig { return n.cfg }

// Get returns the value for key. Expired entries are removed and counted as
// a miss.
func (n *Namespace[V]) Get(key string) (V, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	var zero V
	el, ok := n.items[key]
	if !ok {
		n.misses++
		return zero, false
	}

	e := el.Value.(*Entry[V])
	now := n.now()
	if e.expired(now) {
		n.removeLocked(el)
		n.expirations++
		n.misses++
		return zero, false
	}

	e.LastAccessedAt = now
	e.HitCount++
	n.lru.MoveToFront(el)
	n.hits++
	return e.Value, true
}

// Entry returns a copy of the entry for key without touching stats or LRU order.
func (n *Namespace[V]) Entry(key string) (Entry[V], bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	el, ok := n.items[key]
	if !ok {
		return Entry[V]{}, false
	}
	e := el.Value.(*Entry[V])
	if e.expired(n.now()) {
		return Entry[V]{}, false
	}
	return *e, true
}

// Set stores value under key, replacing any previous entry. ttl <= 0 uses the
// namespace default. Least recently used entries are evicted while the
// namespace is over MaxEntries.
func (n *Namespace[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = n.cfg.DefaultTTL
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	if el, ok := n.items[key]; ok {
		e := el.Value.(*Entry[V])
		e.Value = value
		e.CreatedAt = now
		e.TTL = ttl
		e.ExpiresAt = now.Add(ttl)
		e.LastAccessedAt = now
		n.lru.MoveToFront(el)
		return
	}

	n.items[key] = n.lru.PushFront(&Entry[V]{
		Key:            key,
		Namespace:      n.cfg.Name,
		Value:          value,
		CreatedAt:      now,
		TTL:            ttl,
		ExpiresAt:      now.Add(ttl),
		LastAccessedAt: now,
	})

	for n.lru.Len() > n.cfg.MaxEntries {
		n.removeLocked(n.lru.Back())
		n.evictions++
	}
}

// Delete removes key. Returns false if it was not present.
func (n *Namespace[V]) Delete(key string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	el, ok := n.items[key]
	if !ok {
		return false
	}
	n.removeLocked(el)
	return true
}

// Clear removes every entry and returns how many were dropped.
func (n *Namespace[V]) Clear() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	dropped := n.lru.Len()
	n.items = make(map[string]*list.Element)
	n.lru.Init()
	return dropped
}

// Len returns the number of stored entries, expired ones included until
// they are swept or read.
func (n *Namespace[V]) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lru.Len()
}

// Sweep removes all expired entries and returns how many were dropped.
func (n *Namespace[V]) Sweep() int {
	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.now()
	dropped := 0
	for el := n.lru.Back(); el != nil; {
		prev := el.Prev()
		if el.Value.(*Entry[V]).expired(now) {
			n.removeLocked(el)
			n.expirations++
			dropped++
		}
		el = prev
	}
	return dropped
}

// Stats returns hit/miss counters and size.
func (n *Namespace[V]) Stats() Stats {
	n.mu.Lock()
	defer n.mu.Unlock()

	s := Stats{
		Namespace:   n.cfg.Name,
		Hits:        n.hits,
		Misses:      n.misses,
		Evictions:   n.evictions,
		Expirations: n.expirations,
		Size:        n.lru.Len(),
		MaxSize:     n.cfg.MaxEntries,
	}
	if total := n.hits + n.misses; total > 0 {
		s.HitRate = float64(n.hits) / float64(total)
	}
	return s
}

// peek returns a live value without updating stats or LRU order.
func (n *Namespace[V]) peek(key string) (any, bool) {
	e, ok := n.Entry(key)
	if !ok {
		return nil, false
	}
	return e.Value, true
}

func (n *Namespace[V]) setAny(key string, value any, ttl time.Duration) error {
	v, ok := value.(V)
	if !ok {
		return &ConfigurationError{
			Namespace: n.cfg.Name,
			Reason:    fmt.Sprintf("value of type %T does not match namespace type %T", value, *new(V)),
		}
	}
	n.Set(key, v, ttl)
	return nil
}

func (n *Namespace[V]) removeLocked(el *list.Element) {
	e := n.lru.Remove(el).(*Entry[V])
	delete(n.items, e.Key)
}
