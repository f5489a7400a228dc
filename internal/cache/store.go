package cache

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// namespace is the type-erased view a Store keeps of each Namespace[V].
type namespace interface {
	Name() string
	Config() NamespaceConfig
	Delete(key string) bool
	Clear() int
	Len() int
	Sweep() int
	Stats() Stats
	peek(key string) (any, bool)
	setAny(key string, value any, ttl time.Duration) error
}

// Store is the registry of namespaces owned by the process.
type Store struct {
	now    func() time.Time
	logger *slog.Logger

	mu     sync.RWMutex
	spaces map[string]namespace
	closed bool
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source used for TTL bookkeeping.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		now:    time.Now,
		logger: slog.Default(),
		spaces: make(map[string]namespace),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "cache")
	return s
}

// Register declares a namespace holding values of type V.
func Register[V any](s *Store, cfg NamespaceConfig) (*Namespace[V], error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}
	if _, exists := s.spaces[cfg.Name]; exists {
		return nil, &ConfigurationError{Namespace: cfg.Name, Reason: "already registered"}
	}

	ns := newNamespace[V](cfg, s.now)
	s.spaces[cfg.Name] = ns
	s.logger.Debug("namespace registered",
		"namespace", cfg.Name,
		"default_ttl", cfg.DefaultTTL,
		"max_entries", cfg.MaxEntries,
	)
	return ns, nil
}

// Lookup returns the namespace registered under name with value type V.
func Lookup[V any](s *Store, name string) (*Namespace[V], error) {
	ns, err := s.namespace(name)
	if err != nil {
		return nil, err
	}
	typed, ok := ns.(*Namespace[V])
	if !ok {
		return nil, &ConfigurationError{
			Namespace: name,
			Reason:    fmt.Sprintf("registered with a different value type than %T", *new(V)),
		}
	}
	return typed, nil
}

func (s *Store) namespace(name string) (namespace, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.spaces[name]
	if !ok {
		return nil, &ConfigurationError{Namespace: name, Reason: "not registered"}
	}
	return ns, nil
}

// Delete removes key from the named namespace.
func (s *Store) Delete(name, key string) (bool, error) {
	ns, err := s.namespace(name)
	if err != nil {
		return false, err
	}
	return ns.Delete(key), nil
}

// ClearNamespace drops every entry of the named namespace.
func (s *Store) ClearNamespace(name string) (int, error) {
	ns, err := s.namespace(name)
	if err != nil {
		return 0, err
	}
	dropped := ns.Clear()
	s.logger.Info("namespace cleared", "namespace", name, "dropped", dropped)
	return dropped, nil
}

// ClearAll drops every entry of every namespace.
func (s *Store) ClearAll() int {
	total := 0
	for _, ns := range s.snapshot() {
		total += ns.Clear()
	}
	s.logger.Info("cache cleared", "dropped", total)
	return total
}

// Stats returns the stats of the named namespace.
func (s *Store) Stats(name string) (Stats, error) {
	ns, err := s.namespace(name)
	if err != nil {
		return Stats{}, err
	}
	return ns.Stats(), nil
}

// AllStats returns stats for every namespace, ordered by name.
func (s *Store) AllStats() []Stats {
	spaces := s.snapshot()
	out := make([]Stats, 0, len(spaces))
	for _, ns := range spaces {
		out = append(out, ns.Stats())
	}
	return out
}

// Namespaces returns the registered namespace names in sorted order.
func (s *Store) Namespaces() []string {
	spaces := s.snapshot()
	names := make([]string, 0, len(spaces))
	for _, ns := range spaces {
		names = append(names, ns.Name())
	}
	return names
}

// SweepExpired removes expired entries from every namespace.
func (s *Store) SweepExpired() int {
	total := 0
	for _, ns := range s.snapshot() {
		if n := ns.Sweep(); n > 0 {
			s.logger.Debug("expired entries swept", "namespace", ns.Name(), "count", n)
			total += n
		}
	}
	return total
}

// Close clears the store and rejects further registrations.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.ClearAll()
}

func (s *Store) snapshot() []namespace {
	s.mu.RLock()
	out := make([]namespace, 0, len(s.spaces))
	for _, ns := range s.spaces {
		out = append(out, ns)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}
