package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type flightKey struct {
	namespace string
	key       string
}

// flight is one pending compute shared by every caller asking for the same
// (namespace, key) while it runs.
type flight struct {
	key       flightKey
	done      chan struct{}
	val       any
	err       error
	refs      int
	abandoned bool
	cancel    context.CancelFunc
}

// OrchestratorStats reports compute activity.
type OrchestratorStats struct {
	InFlight  int    `json:"in_flight"`
	Computes  uint64 `json:"computes"`
	Joins     uint64 `json:"joins"`
	Failures  uint64 `json:"failures"`
	Abandoned uint64 `json:"abandoned"`
}

// Orchestrator runs at most one compute per (namespace, key) at a time and
// caches successful results in the Store.
//
// In-flight computes live in an arena: index maps a key to a slot, slots
// hold the flights and free lists reusable slots. A flight is removed from
// index before its waiters are released, so a caller arriving after that
// point reads the cache instead.
type Orchestrator struct {
	store   *Store
	timeout time.Duration
	logger  *slog.Logger

	mu    sync.Mutex
	index map[flightKey]int
	slots []*flight
	free  []int
	stats OrchestratorStats
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithComputeTimeout bounds every compute. Zero disables the bound.
func WithComputeTimeout(d time.Duration) OrchestratorOption {
	return func(o *Orchestrator) {
		o.timeout = d
	}
}

// NewOrchestrator creates an orchestrator over store.
func NewOrchestrator(store *Store, logger *slog.Logger, opts ...OrchestratorOption) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:  store,
		logger: logger.With("component", "cache_orchestrator"),
		index:  make(map[flightKey]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Store returns the underlying store.
func (o *Orchestrator) Store() *Store {
	return o.store
}

// GetOrSet returns the cached value for key in namespace name, or runs fn to
// produce it. Concurrent callers for the same key share a single run of fn
// and all receive its result or the same *ComputeError. Errors are never
// cached. ttl <= 0 uses the namespace default.
//
// fn runs with a context detached from the caller: it is cancelled only when
// every waiting caller has given up, or when the compute timeout elapses.
func GetOrSet[V any](ctx context.Context, o *Orchestrator, name, key string, fn func(context.Context) (V, error), ttl time.Duration) (V, error) {
	var zero V

	ns, err := Lookup[V](o.store, name)
	if err != nil {
		return zero, err
	}
	if v, ok := ns.Get(key); ok {
		return v, nil
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	k := flightKey{namespace: name, key: key}

	o.mu.Lock()
	if idx, ok := o.index[k]; ok {
		f := o.slots[idx]
		f.refs++
		o.stats.Joins++
		o.mu.Unlock()
		return wait[V](ctx, o, f)
	}

	// A flight for this key may have completed between Get and taking the lock.
	if v, ok := ns.peek(key); ok {
		o.mu.Unlock()
		typed, _ := v.(V)
		return typed, nil
	}

	cctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if o.timeout > 0 {
		var cancelTimeout context.CancelFunc
		cctx, cancelTimeout = context.WithTimeout(cctx, o.timeout)
		parent := cancel
		cancel = func() {
			cancelTimeout()
			parent()
		}
	}

	f := &flight{
		key:    k,
		done:   make(chan struct{}),
		refs:   1,
		cancel: cancel,
	}
	idx := o.alloc(f)
	o.stats.Computes++
	o.mu.Unlock()

	go o.run(cctx, ns, idx, f, func(ctx context.Context) (any, error) {
		return fn(ctx)
	}, ttl)

	return wait[V](ctx, o, f)
}

func wait[V any](ctx context.Context, o *Orchestrator, f *flight) (V, error) {
	var zero V
	select {
	case <-f.done:
		if f.err != nil {
			return zero, f.err
		}
		v, _ := f.val.(V)
		return v, nil
	case <-ctx.Done():
		o.leave(f)
		return zero, ctx.Err()
	}
}

func (o *Orchestrator) run(ctx context.Context, ns namespace, idx int, f *flight, fn func(context.Context) (any, error), ttl time.Duration) {
	defer f.cancel()

	val, err := safeCompute(ctx, fn)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}

	o.mu.Lock()
	abandoned := f.abandoned
	o.mu.Unlock()

	if err == nil && !abandoned {
		err = ns.setAny(f.key.key, val, ttl)
	}

	if err != nil {
		f.err = &ComputeError{Namespace: f.key.namespace, Key: f.key.key, Err: err}
		if !abandoned {
			o.logger.Warn("compute failed",
				"namespace", f.key.namespace,
				"key", f.key.key,
				"error", err,
			)
		}
	} else {
		f.val = val
	}

	o.mu.Lock()
	if err != nil {
		o.stats.Failures++
	}
	o.release(idx, f)
	o.mu.Unlock()

	close(f.done)
}

func safeCompute(ctx context.Context, fn func(context.Context) (any, error)) (val any, err error) {
	defer func() {
		if r := recover(); r != nil {
			val = nil
			err = fmt.Errorf("%w: %v", ErrComputePanic, r)
		}
	}()
	return fn(ctx)
}

// leave drops a waiter. The last waiter to leave cancels the compute and
// detaches it so the next caller starts a fresh one.
func (o *Orchestrator) leave(f *flight) {
	o.mu.Lock()
	defer o.mu.Unlock()

	f.refs--
	if f.refs > 0 {
		return
	}
	select {
	case <-f.done:
		return
	default:
	}

	f.abandoned = true
	if idx, ok := o.index[f.key]; ok && o.slots[idx] == f {
		delete(o.index, f.key)
	}
	o.stats.Abandoned++
	f.cancel()
	o.logger.Debug("compute abandoned", "namespace", f.key.namespace, "key", f.key.key)
}

// alloc places f in a free slot. Caller holds o.mu.
func (o *Orchestrator) alloc(f *flight) int {
	var idx int
	if n := len(o.free); n > 0 {
		idx = o.free[n-1]
		o.free = o.free[:n-1]
		o.slots[idx] = f
	} else {
		idx = len(o.slots)
		o.slots = append(o.slots, f)
	}
	o.index[f.key] = idx
	return idx
}

// release frees f's slot. Caller holds o.mu.
func (o *Orchestrator) release(idx int, f *flight) {
	if o.slots[idx] != f {
		return
	}
	if cur, ok := o.index[f.key]; ok && cur == idx {
		delete(o.index, f.key)
	}
	o.slots[idx] = nil
	o.free = append(o.free, idx)
}

// Stats returns compute counters and the number of in-flight computes.
func (o *Orchestrator) Stats() OrchestratorStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	s := o.stats
	s.InFlight = len(o.index)
	return s
}

// IsComputeError reports whether err came from a failed compute.
func IsComputeError(err error) bool {
	var ce *ComputeError
	return errors.As(err, &ce)
}
