package model

// HistoryRing is a fixed-capacity ring that drops the oldest item on overflow.
// It is not safe for concurrent use; callers hold their own lock.
type HistoryRing[T any] struct {
	items []T
	next  int // Next write position
	size  int
}

// NewHistoryRing creates a ring holding at most capacity items.
func NewHistoryRing[T any](capacity int) *HistoryRing[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &HistoryRing[T]{items: make([]T, capacity)}
}

// Append adds an item, overwriting the oldest when full.
func (r *HistoryRing[T]) Append(item T) {
	r.items[r.next] = item
	r.next = (r.next + 1) % len(r.items)
	if r.size < len(r.items) {
		r.size++
	}
}

// Len returns the number of stored items.
func (r *HistoryRing[T]) Len() int { return r.size }

// Cap returns the ring capacity.
func (r *HistoryRing[T]) Cap() int { return len(r.items) }

// Last returns the most recent item.
func (r *HistoryRing[T]) Last() (T, bool) {
	if r.size == 0 {
		var zero T
		return zero, false
	}
	return r.items[(r.next-1+len(r.items))%len(r.items)], true
}

// Latest returns up to n most recent items ordered oldest to newest.
// n <= 0 returns everything.
func (r *HistoryRing[T]) Latest(n int) []T {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]T, n)
	start := (r.next - n + len(r.items)) % len(r.items)
	for i := 0; i < n; i++ {
		out[i] = r.items[(start+i)%len(r.items)]
	}
	return out
}
