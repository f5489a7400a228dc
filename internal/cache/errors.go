package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrComputePanic is wrapped by a ComputeError when the compute function panicked.
	ErrComputePanic = errors.New("compute function panicked")

	// ErrStoreClosed is returned by Register after Close.
	ErrStoreClosed = errors.New("cache store closed")
)

// ConfigurationError reports an invalid namespace declaration or lookup.
type ConfigurationError struct {
	Namespace string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("cache namespace %q: %s", e.Namespace, e.Reason)
}

// CapacityError reports a namespace that could never be evicted down to its
// configured size.
type CapacityError struct {
	Namespace  string
	MaxEntries int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("cache namespace %q: max_entries must be >= 1, got %d", e.Namespace, e.MaxEntries)
}

// ComputeError is delivered to every waiter of a failed compute.
type ComputeError struct {
	Namespace string
	Key       string
	Err       error
}

func (e *ComputeError) Error() string {
	return fmt.Sprintf("compute %s/%s: %v", e.Namespace, e.Key, e.Err)
}

func (e *ComputeError) Unwrap() error {
	return e.Err
}
