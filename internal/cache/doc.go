// Package cache implements the namespaced TTL store and the compute-once
// orchestrator layered on top of it.
//
// A Store is owned by the process and holds one Namespace per partition.
// Each Namespace has its own lock, LRU order, TTL policy and hit/miss
// counters. Namespaces are registered once at startup; misconfiguration is
// reported by Register, never by Get or Set.
//
// The Orchestrator guarantees at most one in-flight compute per
// (namespace, key). Concurrent callers share the pending result, failures
// are never cached.
package cache
