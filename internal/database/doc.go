// Package database provides the PostgreSQL pool and the watchlist
// repository that backs the USER_DATA cache namespace.
//
// Watchlists live in a single table keyed by (user_id, symbol). The
// repository only reads and edits rows; it never caches. Caching happens
// one layer up through the coordinator's getOrSet path.
package database
