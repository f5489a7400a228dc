// Package market implements the market data coordinator: the façade
// consumers use to subscribe to symbols, read the latest and historical
// data, check freshness and connection health, and run cached computations.
package market
