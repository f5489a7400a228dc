// Package app assembles the stream's components from configuration and
// runs them in dependency order.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/connection"
	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/market"
	"github.com/rickgao/marketstream/internal/stream"
)

// Optional holds dependencies that only exist when their backends are configured.
type Optional struct {
	Watchlists market.WatchlistSource
	Insights   market.InsightSource
	Dialer     connection.Dialer // Overrides the websocket dialer, mainly for tests
}

// Core is the always-on part of the stream: event bus, cache, connection
// and coordinator.
type Core struct {
	Bus          *event.Bus
	Store        *cache.Store
	Orchestrator *cache.Orchestrator
	Janitor      *cache.Janitor
	Connection   *connection.Manager
	Coordinator  *market.Coordinator

	logger *slog.Logger
}

// NewCore builds the core components without starting them.
func NewCore(cfg *config.Config, opt Optional, logger *slog.Logger) (*Core, error) {
	if logger == nil {
		logger = slog.Default()
	}

	bus := event.NewBus(logger)

	store := cache.NewStore(cache.WithLogger(logger))
	if err := market.RegisterNamespaces(store, NamespaceConfigs(cfg.Cache)); err != nil {
		return nil, err
	}
	orch := cache.NewOrchestrator(store, logger, cache.WithComputeTimeout(cfg.Cache.ComputeTimeout))

	var connOpts []connection.ManagerOption
	if opt.Dialer != nil {
		connOpts = append(connOpts, connection.WithDialer(opt.Dialer))
	}
	conn := connection.NewManager(ManagerConfig(cfg.Connection), bus, logger, connOpts...)

	coord, err := market.New(MarketConfig(cfg), market.Deps{
		Store:        store,
		Orchestrator: orch,
		Connection:   conn,
		Bus:          bus,
		Watchlists:   opt.Watchlists,
		Insights:     opt.Insights,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create coordinator: %w", err)
	}

	return &Core{
		Bus:          bus,
		Store:        store,
		Orchestrator: orch,
		Janitor:      cache.NewJanitor(store, cfg.Cache.SweepInterval, logger),
		Connection:   conn,
		Coordinator:  coord,
		logger:       logger,
	}, nil
}

// Start starts the bus, the cache janitor and the coordinator, which opens
// the upstream connection.
func (c *Core) Start(ctx context.Context) error {
	if err := c.Bus.Start(ctx); err != nil {
		return fmt.Errorf("start event bus: %w", err)
	}
	if err := c.Janitor.Start(ctx); err != nil {
		return fmt.Errorf("start cache janitor: %w", err)
	}
	if err := c.Coordinator.Start(ctx); err != nil {
		return fmt.Errorf("start coordinator: %w", err)
	}
	return nil
}

// Stop stops components in reverse start order and closes the store.
func (c *Core) Stop(ctx context.Context) error {
	var errs []error
	if err := c.Coordinator.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.Janitor.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop cache janitor: %w", err))
	}
	if err := c.Bus.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop event bus: %w", err))
	}
	c.Store.Close()
	return errors.Join(errs...)
}

// NamespaceConfigs merges configured overrides onto the built-in namespaces.
func NamespaceConfigs(cfg config.CacheConfig) []cache.NamespaceConfig {
	overrides := make([]cache.NamespaceConfig, 0, len(cfg.Namespaces))
	for _, ns := range cfg.Namespaces {
		overrides = append(overrides, cache.NamespaceConfig{
			Name:       ns.Name,
			DefaultTTL: ns.DefaultTTL,
			MaxEntries: ns.MaxEntries,
		})
	}
	return cache.MergeNamespaces(cache.DefaultNamespaces(), overrides)
}

// ManagerConfig maps connection settings onto the connection manager.
func ManagerConfig(cfg config.ConnectionConfig) connection.ManagerConfig {
	return connection.ManagerConfig{
		URL:                  cfg.URL,
		APIKey:               cfg.APIKey,
		ConnectionTimeout:    cfg.ConnectionTimeout,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		ReconnectMaxDelay:    cfg.ReconnectMaxDelay,
		ReconnectJitter:      cfg.ReconnectJitter,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		HeartbeatTimeout:     cfg.HeartbeatTimeout,
		CommandRate:          cfg.CommandRate,
		CommandBurst:         cfg.CommandBurst,
		WriteTimeout:         cfg.WriteTimeout,
		BufferSize:           cfg.BufferSize,
	}
}

// MarketConfig maps stream and market settings onto the coordinator.
func MarketConfig(cfg *config.Config) market.Config {
	return market.Config{
		MaxDataPoints: cfg.Market.MaxDataPoints,
		SnapshotTTL:   cfg.Market.SnapshotTTL,
		InsightTTL:    cfg.Market.InsightTTL,
		Stream: stream.Config{
			BatchSize:      cfg.Stream.BatchSize,
			UpdateInterval: cfg.Stream.UpdateInterval,
		},
	}
}

// SubscribeInitial subscribes configured symbols and watchlists. Failures
// are logged and skipped so one bad entry does not block startup.
func (c *Core) SubscribeInitial(ctx context.Context, cfg config.MarketConfig) int {
	n := 0
	for _, sym := range cfg.Symbols {
		if err := c.Coordinator.SubscribeSymbol(sym); err != nil {
			c.logger.Warn("initial subscribe failed", "symbol", sym, "error", err)
			continue
		}
		n++
	}
	for _, user := range cfg.WatchlistUsers {
		syms, err := c.Coordinator.SubscribeWatchlist(ctx, user)
		if err != nil {
			c.logger.Warn("watchlist subscribe failed", "user_id", user, "error", err)
			continue
		}
		n += len(syms)
	}
	return n
}
