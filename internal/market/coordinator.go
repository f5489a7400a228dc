package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rickgao/marketstream/internal/cache"
	"github.com/rickgao/marketstream/internal/model"
	"github.com/rickgao/marketstream/internal/stream"
)

// Deps are the collaborators a Coordinator is built from. Store must
// already hold the namespaces declared by RegisterNamespaces.
type Deps struct {
	Store        *cache.Store
	Orchestrator *cache.Orchestrator
	Connection   Connection
	Bus          Bus
	Watchlists   WatchlistSource // optional
	Insights     InsightSource   // optional
}

type symbolState struct {
	refs    int
	history *model.HistoryRing[model.Update]
}

type listenerEntry struct {
	id       int
	listener Listener
}

// Coordinator ties the connection, stream buffer and cache together.
type Coordinator struct {
	cfg    Config
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	buffer    *stream.Buffer[model.Quote]
	feed      *stream.Feed[model.Quote]
	snapshots *cache.Namespace[model.Update]

	// subMu orders upstream subscribe/unsubscribe calls.
	subMu sync.Mutex

	mu         sync.RWMutex
	symbols    map[string]*symbolState
	listeners  []listenerEntry
	nextID     int
	cancelFeed func()

	updates        atomic.Uint64
	lateFlushes    atomic.Uint64
	listenerPanics atomic.Uint64
}

// New creates a Coordinator.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Coordinator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deps.Store == nil || deps.Orchestrator == nil || deps.Connection == nil || deps.Bus == nil {
		return nil, fmt.Errorf("coordinator requires store, orchestrator, connection and bus")
	}
	if cfg.MaxDataPoints < 1 {
		cfg.MaxDataPoints = DefaultConfig().MaxDataPoints
	}

	snapshots, err := cache.Lookup[model.Update](deps.Store, cache.MarketData)
	if err != nil {
		return nil, fmt.Errorf("market data namespace: %w", err)
	}

	c := &Coordinator{
		cfg:       cfg,
		deps:      deps,
		logger:    logger.With("component", "coordinator"),
		now:       time.Now,
		snapshots: snapshots,
		symbols:   make(map[string]*symbolState),
	}
	bufCfg := cfg.Stream
	bufCfg.ExplicitTopics = true
	c.buffer = stream.NewBuffer(bufCfg, c.handleFlush, deps.Bus, logger)
	c.feed = stream.NewFeed(c.buffer, ParseQuote, logger)
	return c, nil
}

// Start subscribes the stream to ticks and opens the upstream connection.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.cancelFeed != nil {
		c.mu.Unlock()
		return nil
	}
	c.cancelFeed = c.deps.Bus.Subscribe(c.feed)
	c.mu.Unlock()

	if err := c.buffer.Start(ctx); err != nil {
		return fmt.Errorf("start stream buffer: %w", err)
	}
	if err := c.deps.Connection.Connect(ctx); err != nil {
		return fmt.Errorf("connect: %w", err)
	}

	c.logger.Info("coordinator started",
		"max_data_points", c.cfg.MaxDataPoints,
		"batch_size", c.buffer.Config().BatchSize,
		"update_interval", c.buffer.Config().UpdateInterval,
	)
	return nil
}

// Stop closes the connection and flushes what is still buffered.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.mu.Lock()
	cancel := c.cancelFeed
	c.cancelFeed = nil
	c.mu.Unlock()
	if cancel == nil {
		return nil
	}

	c.logger.Info("stopping coordinator")
	cancel()

	var g errgroup.Group
	g.Go(func() error {
		return c.deps.Connection.Disconnect(ctx)
	})
	g.Go(func() error {
		return c.buffer.Stop(ctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("stop coordinator: %w", err)
	}

	c.logger.Info("coordinator stopped")
	return nil
}

// SubscribeSymbol adds a reference to symbol. Only the first reference
// subscribes upstream.
func (c *Coordinator) SubscribeSymbol(symbol string) error {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	st, ok := c.symbols[sym]
	if !ok {
		st = &symbolState{history: model.NewHistoryRing[model.Update](c.cfg.MaxDataPoints)}
		c.symbols[sym] = st
	}
	st.refs++
	first := st.refs == 1
	c.mu.Unlock()

	if !first {
		return nil
	}
	c.buffer.Open(sym)
	if err := c.deps.Connection.Subscribe(sym); err != nil {
		c.mu.Lock()
		delete(c.symbols, sym)
		c.mu.Unlock()
		c.buffer.Discard(sym)
		return fmt.Errorf("subscribe %s: %w", sym, err)
	}
	c.logger.Info("symbol subscribed", "symbol", sym)
	return nil
}

// UnsubscribeSymbol drops a reference to symbol. The last reference
// unsubscribes upstream and discards buffered and cached data.
func (c *Coordinator) UnsubscribeSymbol(symbol string) error {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return ErrInvalidSymbol
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	st, ok := c.symbols[sym]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotSubscribed, sym)
	}
	st.refs--
	last := st.refs == 0
	if last {
		delete(c.symbols, sym)
	}
	c.mu.Unlock()

	if !last {
		return nil
	}

	c.buffer.Discard(sym)
	c.snapshots.Delete(sym)
	if err := c.deps.Connection.Unsubscribe(sym); err != nil {
		c.logger.Warn("upstream unsubscribe failed", "symbol", sym, "error", err)
	}
	c.logger.Info("symbol unsubscribed", "symbol", sym)
	return nil
}

// Symbols returns the subscribed symbols in sorted order.
func (c *Coordinator) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.symbols))
	for s := range c.symbols {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// GetLatestData returns the most recent update for symbol, falling back to
// the MARKET_DATA cache.
func (c *Coordinator) GetLatestData(symbol string) (model.Update, bool) {
	sym := NormalizeSymbol(symbol)

	c.mu.RLock()
	st, ok := c.symbols[sym]
	if ok {
		if u, ok := st.history.Last(); ok {
			c.mu.RUnlock()
			return u, true
		}
	}
	c.mu.RUnlock()

	return c.snapshots.Get(sym)
}

// GetHistoricalData returns up to limit updates for symbol, oldest first.
// limit <= 0 returns the whole history.
func (c *Coordinator) GetHistoricalData(symbol string, limit int) []model.Update {
	sym := NormalizeSymbol(symbol)

	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.symbols[sym]
	if !ok {
		return nil
	}
	return st.history.Latest(limit)
}

// GetConnectionHealth summarizes connection and buffering state.
func (c *Coordinator) GetConnectionHealth() model.Health {
	status := c.deps.Connection.State()

	c.mu.RLock()
	subs := len(c.symbols)
	c.mu.RUnlock()

	return model.Health{
		IsConnected:       status.State.Live(),
		State:             status.State,
		ReconnectAttempts: status.Attempt,
		SubscriptionCount: subs,
		BufferSize:        c.buffer.Len(),
		LatencyMs:         status.LatencyMs,
	}
}

// IsDataStale reports whether the latest data for symbol is older than
// maxAge. A symbol without data is stale.
func (c *Coordinator) IsDataStale(symbol string, maxAge time.Duration) bool {
	u, ok := c.GetLatestData(symbol)
	if !ok {
		return true
	}
	return c.now().Sub(u.Tick.Timestamp) > maxAge
}

// AddListener registers l and returns a function that removes it.
func (c *Coordinator) AddListener(l Listener) (remove func()) {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.listeners = append(c.listeners, listenerEntry{id: id, listener: l})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, e := range c.listeners {
				if e.id == id {
					c.listeners = append(c.listeners[:i:i], c.listeners[i+1:]...)
					return
				}
			}
		})
	}
}

// Watchlist returns a user's watchlist, cached in USER_DATA.
func (c *Coordinator) Watchlist(ctx context.Context, userID string) (model.UserData, error) {
	if c.deps.Watchlists == nil {
		return model.UserData{}, ErrNoWatchlists
	}
	return GetOrSet(ctx, c, cache.UserData, WatchlistKey(userID), func(ctx context.Context) (model.UserData, error) {
		symbols, err := c.deps.Watchlists.Watchlist(ctx, userID)
		if err != nil {
			return model.UserData{}, err
		}
		return model.UserData{UserID: userID, Watchlist: symbols, LoadedAt: c.now()}, nil
	}, 0)
}

// AddToWatchlist adds symbol to a user's stored watchlist and drops the
// cached copy. It reports false when the symbol was already listed.
func (c *Coordinator) AddToWatchlist(ctx context.Context, userID, symbol string) (bool, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return false, ErrInvalidSymbol
	}
	ed, err := c.watchlistEditor()
	if err != nil {
		return false, err
	}
	added, err := ed.AddSymbol(ctx, userID, sym)
	if err != nil {
		return false, fmt.Errorf("add %s to watchlist %s: %w", sym, userID, err)
	}
	c.invalidateWatchlist(userID)
	return added, nil
}

// RemoveFromWatchlist removes symbol from a user's stored watchlist and
// drops the cached copy. Live subscriptions are left alone.
func (c *Coordinator) RemoveFromWatchlist(ctx context.Context, userID, symbol string) (bool, error) {
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return false, ErrInvalidSymbol
	}
	ed, err := c.watchlistEditor()
	if err != nil {
		return false, err
	}
	removed, err := ed.RemoveSymbol(ctx, userID, sym)
	if err != nil {
		return false, fmt.Errorf("remove %s from watchlist %s: %w", sym, userID, err)
	}
	c.invalidateWatchlist(userID)
	return removed, nil
}

func (c *Coordinator) watchlistEditor() (WatchlistEditor, error) {
	if c.deps.Watchlists == nil {
		return nil, ErrNoWatchlists
	}
	ed, ok := c.deps.Watchlists.(WatchlistEditor)
	if !ok {
		return nil, ErrWatchlistReadOnly
	}
	return ed, nil
}

func (c *Coordinator) invalidateWatchlist(userID string) {
	if _, err := c.deps.Store.Delete(cache.UserData, WatchlistKey(userID)); err != nil {
		c.logger.Warn("watchlist cache invalidation failed", "user_id", userID, "error", err)
	}
}

// WatchlistKey is the USER_DATA key of a user's watchlist.
func WatchlistKey(userID string) string {
	return "watchlist:" + userID
}

// SubscribeWatchlist subscribes every symbol on a user's watchlist and
// returns the symbols subscribed.
func (c *Coordinator) SubscribeWatchlist(ctx context.Context, userID string) ([]string, error) {
	data, err := c.Watchlist(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load watchlist %s: %w", userID, err)
	}
	subscribed := make([]string, 0, len(data.Watchlist))
	for _, sym := range data.Watchlist {
		if err := c.SubscribeSymbol(sym); err != nil {
			c.logger.Warn("watchlist symbol skipped", "user_id", userID, "symbol", sym, "error", err)
			continue
		}
		subscribed = append(subscribed, NormalizeSymbol(sym))
	}
	return subscribed, nil
}

// Insight returns the derived insight for symbol, cached in ANALYTICS.
func (c *Coordinator) Insight(ctx context.Context, symbol string) (json.RawMessage, error) {
	if c.deps.Insights == nil {
		return nil, ErrNoInsights
	}
	sym := NormalizeSymbol(symbol)
	if sym == "" {
		return nil, ErrInvalidSymbol
	}
	return GetOrSet(ctx, c, cache.Analytics, InsightKey(sym), func(ctx context.Context) (json.RawMessage, error) {
		latest, _ := c.GetLatestData(sym)
		return c.deps.Insights.Insight(ctx, sym, latest)
	}, c.cfg.InsightTTL)
}

// RefreshInsight drops the cached insight for symbol and computes it again.
func (c *Coordinator) RefreshInsight(ctx context.Context, symbol string) (json.RawMessage, error) {
	if _, err := c.deps.Store.Delete(cache.Analytics, InsightKey(NormalizeSymbol(symbol))); err != nil {
		return nil, err
	}
	return c.Insight(ctx, symbol)
}

// InsightKey is the ANALYTICS key for a symbol's insight.
func InsightKey(symbol string) string {
	return "insight:" + symbol
}

// CacheStats returns the stats of every cache namespace.
func (c *Coordinator) CacheStats() []cache.Stats {
	return c.deps.Store.AllStats()
}

// Stats returns coordinator counters.
func (c *Coordinator) Stats() Stats {
	c.mu.RLock()
	n := len(c.symbols)
	c.mu.RUnlock()

	return Stats{
		Symbols:        n,
		Updates:        c.updates.Load(),
		LateFlushes:    c.lateFlushes.Load(),
		Rejected:       c.feed.Rejected(),
		Ignored:        c.buffer.Stats().Ignored,
		ListenerPanics: c.listenerPanics.Load(),
	}
}

// Buffer exposes the stream buffer, mainly for diagnostics.
func (c *Coordinator) Buffer() *stream.Buffer[model.Quote] {
	return c.buffer
}

// GetOrSet runs a cached computation through the coordinator's orchestrator.
func GetOrSet[V any](ctx context.Context, c *Coordinator, namespace, key string, fn func(context.Context) (V, error), ttl time.Duration) (V, error) {
	return cache.GetOrSet(ctx, c.deps.Orchestrator, namespace, key, fn, ttl)
}

// handleFlush turns a flushed batch into an Update. It runs under the
// stream buffer's per-topic lock, so updates for a symbol arrive in order.
func (c *Coordinator) handleFlush(b stream.Batch[model.Quote]) {
	c.mu.Lock()
	st, ok := c.symbols[b.Topic]
	if !ok {
		c.mu.Unlock()
		c.lateFlushes.Add(1)
		return
	}

	var prev *model.Update
	if last, ok := st.history.Last(); ok {
		prev = &last
	}
	update := model.Update{
		Symbol:    b.Topic,
		Tick:      b.Latest,
		Derived:   derive(b.Latest.Payload, prev),
		Batched:   b.Count,
		FlushedAt: b.At,
	}
	st.history.Append(update)

	listeners := make([]Listener, len(c.listeners))
	for i, e := range c.listeners {
		listeners[i] = e.listener
	}
	c.mu.Unlock()

	c.snapshots.Set(b.Topic, update, c.cfg.SnapshotTTL)
	c.updates.Add(1)

	for _, l := range listeners {
		c.notify(l, update)
	}
}

func (c *Coordinator) notify(l Listener, u model.Update) {
	defer func() {
		if r := recover(); r != nil {
			c.listenerPanics.Add(1)
			c.logger.Error("listener panicked", "symbol", u.Symbol, "panic", r)
		}
	}()
	l.OnUpdate(u)
}
