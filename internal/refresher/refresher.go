package refresher

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// SymbolSource provides the symbols to refresh.
type SymbolSource interface {
	Symbols() []string
}

// InsightRefresher recomputes the cached insight for a symbol.
type InsightRefresher interface {
	RefreshInsight(ctx context.Context, symbol string) (json.RawMessage, error)
}

// Config holds refresher configuration.
type Config struct {
	Interval    time.Duration // Refresh interval (default: 5m)
	Concurrency int           // Max concurrent refreshes (default: 4)
	Timeout     time.Duration // Per-symbol timeout (default: 30s)
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    5 * time.Minute,
		Concurrency: 4,
		Timeout:     30 * time.Second,
	}
}

// Result summarizes one refresh cycle.
type Result struct {
	Symbols   int
	Refreshed int64
	Failed    int64
	Duration  time.Duration
}

// Refresher periodically refreshes insights.
type Refresher struct {
	cfg     Config
	symbols SymbolSource
	target  InsightRefresher
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.Mutex
	last Result
}

// New creates a new Refresher.
func New(cfg Config, symbols SymbolSource, target InsightRefresher, logger *slog.Logger) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Refresher{
		cfg:     cfg,
		symbols: symbols,
		target:  target,
		logger:  logger.With("component", "refresher"),
	}
}

// Start begins the refresh loop.
func (r *Refresher) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.run()

	r.logger.Info("insight refresher started",
		"interval", r.cfg.Interval,
		"concurrency", r.cfg.Concurrency,
	)
	return nil
}

// Stop gracefully shuts down the refresher.
func (r *Refresher) Stop(ctx context.Context) error {
	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.logger.Info("insight refresher stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastResult returns the outcome of the most recent cycle.
func (r *Refresher) LastResult() Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (r *Refresher) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	// Refresh immediately on start.
	r.RefreshAll(r.ctx)

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.RefreshAll(r.ctx)
		}
	}
}

// RefreshAll refreshes every symbol with bounded concurrency. Individual
// failures are logged and counted, never returned.
func (r *Refresher) RefreshAll(ctx context.Context) Result {
	start := time.Now()

	symbols := r.symbols.Symbols()
	if len(symbols) == 0 {
		r.logger.Debug("no symbols to refresh")
		return Result{}
	}

	var refreshed, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, sym := range symbols {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(gctx, r.cfg.Timeout)
			defer cancel()

			if _, err := r.target.RefreshInsight(sctx, sym); err != nil {
				r.logger.Warn("failed to refresh insight",
					"symbol", sym,
					"error", err,
				)
				failed.Add(1)
				return nil
			}
			refreshed.Add(1)
			return nil
		})
	}
	g.Wait()

	res := Result{
		Symbols:   len(symbols),
		Refreshed: refreshed.Load(),
		Failed:    failed.Load(),
		Duration:  time.Since(start),
	}
	r.mu.Lock()
	r.last = res
	r.mu.Unlock()

	r.logger.Info("refresh cycle complete",
		"symbols", res.Symbols,
		"refreshed", res.Refreshed,
		"failed", res.Failed,
		"duration", res.Duration,
	)
	return res
}
