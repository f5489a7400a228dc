// streamtail connects to the upstream feed and prints coordinator updates
// to the console.
// Usage: go run ./cmd/streamtail --config configs/marketstream.local.yaml --symbols AAPL,MSFT
//
// The upstream API key is read from the config, which may reference
// environment variables such as ${MARKETSTREAM_API_KEY}.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rickgao/marketstream/internal/app"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/event"
	"github.com/rickgao/marketstream/internal/market"
	"github.com/rickgao/marketstream/internal/model"
)

func main() {
	configPath := flag.String("config", "configs/marketstream.example.yaml", "path to config file")
	symbols := flag.String("symbols", "", "comma-separated symbols, overrides market.symbols")
	verbose := flag.Bool("verbose", false, "print full update JSON")
	flag.Parse()

	// Setup logger
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	if err := config.LoadEnvFiles(".env"); err != nil {
		logger.Error("failed to load .env", "error", err)
		os.Exit(1)
	}
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *symbols != "" {
		cfg.Market.Symbols = strings.Split(*symbols, ",")
		cfg.Market.WatchlistUsers = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	core, err := app.NewCore(cfg, app.Optional{}, logger)
	if err != nil {
		logger.Error("failed to build stream", "error", err)
		os.Exit(1)
	}

	core.Coordinator.AddListener(market.ListenerFunc(func(u model.Update) {
		printUpdate(u, *verbose)
	}))
	core.Bus.Subscribe(event.ObserverFunc(func(e event.Event) {
		if ev, ok := e.(event.ConnectionStateChanged); ok {
			fmt.Printf("[STATE] %s -> %s attempt=%d\n", ev.From, ev.To, ev.Attempt)
		}
	}))

	if err := core.Start(ctx); err != nil {
		logger.Error("failed to start stream", "error", err)
		os.Exit(1)
	}
	n := core.SubscribeInitial(ctx, cfg.Market)
	logger.Info("streaming started - press Ctrl+C to stop", "symbols", n)

	// Stats printer
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				h := core.Coordinator.GetConnectionHealth()
				st := core.Coordinator.Stats()
				conn := core.Connection.Stats()
				logger.Info("stats",
					"state", h.State,
					"latency_ms", h.LatencyMs,
					"symbols", st.Symbols,
					"updates", st.Updates,
					"rejected", st.Rejected,
					"ticks_received", conn.TicksReceived,
					"buffered", h.BufferSize,
				)
			}
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down...")
	if err := core.Stop(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("shutdown complete")
}

func printUpdate(u model.Update, verbose bool) {
	if verbose {
		data, _ := json.MarshalIndent(u, "", "  ")
		fmt.Printf("[UPDATE] %s\n", data)
		return
	}
	q := u.Tick.Payload
	fmt.Printf("[UPDATE] %s price=%s bid=%s ask=%s vol=%d chg=%s (%s%%) %s batched=%d\n",
		u.Symbol, q.Price, q.Bid, q.Ask, q.Volume,
		u.Derived.Change, u.Derived.ChangePercent.StringFixed(2), u.Derived.Direction, u.Batched)
}
