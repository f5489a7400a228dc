package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketstream/internal/app"
	"github.com/rickgao/marketstream/internal/completion"
	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/database"
	"github.com/rickgao/marketstream/internal/httpapi"
	"github.com/rickgao/marketstream/internal/logging"
	"github.com/rickgao/marketstream/internal/metrics"
	"github.com/rickgao/marketstream/internal/publish"
	"github.com/rickgao/marketstream/internal/refresher"
	"github.com/rickgao/marketstream/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/marketstream.local.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional .env file loaded before the config")
	flag.Parse()

	if err := run(*configPath, *envFile); err != nil {
		slog.Error("marketstream exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath, envFile string) error {
	if err := config.LoadEnvFiles(envFile); err != nil {
		return err
	}
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	logger.Info("starting marketstream",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opt app.Optional

	// Watchlists
	var pool *pgxpool.Pool
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		repo := database.NewWatchlistRepo(pool, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		opt.Watchlists = repo
	}

	// Insights
	if cfg.Completion.Enabled {
		opt.Insights = completion.NewClient(
			cfg.Completion.BaseURL,
			cfg.Completion.APIKey,
			completion.WithLogger(logger),
			completion.WithModel(cfg.Completion.Model),
			completion.WithTimeout(cfg.Completion.Timeout),
			completion.WithRetries(cfg.Completion.MaxRetries, 500*time.Millisecond),
		)
	}

	core, err := app.NewCore(cfg, opt, logger)
	if err != nil {
		return err
	}

	// Redis fan-out
	var publisher *publish.Publisher
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb, err = publish.NewClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer rdb.Close()

		publisher = publish.New(rdb, publish.Config{
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			QueueSize:     cfg.Redis.QueueSize,
		}, logger)
		core.Coordinator.AddListener(publisher)
	}

	// Metrics
	var httpOpts []httpapi.Option
	httpOpts = append(httpOpts, httpapi.WithVersion(version.Get()))
	if cfg.Metrics.Enabled {
		m := metrics.New(metrics.NewStatsCollector(metrics.Sources{
			Cache:        core.Store.AllStats,
			Orchestrator: core.Orchestrator.Stats,
			BufferSize:   core.Coordinator.Buffer().Len,
			Symbols:      func() int { return len(core.Coordinator.Symbols()) },
		}))
		core.Bus.Subscribe(m)
		httpOpts = append(httpOpts, httpapi.WithMetrics(cfg.Metrics.Path, m.Handler(), m.Middleware()))
	}

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	server := httpapi.New(httpapi.Config{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
	}, core.Coordinator, logger, httpOpts...)

	var warmer *refresher.Refresher
	if cfg.Refresher.Enabled {
		warmer = refresher.New(refresher.Config{
			Interval:    cfg.Refresher.Interval,
			Concurrency: cfg.Refresher.Concurrency,
			Timeout:     cfg.Refresher.Timeout,
		}, core.Coordinator, core.Coordinator, logger)
	}

	// Start in dependency order
	if publisher != nil {
		if err := publisher.Start(ctx); err != nil {
			return err
		}
	}
	if err := core.Start(ctx); err != nil {
		return err
	}
	subscribed := core.SubscribeInitial(ctx, cfg.Market)
	if warmer != nil {
		if err := warmer.Start(ctx); err != nil {
			return err
		}
	}
	if err := server.Start(ctx); err != nil {
		return err
	}

	logger.Info("marketstream running",
		"instance_id", cfg.Instance.ID,
		"http_addr", cfg.HTTP.Addr,
		"symbols", subscribed,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout+5*time.Second)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Warn("http server stop", "error", err)
	}
	if warmer != nil {
		if err := warmer.Stop(shutdownCtx); err != nil {
			logger.Warn("refresher stop", "error", err)
		}
	}
	if err := core.Stop(shutdownCtx); err != nil {
		logger.Warn("core stop", "error", err)
	}
	if publisher != nil {
		if err := publisher.Stop(shutdownCtx); err != nil {
			logger.Warn("publisher stop", "error", err)
		}
	}

	logger.Info("marketstream stopped")
	return nil
}
