// Package publish fans coordinator updates out to Redis pub/sub so that
// processes outside this one can follow the stream.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rickgao/marketstream/internal/config"
	"github.com/rickgao/marketstream/internal/model"
)

// Client is the subset of *redis.Client the publisher uses.
type Client interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NewClient creates a Redis client and verifies it with a ping.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	return rdb, nil
}

// Config controls the publisher.
type Config struct {
	ChannelPrefix  string
	QueueSize      int
	PublishTimeout time.Duration
}

// DefaultConfig returns sensible publisher defaults.
func DefaultConfig() Config {
	return Config{
		ChannelPrefix:  "market:",
		QueueSize:      1024,
		PublishTimeout: 2 * time.Second,
	}
}

// Stats reports publisher activity.
type Stats struct {
	Published   int64
	Failed      int64
	Dropped     int64 // Queue full
	Subscribers int64 // Receivers reported by the last successful publish
}

// Publisher is a market listener that publishes each update as JSON on
// <prefix><symbol>. OnUpdate never blocks; when the queue is full the
// update is dropped and counted.
type Publisher struct {
	client Client
	cfg    Config
	logger *slog.Logger

	queue chan model.Update

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	published   atomic.Int64
	failed      atomic.Int64
	dropped     atomic.Int64
	subscribers atomic.Int64
}

// New creates a Publisher.
func New(client Client, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	return &Publisher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "redis_publisher"),
		queue:  make(chan model.Update, cfg.QueueSize),
	}
}

// Channel returns the pub/sub channel for a symbol.
func (p *Publisher) Channel(symbol string) string {
	return p.cfg.ChannelPrefix + symbol
}

// OnUpdate enqueues an update for publishing.
func (p *Publisher) OnUpdate(u model.Update) {
	select {
	case p.queue <- u:
	default:
		if p.dropped.Add(1)%100 == 1 {
			p.logger.Warn("publish queue full, dropping updates", "symbol", u.Symbol, "dropped", p.dropped.Load())
		}
	}
}

// Start begins draining the queue.
func (p *Publisher) Start(ctx context.Context) error {
	p.ctx, p.cancel = context.WithCancel(ctx)

	p.wg.Add(1)
	go p.run()

	p.logger.Info("redis publisher started", "prefix", p.cfg.ChannelPrefix, "queue_size", p.cfg.QueueSize)
	return nil
}

// Stop stops the worker and publishes whatever is still queued.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cancel != nil {
		p.cancel()
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		p.logger.Warn("redis publisher stop timed out")
		return ctx.Err()
	}

	// Final drain
	for {
		select {
		case u := <-p.queue:
			p.publish(ctx, u)
		default:
			p.logger.Info("redis publisher stopped", "published", p.published.Load(), "failed", p.failed.Load())
			return nil
		}
	}
}

// Stats returns current counters.
func (p *Publisher) Stats() Stats {
	return Stats{
		Published:   p.published.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
		Subscribers: p.subscribers.Load(),
	}
}

func (p *Publisher) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case u := <-p.queue:
			p.publish(p.ctx, u)
		}
	}
}

func (p *Publisher) publish(ctx context.Context, u model.Update) {
	data, err := json.Marshal(u)
	if err != nil {
		p.failed.Add(1)
		p.logger.Error("marshal update", "symbol", u.Symbol, "error", err)
		return
	}

	// Publishing survives worker cancellation so the final drain can finish.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.PublishTimeout)
	defer cancel()

	n, err := p.client.Publish(pubCtx, p.Channel(u.Symbol), data).Result()
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("publish update", "symbol", u.Symbol, "error", err)
		return
	}
	p.published.Add(1)
	p.subscribers.Store(n)
}
