package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Janitor periodically sweeps expired entries out of a Store so that
// namespaces that are written but rarely read do not hold dead entries.
type Janitor struct {
	store    *Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewJanitor creates a janitor sweeping store every interval.
func NewJanitor(store *Store, interval time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		store:    store,
		interval: interval,
		logger:   logger.With("component", "cache_janitor"),
	}
}

// Start schedules the sweep job.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}
	if j.interval <= 0 {
		return fmt.Errorf("janitor interval must be positive, got %s", j.interval)
	}

	c := cron.New()
	if _, err := c.AddFunc(fmt.Sprintf("@every %s", j.interval), j.sweep); err != nil {
		return fmt.Errorf("schedule sweep: %w", err)
	}
	c.Start()

	j.cron = c
	j.running = true
	j.logger.Info("janitor started", "interval", j.interval)
	return nil
}

// Stop unschedules the job and waits for a running sweep to finish.
func (j *Janitor) Stop(ctx context.Context) error {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return nil
	}
	c := j.cron
	j.running = false
	j.cron = nil
	j.mu.Unlock()

	select {
	case <-c.Stop().Done():
		j.logger.Info("janitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (j *Janitor) sweep() {
	start := time.Now()
	n := j.store.SweepExpired()
	if n > 0 {
		j.logger.Debug("sweep complete", "expired", n, "duration", time.Since(start))
	}
}
