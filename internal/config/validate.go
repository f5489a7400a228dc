package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Instance.ID == "" {
		return errors.New("instance.id is required")
	}

	if c.Connection.URL == "" {
		return errors.New("connection.url is required")
	}
	if !strings.HasPrefix(c.Connection.URL, "ws://") && !strings.HasPrefix(c.Connection.URL, "wss://") {
		return fmt.Errorf("connection.url must be a ws:// or wss:// URL, got %q", c.Connection.URL)
	}
	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be > 0")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.ReconnectJitter < 0 {
		return errors.New("connection.reconnect_jitter must be >= 0")
	}
	if c.Connection.HeartbeatTimeout < c.Connection.HeartbeatInterval {
		return errors.New("connection.heartbeat_timeout must be >= heartbeat_interval")
	}
	if c.Connection.CommandRate < 0 {
		return errors.New("connection.command_rate must be >= 0")
	}

	if c.Stream.BatchSize < 1 {
		return errors.New("stream.batch_size must be >= 1")
	}
	if c.Stream.UpdateInterval <= 0 {
		return errors.New("stream.update_interval must be > 0")
	}
	if c.Market.MaxDataPoints < 1 {
		return errors.New("market.max_data_points must be >= 1")
	}

	seen := make(map[string]bool, len(c.Cache.Namespaces))
	for i, ns := range c.Cache.Namespaces {
		prefix := fmt.Sprintf("cache.namespaces[%d]", i)
		if ns.Name == "" {
			return fmt.Errorf("%s.name is required", prefix)
		}
		if seen[ns.Name] {
			return fmt.Errorf("%s: duplicate namespace %q", prefix, ns.Name)
		}
		seen[ns.Name] = true
		if ns.DefaultTTL < 0 {
			return fmt.Errorf("%s.default_ttl must be >= 0", prefix)
		}
		if ns.MaxEntries < 0 {
			return fmt.Errorf("%s.max_entries must be >= 0", prefix)
		}
	}

	if c.Completion.Enabled && c.Completion.BaseURL == "" {
		return errors.New("completion.base_url is required when completion is enabled")
	}

	if c.Database.Enabled {
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when redis is enabled")
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /, got %q", c.Metrics.Path)
	}

	if err := c.Logging.validate(); err != nil {
		return err
	}

	if c.Refresher.Enabled {
		if !c.Completion.Enabled {
			return errors.New("refresher requires completion to be enabled")
		}
		if c.Refresher.Concurrency < 1 {
			return errors.New("refresher.concurrency must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func (l *LoggingConfig) validate() error {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug|info|warn|error, got %q", l.Level)
	}
	switch l.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", l.Format)
	}
	switch l.Output {
	case "stdout", "stderr":
	case "file":
		if l.File.Path == "" {
			return errors.New("logging.file.path is required when output is file")
		}
	default:
		return fmt.Errorf("logging.output must be stdout, stderr or file, got %q", l.Output)
	}
	return nil
}
