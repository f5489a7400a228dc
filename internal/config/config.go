package config

import "time"

// Config is the root configuration for the marketstream service.
type Config struct {
	Instance   InstanceConfig   `yaml:"instance"`
	Connection ConnectionConfig `yaml:"connection"`
	Stream     StreamConfig     `yaml:"stream"`
	Market     MarketConfig     `yaml:"market"`
	Cache      CacheConfig      `yaml:"cache"`
	Completion CompletionConfig `yaml:"completion"`
	Database   DBConfig         `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	HTTP       HTTPConfig       `yaml:"http"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Logging    LoggingConfig    `yaml:"logging"`
	Refresher  RefresherConfig  `yaml:"refresher"`
}

// InstanceConfig identifies this process.
type InstanceConfig struct {
	ID string `yaml:"id"`
}

// ConnectionConfig holds the upstream websocket settings.
type ConnectionConfig struct {
	URL                  string        `yaml:"url"`
	APIKey               string        `yaml:"api_key"`
	ConnectionTimeout    time.Duration `yaml:"connection_timeout"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnect_max_delay"`
	ReconnectJitter      time.Duration `yaml:"reconnect_jitter"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"` // Negative retries forever
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	CommandRate          float64       `yaml:"command_rate"`
	CommandBurst         int           `yaml:"command_burst"`
	WriteTimeout         time.Duration `yaml:"write_timeout"`
	BufferSize           int           `yaml:"buffer_size"`
}

// StreamConfig controls per-topic batching.
type StreamConfig struct {
	BatchSize      int           `yaml:"batch_size"`
	UpdateInterval time.Duration `yaml:"update_interval"`
}

// MarketConfig controls the coordinator.
type MarketConfig struct {
	MaxDataPoints  int           `yaml:"max_data_points"`
	SnapshotTTL    time.Duration `yaml:"snapshot_ttl"`
	InsightTTL     time.Duration `yaml:"insight_ttl"`
	Symbols        []string      `yaml:"symbols"`         // Subscribed at startup
	WatchlistUsers []string      `yaml:"watchlist_users"` // Watchlists loaded and subscribed at startup
}

// NamespaceConfig overrides a cache namespace's defaults.
type NamespaceConfig struct {
	Name       string        `yaml:"name"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// CacheConfig controls the cache store and orchestrator.
type CacheConfig struct {
	SweepInterval  time.Duration     `yaml:"sweep_interval"`
	ComputeTimeout time.Duration     `yaml:"compute_timeout"`
	Namespaces     []NamespaceConfig `yaml:"namespaces"`
}

// CompletionConfig configures the AI completion client used for insights.
type CompletionConfig struct {
	Enabled    bool          `yaml:"enabled"`
	BaseURL    string        `yaml:"base_url"`
	APIKey     string        `yaml:"api_key"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DBConfig holds connection settings for the watchlist database.
type DBConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// RedisConfig configures update fan-out over Redis pub/sub.
type RedisConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
	QueueSize     int    `yaml:"queue_size"`
}

// HTTPConfig configures the consumer API server.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig controls the root logger.
type LoggingConfig struct {
	Level  string        `yaml:"level"`  // debug|info|warn|error
	Format string        `yaml:"format"` // text|json
	Output string        `yaml:"output"` // stdout|stderr|file
	File   LogFileConfig `yaml:"file"`
}

// LogFileConfig controls rotation when logging to a file.
type LogFileConfig struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// RefresherConfig controls the periodic insight warmer.
type RefresherConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Interval    time.Duration `yaml:"interval"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}
