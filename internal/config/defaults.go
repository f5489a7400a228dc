package config

import (
	"os"
	"time"
)

// Default values for optional configuration fields.
const (
	DefaultConnectionTimeout    = 10 * time.Second
	DefaultReconnectBaseDelay   = 1 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultReconnectJitter      = 500 * time.Millisecond
	DefaultMaxReconnectAttempts = 10
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultHeartbeatTimeout     = 45 * time.Second
	DefaultCommandRate          = 50
	DefaultCommandBurst         = 100
	DefaultWriteTimeout         = 5 * time.Second
	DefaultBufferSize           = 10000
	DefaultBatchSize            = 50
	DefaultUpdateInterval       = 250 * time.Millisecond
	DefaultMaxDataPoints        = 500
	DefaultSweepInterval        = 1 * time.Minute
	DefaultComputeTimeout       = 30 * time.Second
	DefaultCompletionModel      = "market-insight-1"
	DefaultCompletionTimeout    = 30 * time.Second
	DefaultCompletionRetries    = 2
	DefaultDBPort               = 5432
	DefaultDBSSLMode            = "prefer"
	DefaultMaxConns             = 10
	DefaultMinConns             = 2
	DefaultRedisAddr            = "localhost:6379"
	DefaultChannelPrefix        = "market:"
	DefaultRedisQueueSize       = 1024
	DefaultHTTPAddr             = ":8080"
	DefaultHTTPReadTimeout      = 10 * time.Second
	DefaultHTTPWriteTimeout     = 10 * time.Second
	DefaultShutdownTimeout      = 15 * time.Second
	DefaultMetricsPath          = "/metrics"
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "text"
	DefaultLogOutput            = "stdout"
	DefaultLogMaxSizeMB         = 100
	DefaultLogMaxBackups        = 5
	DefaultLogMaxAgeDays        = 28
	DefaultRefreshInterval      = 5 * time.Minute
	DefaultRefreshConcurrency   = 4
	DefaultRefreshTimeout       = 30 * time.Second
)

// Default returns a Config with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued optional fields.
func (c *Config) ApplyDefaults() {
	if c.Instance.ID == "" {
		if h, err := os.Hostname(); err == nil && h != "" {
			c.Instance.ID = h
		} else {
			c.Instance.ID = "marketstream"
		}
	}

	// Connection defaults
	conn := &c.Connection
	if conn.ConnectionTimeout == 0 {
		conn.ConnectionTimeout = DefaultConnectionTimeout
	}
	if conn.ReconnectBaseDelay == 0 {
		conn.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if conn.ReconnectMaxDelay == 0 {
		conn.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if conn.ReconnectJitter == 0 {
		conn.ReconnectJitter = DefaultReconnectJitter
	}
	if conn.MaxReconnectAttempts == 0 {
		conn.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if conn.HeartbeatInterval == 0 {
		conn.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if conn.HeartbeatTimeout == 0 {
		conn.HeartbeatTimeout = DefaultHeartbeatTimeout
	}
	if conn.CommandRate == 0 {
		conn.CommandRate = DefaultCommandRate
	}
	if conn.CommandBurst == 0 {
		conn.CommandBurst = DefaultCommandBurst
	}
	if conn.WriteTimeout == 0 {
		conn.WriteTimeout = DefaultWriteTimeout
	}
	if conn.BufferSize == 0 {
		conn.BufferSize = DefaultBufferSize
	}

	// Stream and market defaults
	if c.Stream.BatchSize == 0 {
		c.Stream.BatchSize = DefaultBatchSize
	}
	if c.Stream.UpdateInterval == 0 {
		c.Stream.UpdateInterval = DefaultUpdateInterval
	}
	if c.Market.MaxDataPoints == 0 {
		c.Market.MaxDataPoints = DefaultMaxDataPoints
	}

	// Cache defaults
	if c.Cache.SweepInterval == 0 {
		c.Cache.SweepInterval = DefaultSweepInterval
	}
	if c.Cache.ComputeTimeout == 0 {
		c.Cache.ComputeTimeout = DefaultComputeTimeout
	}

	// Completion defaults
	if c.Completion.Model == "" {
		c.Completion.Model = DefaultCompletionModel
	}
	if c.Completion.Timeout == 0 {
		c.Completion.Timeout = DefaultCompletionTimeout
	}
	if c.Completion.MaxRetries == 0 {
		c.Completion.MaxRetries = DefaultCompletionRetries
	}

	applyDBDefaults(&c.Database)

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = DefaultRedisAddr
	}
	if c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = DefaultChannelPrefix
	}
	if c.Redis.QueueSize == 0 {
		c.Redis.QueueSize = DefaultRedisQueueSize
	}

	// HTTP and metrics defaults
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = DefaultHTTPAddr
	}
	if c.HTTP.ReadTimeout == 0 {
		c.HTTP.ReadTimeout = DefaultHTTPReadTimeout
	}
	if c.HTTP.WriteTimeout == 0 {
		c.HTTP.WriteTimeout = DefaultHTTPWriteTimeout
	}
	if c.HTTP.ShutdownTimeout == 0 {
		c.HTTP.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	applyLoggingDefaults(&c.Logging)

	// Refresher defaults
	if c.Refresher.Interval == 0 {
		c.Refresher.Interval = DefaultRefreshInterval
	}
	if c.Refresher.Concurrency == 0 {
		c.Refresher.Concurrency = DefaultRefreshConcurrency
	}
	if c.Refresher.Timeout == 0 {
		c.Refresher.Timeout = DefaultRefreshTimeout
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}

func applyLoggingDefaults(l *LoggingConfig) {
	if l.Level == "" {
		l.Level = DefaultLogLevel
	}
	if l.Format == "" {
		l.Format = DefaultLogFormat
	}
	if l.Output == "" {
		l.Output = DefaultLogOutput
	}
	if l.File.MaxSizeMB == 0 {
		l.File.MaxSizeMB = DefaultLogMaxSizeMB
	}
	if l.File.MaxBackups == 0 {
		l.File.MaxBackups = DefaultLogMaxBackups
	}
	if l.File.MaxAgeDays == 0 {
		l.File.MaxAgeDays = DefaultLogMaxAgeDays
	}
}
