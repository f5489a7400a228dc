package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	yaml := `
instance:
  id: test-stream
connection:
  url: wss://feed.example.com/v1/stream
  reconnect_base_delay: 2s
  max_reconnect_attempts: -1
stream:
  batch_size: 20
  update_interval: 100ms
market:
  symbols: [AAPL, MSFT]
cache:
  namespaces:
    - name: MARKET_DATA
      default_ttl: 10s
      max_entries: 2
database:
  enabled: true
  host: localhost
  port: 5432
  name: test_db
  user: testuser
  password: testpass
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Instance.ID != "test-stream" {
		t.Errorf("Instance.ID = %q, want %q", cfg.Instance.ID, "test-stream")
	}
	if cfg.Connection.URL != "wss://feed.example.com/v1/stream" {
		t.Errorf("Connection.URL = %q", cfg.Connection.URL)
	}
	if cfg.Connection.ReconnectBaseDelay != 2*time.Second {
		t.Errorf("Connection.ReconnectBaseDelay = %v, want 2s", cfg.Connection.ReconnectBaseDelay)
	}
	if cfg.Connection.MaxReconnectAttempts != -1 {
		t.Errorf("Connection.MaxReconnectAttempts = %d, want -1", cfg.Connection.MaxReconnectAttempts)
	}
	if cfg.Stream.UpdateInterval != 100*time.Millisecond {
		t.Errorf("Stream.UpdateInterval = %v, want 100ms", cfg.Stream.UpdateInterval)
	}
	if len(cfg.Market.Symbols) != 2 || cfg.Market.Symbols[1] != "MSFT" {
		t.Errorf("Market.Symbols = %v", cfg.Market.Symbols)
	}
	if len(cfg.Cache.Namespaces) != 1 {
		t.Fatalf("Cache.Namespaces = %v, want 1 override", cfg.Cache.Namespaces)
	}
	ns := cfg.Cache.Namespaces[0]
	if ns.Name != "MARKET_DATA" || ns.DefaultTTL != 10*time.Second || ns.MaxEntries != 2 {
		t.Errorf("namespace override = %+v", ns)
	}
	if !cfg.Database.Enabled || cfg.Database.Host != "localhost" {
		t.Errorf("Database = %+v", cfg.Database)
	}
}

func TestLoadWithEnvSubstitution(t *testing.T) {
	t.Setenv("TEST_FEED_KEY", "secret123")

	yaml := `
connection:
  url: wss://feed.example.com
  api_key: ${TEST_FEED_KEY}
`
	path := writeTempFile(t, yaml)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Connection.APIKey != "secret123" {
		t.Errorf("Connection.APIKey = %q, want %q", cfg.Connection.APIKey, "secret123")
	}
}

func TestLoadEnvFiles(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MARKETSTREAM_TEST_TOKEN=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MARKETSTREAM_TEST_TOKEN", "")
	os.Unsetenv("MARKETSTREAM_TEST_TOKEN")

	if err := LoadEnvFiles(filepath.Join(dir, "missing.env"), envPath); err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if got := os.Getenv("MARKETSTREAM_TEST_TOKEN"); got != "from-dotenv" {
		t.Errorf("MARKETSTREAM_TEST_TOKEN = %q, want %q", got, "from-dotenv")
	}

	path := writeTempFile(t, "connection:\n  api_key: ${MARKETSTREAM_TEST_TOKEN}\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Connection.APIKey != "from-dotenv" {
		t.Errorf("Connection.APIKey = %q, want %q", cfg.Connection.APIKey, "from-dotenv")
	}
}

func TestLoadEnvFiles_ExistingVariableWins(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("MARKETSTREAM_TEST_MODE=file\n"), 0644); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	t.Setenv("MARKETSTREAM_TEST_MODE", "process")

	if err := LoadEnvFiles(envPath); err != nil {
		t.Fatalf("LoadEnvFiles failed: %v", err)
	}
	if got := os.Getenv("MARKETSTREAM_TEST_MODE"); got != "process" {
		t.Errorf("MARKETSTREAM_TEST_MODE = %q, want %q", got, "process")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadWithDefaults(t *testing.T) {
	yaml := `
instance:
  id: test-stream
connection:
  url: wss://feed.example.com
database:
  host: localhost
`
	path := writeTempFile(t, yaml)

	cfg, err := LoadWithDefaults(path)
	if err != nil {
		t.Fatalf("LoadWithDefaults failed: %v", err)
	}

	if cfg.Connection.ReconnectBaseDelay != DefaultReconnectBaseDelay {
		t.Errorf("ReconnectBaseDelay = %v, want default %v", cfg.Connection.ReconnectBaseDelay, DefaultReconnectBaseDelay)
	}
	if cfg.Connection.MaxReconnectAttempts != DefaultMaxReconnectAttempts {
		t.Errorf("MaxReconnectAttempts = %d, want default %d", cfg.Connection.MaxReconnectAttempts, DefaultMaxReconnectAttempts)
	}
	if cfg.Stream.BatchSize != DefaultBatchSize {
		t.Errorf("Stream.BatchSize = %d, want default %d", cfg.Stream.BatchSize, DefaultBatchSize)
	}
	if cfg.Database.Port != DefaultDBPort {
		t.Errorf("Database.Port = %d, want default %d", cfg.Database.Port, DefaultDBPort)
	}
	if cfg.Database.MaxConns != DefaultMaxConns {
		t.Errorf("Database.MaxConns = %d, want default %d", cfg.Database.MaxConns, DefaultMaxConns)
	}
	if cfg.Metrics.Path != DefaultMetricsPath {
		t.Errorf("Metrics.Path = %q, want default %q", cfg.Metrics.Path, DefaultMetricsPath)
	}
	if cfg.Logging.Output != DefaultLogOutput {
		t.Errorf("Logging.Output = %q, want default %q", cfg.Logging.Output, DefaultLogOutput)
	}
}

func TestLoadAndValidate(t *testing.T) {
	path := writeTempFile(t, "instance:\n  id: x\n")
	if _, err := LoadAndValidate(path); err == nil {
		t.Fatal("expected validation error for missing connection.url")
	}

	path = writeTempFile(t, "connection:\n  url: ws://localhost:9000\n")
	cfg, err := LoadAndValidate(path)
	if err != nil {
		t.Fatalf("LoadAndValidate failed: %v", err)
	}
	if cfg.Instance.ID == "" {
		t.Error("Instance.ID should default to a non-empty value")
	}
}

func validConfig() Config {
	cfg := Default()
	cfg.Instance.ID = "test"
	cfg.Connection.URL = "wss://feed.example.com"
	return *cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:    "missing instance id",
			mutate:  func(c *Config) { c.Instance.ID = "" },
			wantErr: "instance.id is required",
		},
		{
			name:    "missing url",
			mutate:  func(c *Config) { c.Connection.URL = "" },
			wantErr: "connection.url is required",
		},
		{
			name:    "http url",
			mutate:  func(c *Config) { c.Connection.URL = "http://feed.example.com" },
			wantErr: `connection.url must be a ws:// or wss:// URL, got "http://feed.example.com"`,
		},
		{
			name: "max delay below base",
			mutate: func(c *Config) {
				c.Connection.ReconnectBaseDelay = 5 * time.Second
				c.Connection.ReconnectMaxDelay = time.Second
			},
			wantErr: "connection.reconnect_max_delay (1s) cannot be below reconnect_base_delay (5s)",
		},
		{
			name:    "zero batch size",
			mutate:  func(c *Config) { c.Stream.BatchSize = 0 },
			wantErr: "stream.batch_size must be >= 1",
		},
		{
			name: "duplicate namespace override",
			mutate: func(c *Config) {
				c.Cache.Namespaces = []NamespaceConfig{
					{Name: "MARKET_DATA", DefaultTTL: time.Second},
					{Name: "MARKET_DATA", DefaultTTL: time.Second},
				}
			},
			wantErr: `cache.namespaces[1]: duplicate namespace "MARKET_DATA"`,
		},
		{
			name:    "completion without url",
			mutate:  func(c *Config) { c.Completion.Enabled = true },
			wantErr: "completion.base_url is required when completion is enabled",
		},
		{
			name: "database missing host",
			mutate: func(c *Config) {
				c.Database.Enabled = true
			},
			wantErr: "database.host is required",
		},
		{
			name: "min_conns exceeds max_conns",
			mutate: func(c *Config) {
				c.Database = DBConfig{Enabled: true, Host: "localhost", Name: "db", User: "user", MaxConns: 5, MinConns: 10}
			},
			wantErr: "database.min_conns (10) cannot exceed max_conns (5)",
		},
		{
			name:    "bad log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: `logging.level must be one of debug|info|warn|error, got "verbose"`,
		},
		{
			name:    "file output without path",
			mutate:  func(c *Config) { c.Logging.Output = "file" },
			wantErr: "logging.file.path is required when output is file",
		},
		{
			name:    "refresher without completion",
			mutate:  func(c *Config) { c.Refresher.Enabled = true },
			wantErr: "refresher requires completion to be enabled",
		},
		{
			name: "valid config",
			mutate: func(c *Config) {
				c.Completion = CompletionConfig{Enabled: true, BaseURL: "https://ai.example.com", MaxRetries: 1}
				c.Refresher.Enabled = true
				c.Database = DBConfig{Enabled: true, Host: "localhost", Name: "db", User: "user", MaxConns: 10, MinConns: 2}
				c.Redis.Enabled = true
			},
			wantErr: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error: %v", err)
				}
			} else {
				if err == nil {
					t.Errorf("Validate() expected error containing %q, got nil", tt.wantErr)
				} else if err.Error() != tt.wantErr {
					t.Errorf("Validate() error = %q, want %q", err.Error(), tt.wantErr)
				}
			}
		})
	}
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	return path
}
