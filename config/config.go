package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// WALConfig holds Write-Ahead Log specific configurations.
type WALConfig struct {
	SyncMode string `yaml:"sync_mode"` // "always", "flush" or "disabled"
}

// SegmentConfig holds segment file configurations.
type SegmentConfig struct {
	PartitionSize int    `yaml:"partition_size"`
	Compression   string `yaml:"compression"` // "none", "snappy", "lz4" or "zstd"
}

// CacheConfig holds cache-specific configurations.
type CacheConfig struct {
	PartitionCacheCapacity int `yaml:"partition_cache_capacity"`
}

// EngineConfig holds all engine-related configurations, grouped logically.
type EngineConfig struct {
	DataDir           string        `yaml:"data_dir"`
	TableSize         int           `yaml:"table_size"`
	MaxPendingFlushes int           `yaml:"max_pending_flushes"`
	LockTimeout       string        `yaml:"lock_timeout"`
	WAL               WALConfig     `yaml:"wal"`
	Segment           SegmentConfig `yaml:"segment"`
	Cache             CacheConfig   `yaml:"cache"`
}

// LoggingConfig holds logging-specific configurations.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // e.g., "debug", "info", "warn", "error"
	Output string `yaml:"output"` // e.g., "stdout", "file", "none"
	File   string `yaml:"file"`   // Path to the log file, used if output is "file"
}

// TracingConfig holds configuration for distributed tracing.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // e.g., "localhost:4317" for gRPC OTLP collector
	Protocol string `yaml:"protocol"` // "grpc" or "http"
}

// DebugConfig holds debugging-related configurations.
type DebugConfig struct {
	Enabled                 bool   `yaml:"enabled"`
	ListenAddress           string `yaml:"listen_address"`
	PProfEnabled            bool   `yaml:"pprof_enabled"`
	MetricsEnabled          bool   `yaml:"metrics_enabled"`
	MonitorUIEnabled        bool   `yaml:"monitor_ui_enabled"`
	SystemCollectorInterval string `yaml:"system_collector_interval"`
}

// Config is the top-level configuration struct.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
	Debug   DebugConfig   `yaml:"debug"`
}

// ParseDuration parses a duration string. Returns the default duration if the string is empty or invalid.
// Logs a warning if the string is invalid but not empty.
func ParseDuration(durationStr string, defaultDuration time.Duration, logger *slog.Logger) time.Duration {
	if durationStr == "" || durationStr == "0" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		if logger != nil {
			logger.Warn("Invalid duration format, using default", "input", durationStr, "default", defaultDuration.String(), "error", err)
		}
		return defaultDuration
	}
	return d
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DataDir:           "./data",
			TableSize:         1000,
			MaxPendingFlushes: 2,
			LockTimeout:       "5s",
			WAL: WALConfig{
				SyncMode: "always",
			},
			Segment: SegmentConfig{
				PartitionSize: 64,
				Compression:   "snappy",
			},
			Cache: CacheConfig{
				PartitionCacheCapacity: 256,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "file",
			File:   "chaindb.log",
		},
		Tracing: TracingConfig{
			Enabled:  false,
			Endpoint: "localhost:4317",
			Protocol: "grpc",
		},
		Debug: DebugConfig{
			Enabled:                 false,
			ListenAddress:           "127.0.0.1:6060",
			PProfEnabled:            true,
			MetricsEnabled:          true,
			MonitorUIEnabled:        true,
			SystemCollectorInterval: "15s",
		},
	}
}

// Load reads configuration from an io.Reader on top of Default.
// A nil or empty reader yields the defaults.
func Load(r io.Reader) (*Config, error) {
	cfg := Default()
	if r == nil {
		return cfg, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config data: %w", err)
	}
	if len(data) == 0 {
		return cfg, nil
	}

	// Unmarshal YAML into the config struct, overwriting defaults
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}
	return cfg, nil
}

// LoadConfig reads configuration from a YAML file by path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Load(nil)
		}
		return nil, fmt.Errorf("failed to open config file %s: %w", path, err)
	}
	defer file.Close()

	return Load(file)
}
