package config

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ValidConfig(t *testing.T) {
	yamlContent := `
engine:
  data_dir: "/tmp/test_data"
  table_size: 5000
  wal:
    sync_mode: disabled
  segment:
    compression: zstd
logging:
  level: debug
  output: stdout
debug:
  enabled: true
  listen_address: ":7070"
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, "/tmp/test_data", cfg.Engine.DataDir)
	assert.Equal(t, 5000, cfg.Engine.TableSize)
	assert.Equal(t, "disabled", cfg.Engine.WAL.SyncMode)
	assert.Equal(t, "zstd", cfg.Engine.Segment.Compression)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Debug.Enabled)
	assert.Equal(t, ":7070", cfg.Debug.ListenAddress)

	// Defaults not mentioned in the file survive.
	assert.Equal(t, 64, cfg.Engine.Segment.PartitionSize)
	assert.Equal(t, 2, cfg.Engine.MaxPendingFlushes)
	assert.Equal(t, "grpc", cfg.Tracing.Protocol)
}

func TestLoad_PartialConfig(t *testing.T) {
	yamlContent := `
engine:
  cache:
    partition_cache_capacity: -1
`
	cfg, err := Load(strings.NewReader(yamlContent))
	require.NoError(t, err)

	assert.Equal(t, -1, cfg.Engine.Cache.PartitionCacheCapacity)
	assert.Equal(t, "./data", cfg.Engine.DataDir)
	assert.Equal(t, 1000, cfg.Engine.TableSize)
	assert.Equal(t, "always", cfg.Engine.WAL.SyncMode)
}

func TestLoad_EmptyReader(t *testing.T) {
	cfg, err := Load(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_InvalidYAML(t *testing.T) {
	yamlContent := `
engine:
  data_dir: "/tmp/test_data"
  this: is: invalid: yaml
`
	_, err := Load(strings.NewReader(yamlContent))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal config yaml")
}

func TestLoad_WrongType(t *testing.T) {
	_, err := Load(strings.NewReader("engine:\n  table_size: lots\n"))
	require.Error(t, err)
}

func TestLoadConfig_FileIntegration(t *testing.T) {
	t.Run("FileExists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("engine:\n  table_size: 12345\n"), 0644))

		cfg, err := LoadConfig(configPath)
		require.NoError(t, err)
		assert.Equal(t, 12345, cfg.Engine.TableSize)
	})

	t.Run("FileDoesNotExist", func(t *testing.T) {
		cfg, err := LoadConfig(filepath.Join(t.TempDir(), "non_existent_config.yaml"))
		require.NoError(t, err)
		assert.Equal(t, 1000, cfg.Engine.TableSize)
	})

	t.Run("PathIsDirectory", func(t *testing.T) {
		_, err := LoadConfig(t.TempDir())
		require.Error(t, err)
	})
}

func TestParseDuration(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	defaultDuration := 10 * time.Second

	testCases := []struct {
		name     string
		input    string
		expected time.Duration
	}{
		{"ValidSeconds", "5s", 5 * time.Second},
		{"ValidMilliseconds", "500ms", 500 * time.Millisecond},
		{"ValidMinutes", "2m", 2 * time.Minute},
		{"EmptyString", "", defaultDuration},
		{"ZeroString", "0", defaultDuration},
		{"InvalidString", "5x", defaultDuration},
		{"JustNumber", "10", defaultDuration},
		{"NilLogger", "5x", defaultDuration},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var testLogger *slog.Logger
			if tc.name != "NilLogger" {
				testLogger = logger
			}
			assert.Equal(t, tc.expected, ParseDuration(tc.input, defaultDuration, testLogger))
		})
	}
}
