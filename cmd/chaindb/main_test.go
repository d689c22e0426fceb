package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/INLOpen/chaindb/config"
	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/wal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateLogger(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     config.LoggingConfig
		wantErr bool
	}{
		{name: "stdout", cfg: config.LoggingConfig{Level: "info", Output: "stdout"}},
		{name: "none", cfg: config.LoggingConfig{Level: "DEBUG", Output: "none"}},
		{name: "file", cfg: config.LoggingConfig{Level: "warn", Output: "file", File: filepath.Join(t.TempDir(), "chaindb.log")}},
		{name: "file without path", cfg: config.LoggingConfig{Level: "warn", Output: "file"}, wantErr: true},
		{name: "bad level", cfg: config.LoggingConfig{Level: "loud", Output: "stdout"}, wantErr: true},
		{name: "bad output", cfg: config.LoggingConfig{Level: "info", Output: "syslog"}, wantErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			logger, closer, err := createLogger(tc.cfg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, logger)
			if closer != nil {
				require.NoError(t, closer.Close())
			}
		})
	}
}

func TestEngineOptions(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg := config.Default()
	cfg.Engine.DataDir = t.TempDir()
	cfg.Engine.Segment.Compression = "zstd"
	cfg.Engine.WAL.SyncMode = "Flush"
	cfg.Engine.LockTimeout = "250ms"

	opts, err := engineOptions(cfg, logger)
	require.NoError(t, err)
	assert.Equal(t, cfg.Engine.DataDir, opts.DataDir)
	assert.Equal(t, 1000, opts.TableSize)
	assert.Equal(t, 64, opts.PartitionSize)
	assert.Equal(t, core.CompressionZSTD, opts.SSTableCompressor.Type())
	assert.Equal(t, wal.SyncFlush, opts.WALSyncMode)
	assert.Equal(t, 250*time.Millisecond, opts.LockTimeout)

	cfg.Engine.Segment.Compression = "brotli"
	_, err = engineOptions(cfg, logger)
	require.Error(t, err)
	assert.True(t, core.IsUnsupportedError(err))
	assert.Contains(t, err.Error(), "not one of none, snappy, lz4, zstd")

	cfg = config.Default()
	cfg.Engine.DataDir = ""
	_, err = engineOptions(cfg, logger)
	require.Error(t, err)
}

func TestRun_PipedSession(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Engine.DataDir = t.TempDir()
	cfg.Engine.TableSize = 2

	var out strings.Builder
	in := strings.NewReader("set a 1\nset b 2\nset c 3\nget a\nbogus\nexit\n")
	require.NoError(t, run(context.Background(), cfg, logger, in, &out, ""))
	assert.Equal(t, "OK\nOK\nOK\n1\n(error) ERR unsupported command\n", out.String())

	out.Reset()
	in = strings.NewReader("get c\nget b\n")
	require.NoError(t, run(context.Background(), cfg, logger, in, &out, ""))
	assert.Equal(t, "3\n2\n", out.String())
}

func TestRun_InvalidTracingProtocol(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config.Default()
	cfg.Engine.DataDir = t.TempDir()
	cfg.Tracing.Enabled = true
	cfg.Tracing.Protocol = "carrier-pigeon"

	err := run(context.Background(), cfg, logger, strings.NewReader(""), io.Discard, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported tracing protocol")
}
