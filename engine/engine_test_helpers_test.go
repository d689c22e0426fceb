package engine

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/wal"
	"github.com/stretchr/testify/require"
)

// getBaseOptsForTest returns options with a fresh data directory and a
// discarding logger.
func getBaseOptsForTest(t *testing.T) StorageEngineOptions {
	t.Helper()
	return StorageEngineOptions{
		DataDir:           t.TempDir(),
		TableSize:         1000,
		PartitionSize:     2,
		MaxPendingFlushes: 2,
		WALSyncMode:       wal.SyncAlways,
		Metrics:           NewEngineMetrics(false, "test_"),
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func openTestEngine(t *testing.T, opts StorageEngineOptions) *Engine {
	t.Helper()
	e, err := Open(opts)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })
	return e
}

func requireValue(t *testing.T, e *Engine, key, want string) {
	t.Helper()
	got, found, err := e.Get(context.Background(), key)
	require.NoError(t, err)
	require.True(t, found, "key %q should be present", key)
	require.Equal(t, want, got, "key %q", key)
}

func requireAbsent(t *testing.T, e *Engine, key string) {
	t.Helper()
	_, found, err := e.Get(context.Background(), key)
	require.NoError(t, err)
	require.False(t, found, "key %q should be absent", key)
}

// listDir returns the names in dir matching the predicate.
func listDir(t *testing.T, dir string, match func(name string) bool) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		if match(entry.Name()) {
			names = append(names, entry.Name())
		}
	}
	return names
}

func isSegmentFile(name string) bool {
	return strings.HasSuffix(name, ".sst")
}

func isFrozenWAL(name string) bool {
	return strings.HasPrefix(name, "wal-") && filepath.Ext(name) == ".tmp"
}

// listenerFunc adapts a function to hooks.HookListener.
type listenerFunc func(ctx context.Context, event hooks.HookEvent) error

func (f listenerFunc) OnEvent(ctx context.Context, event hooks.HookEvent) error { return f(ctx, event) }
func (f listenerFunc) Priority() int { return 0 }
func (f listenerFunc) IsAsync() bool { return false }

// flushGate blocks the flush worker in the PreFlushMemtable hook until released.
type flushGate struct {
	entered chan uint64
	release chan struct{}
}

func newFlushGate(m hooks.HookManager) *flushGate {
	g := &flushGate{entered: make(chan uint64, 16), release: make(chan struct{})}
	m.Register(hooks.EventPreFlushMemtable, listenerFunc(func(ctx context.Context, event hooks.HookEvent) error {
		g.entered <- event.Payload().(hooks.FlushPayload).GenerationID
		<-g.release
		return nil
	}))
	return g
}
