package wal

import (
	"context"
	"encoding/binary"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWALOptions(t *testing.T, dir string) Options {
	t.Helper()
	return Options{
		Path:     filepath.Join(dir, core.WALFileName),
		SyncMode: SyncAlways,
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func createTestRecords(count int) []core.Record {
	recs := make([]core.Record, count)
	for i := range recs {
		if i%4 == 3 {
			recs[i] = core.NewTombstone(fmt.Sprintf("key-%d", i-1))
			continue
		}
		recs[i] = core.NewPut(fmt.Sprintf("key-%d", i), fmt.Sprintf("value-%d", i))
	}
	return recs
}

func mustAppend(t *testing.T, w *WAL, rec core.Record) int64 {
	t.Helper()
	offset, err := w.Append(rec)
	require.NoError(t, err)
	return offset
}

func TestOpenWAL_New(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())

	w, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	assert.Empty(t, recovered)
	assert.Equal(t, int64(0), w.Size())
	assert.FileExists(t, opts.Path)
}

func TestWAL_AppendAndRecover(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())
	opts.BytesWritten = new(expvar.Int)
	opts.EntriesWritten = new(expvar.Int)

	w, _, err := Open(opts)
	require.NoError(t, err)
	records := createTestRecords(10)
	var want int64
	for _, r := range records {
		assert.Equal(t, want, mustAppend(t, w, r), "entry starts where the previous one ended")
		want += int64(4 + core.EncodedRecordSize(r))
	}
	size := w.Size()
	assert.Equal(t, want, size)
	require.NoError(t, w.Close())

	assert.Equal(t, int64(10), opts.EntriesWritten.Value())
	assert.Equal(t, size, opts.BytesWritten.Value())
	info, err := os.Stat(opts.Path)
	require.NoError(t, err)
	assert.Equal(t, size, info.Size())

	w2, recovered, err := Open(opts)
	require.NoError(t, err)
	defer w2.Close()
	assert.Equal(t, records, recovered)
	assert.Equal(t, size, w2.Size())
	assert.Equal(t, size, mustAppend(t, w2, core.NewPut("next", "x")), "reopened log appends at its end")
}

func TestWAL_EntryLayout(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())
	w, _, err := Open(opts)
	require.NoError(t, err)
	rec := core.NewPut("k", "v")
	mustAppend(t, w, rec)
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(opts.Path)
	require.NoError(t, err)
	require.Len(t, raw, 4+core.EncodedRecordSize(rec))
	assert.Equal(t, uint32(core.EncodedRecordSize(rec)), binary.BigEndian.Uint32(raw[:4]))
	assert.Equal(t, core.EncodeRecord(rec), raw[4:])
}

func TestWAL_TornTailIsDiscarded(t *testing.T) {
	testCases := []struct {
		name string
		tail []byte
	}{
		{name: "partial length prefix", tail: []byte{0x00, 0x00}},
		{name: "length without payload", tail: []byte{0x00, 0x00, 0x00, 0x20}},
		{name: "partial payload", tail: append([]byte{0x00, 0x00, 0x00, 0x20}, []byte("abc")...)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			opts := testWALOptions(t, t.TempDir())
			w, _, err := Open(opts)
			require.NoError(t, err)
			records := createTestRecords(3)
			for _, r := range records {
				mustAppend(t, w, r)
			}
			validSize := w.Size()
			require.NoError(t, w.Close())

			f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_WRONLY, 0)
			require.NoError(t, err)
			_, err = f.Write(tc.tail)
			require.NoError(t, err)
			require.NoError(t, f.Close())

			w2, recovered, err := Open(opts)
			require.NoError(t, err)
			assert.Equal(t, records, recovered)

			info, err := os.Stat(opts.Path)
			require.NoError(t, err)
			assert.Equal(t, validSize, info.Size(), "torn tail should be truncated")

			extra := core.NewPut("after", "crash")
			assert.Equal(t, validSize, mustAppend(t, w2, extra))
			require.NoError(t, w2.Close())

			recovered, err = Replay(opts.Path)
			require.NoError(t, err)
			assert.Equal(t, append(records, extra), recovered)
		})
	}
}

func TestWAL_CorruptedPayload(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())
	w, _, err := Open(opts)
	require.NoError(t, err)
	mustAppend(t, w, core.NewPut("key", "value"))
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(opts.Path)
	require.NoError(t, err)
	raw[4+4+3] = 'Z' // entry type byte
	require.NoError(t, os.WriteFile(opts.Path, raw, 0o644))

	_, _, err = Open(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrCorrupted)

	_, err = Replay(opts.Path)
	assert.ErrorIs(t, err, core.ErrCorrupted)
}

type listenerFunc func(event hooks.HookEvent)

func (f listenerFunc) OnEvent(_ context.Context, event hooks.HookEvent) error {
	f(event)
	return nil
}
func (f listenerFunc) Priority() int { return 0 }
func (f listenerFunc) IsAsync() bool { return false }

func TestWAL_Rotate(t *testing.T) {
	dir := t.TempDir()
	opts := testWALOptions(t, dir)
	manager := hooks.NewHookManager(nil)
	rotations := make(chan hooks.PostWALRotatePayload, 1)
	manager.Register(hooks.EventPostWALRotate, listenerFunc(func(event hooks.HookEvent) {
		rotations <- event.Payload().(hooks.PostWALRotatePayload)
	}))
	opts.HookManager = manager

	w, _, err := Open(opts)
	require.NoError(t, err)
	defer w.Close()

	frozen := createTestRecords(4)
	for _, r := range frozen {
		mustAppend(t, w, r)
	}

	frozenPath := filepath.Join(dir, core.FormatFrozenWALFileName(1))
	require.NoError(t, w.Rotate(frozenPath))
	assert.Equal(t, int64(0), w.Size())

	payload := <-rotations
	assert.Equal(t, frozenPath, payload.FrozenPath)
	assert.Equal(t, int64(4), payload.Entries)

	fresh := core.NewPut("fresh", "1")
	mustAppend(t, w, fresh)

	got, err := Replay(frozenPath)
	require.NoError(t, err)
	assert.Equal(t, frozen, got)

	got, err = Replay(opts.Path)
	require.NoError(t, err)
	assert.Equal(t, []core.Record{fresh}, got)
}

func TestWAL_SyncDisabledFlushesOnClose(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())
	opts.SyncMode = SyncDisabled
	w, _, err := Open(opts)
	require.NoError(t, err)
	records := createTestRecords(5)
	for _, r := range records {
		mustAppend(t, w, r)
	}
	require.NoError(t, w.Close())

	got, err := Replay(opts.Path)
	require.NoError(t, err)
	assert.Equal(t, records, got)
}

func TestWAL_Close(t *testing.T) {
	opts := testWALOptions(t, t.TempDir())
	w, _, err := Open(opts)
	require.NoError(t, err)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "closing twice is a no-op")

	_, err = w.Append(core.NewPut("k", "v"))
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, w.Sync(), ErrClosed)
	assert.ErrorIs(t, w.Rotate(opts.Path+".frozen"), ErrClosed)
}

func TestReplay_MissingFile(t *testing.T) {
	got, err := Replay(filepath.Join(t.TempDir(), "nope"))
	require.NoError(t, err)
	assert.Empty(t, got)
}
