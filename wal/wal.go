package wal

import (
	"bufio"
	"context"
	"errors"
	"expvar"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/sys"
)

// WALSyncMode defines how eagerly appended entries reach stable storage.
type WALSyncMode string

const (
	SyncAlways   WALSyncMode = "always"   // fsync before Append returns
	SyncFlush    WALSyncMode = "flush"    // hand each entry to the OS, no fsync
	SyncDisabled WALSyncMode = "disabled" // buffer in process; testing and benchmarks only
)

// ErrClosed is returned by operations on a closed WAL.
var ErrClosed = errors.New("wal is closed")

// Options holds configuration for the WAL.
type Options struct {
	// Path is the full path of the active log file.
	Path           string
	SyncMode       WALSyncMode
	BytesWritten   *expvar.Int
	EntriesWritten *expvar.Int
	Logger         *slog.Logger
	HookManager    hooks.HookManager
}

// WAL is an append-only log backing the mutable memtable.
type WAL struct {
	mu   sync.Mutex
	opts Options
	path string

	file    sys.FileHandle
	writer  *bufio.Writer
	scratch []byte
	size    int64
	entries int64
	// broken is set when a partial write may have left garbage at the tail.
	broken error

	logger      *slog.Logger
	hookManager hooks.HookManager
}

// Open creates or opens the log at opts.Path and replays it. A torn final
// entry is cut off so later appends follow the last complete one.
func Open(opts Options) (*WAL, []core.Record, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SyncMode == "" {
		opts.SyncMode = SyncAlways
	}
	logger := opts.Logger.With("component", "WAL")

	if err := os.MkdirAll(filepath.Dir(opts.Path), 0o755); err != nil {
		return nil, nil, core.NewIOError("mkdir", filepath.Dir(opts.Path), err)
	}

	file, err := sys.OpenFile(opts.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, core.NewIOError("open", opts.Path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, nil, core.NewIOError("stat", opts.Path, err)
	}
	res, err := replayStream(file, info.Size(), opts.Path)
	if err != nil {
		file.Close()
		return nil, nil, err
	}

	truncated := info.Size() - res.validSize
	if res.torn {
		logger.Warn("Discarding torn WAL tail", "path", opts.Path, "valid_size", res.validSize, "discarded_bytes", truncated)
		if err := file.Truncate(res.validSize); err != nil {
			file.Close()
			return nil, nil, core.NewIOError("truncate", opts.Path, err)
		}
		if err := file.Sync(); err != nil {
			file.Close()
			return nil, nil, core.NewIOError("sync", opts.Path, err)
		}
	}
	if _, err := file.Seek(res.validSize, io.SeekStart); err != nil {
		file.Close()
		return nil, nil, core.NewIOError("seek", opts.Path, err)
	}

	w := &WAL{
		opts:        opts,
		path:        opts.Path,
		file:        file,
		writer:      bufio.NewWriterSize(file, 32*1024),
		size:        res.validSize,
		entries:     int64(len(res.records)),
		logger:      logger,
		hookManager: opts.HookManager,
	}
	logger.Info("WAL opened.", "path", opts.Path, "recovered_entries", len(res.records), "size", res.validSize)

	if w.hookManager != nil {
		w.hookManager.Trigger(context.Background(), hooks.NewPostWALRecoveryEvent(hooks.PostWALRecoveryPayload{
			Path:             opts.Path,
			RecoveredEntries: len(res.records),
			TruncatedBytes:   truncated,
		}))
	}
	return w, res.records, nil
}

// Replay reads every complete entry of the log at path without modifying it.
// A missing file yields no records.
func Replay(path string) ([]core.Record, error) {
	file, err := sys.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, core.NewIOError("open", path, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, core.NewIOError("stat", path, err)
	}
	res, err := replayStream(file, info.Size(), path)
	if err != nil {
		return nil, err
	}
	return res.records, nil
}

// Append logs rec and returns the file offset at which its entry starts.
// With SyncAlways the entry is on stable storage when Append returns.
func (w *WAL) Append(rec core.Record) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return 0, ErrClosed
	}
	if w.broken != nil {
		return 0, fmt.Errorf("wal unusable after earlier failure: %w", w.broken)
	}

	offset := w.size
	var n int
	var err error
	w.scratch, n, err = writeEntry(w.writer, w.scratch, rec)
	if err == nil {
		err = w.commitLocked()
	}
	if err != nil {
		w.broken = core.NewIOError("append", w.path, err)
		return 0, w.broken
	}

	w.size += int64(n)
	w.entries++
	if w.opts.BytesWritten != nil {
		w.opts.BytesWritten.Add(int64(n))
	}
	if w.opts.EntriesWritten != nil {
		w.opts.EntriesWritten.Add(1)
	}
	return offset, nil
}

func (w *WAL) commitLocked() error {
	switch w.opts.SyncMode {
	case SyncDisabled:
		return nil
	case SyncFlush:
		return w.writer.Flush()
	default:
		if err := w.writer.Flush(); err != nil {
			return err
		}
		return w.file.Sync()
	}
}

// Sync flushes buffered entries and fsyncs the file.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ErrClosed
	}
	if err := w.writer.Flush(); err != nil {
		return core.NewIOError("flush", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return core.NewIOError("sync", w.path, err)
	}
	return nil
}

// Rotate moves the current log to frozenPath and starts a new empty log at
// the original path. The frozen file keeps every entry appended so far.
func (w *WAL) Rotate(frozenPath string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return ErrClosed
	}
	if w.broken != nil {
		return fmt.Errorf("wal unusable after earlier failure: %w", w.broken)
	}
	if err := w.writer.Flush(); err != nil {
		return core.NewIOError("flush", w.path, err)
	}
	if err := w.file.Sync(); err != nil {
		return core.NewIOError("sync", w.path, err)
	}
	if err := w.file.Close(); err != nil {
		w.logger.Error("Failed to close WAL before rotation", "path", w.path, "error", err)
	}
	w.file = nil

	if err := sys.Rename(w.path, frozenPath); err != nil {
		// The old log is still in place; keep appending to it.
		if reopenErr := w.reopenLocked(os.O_RDWR); reopenErr != nil {
			return errors.Join(core.NewIOError("rename", frozenPath, err), reopenErr)
		}
		return core.NewIOError("rename", frozenPath, err)
	}

	frozenEntries := w.entries
	if err := w.reopenLocked(os.O_RDWR | os.O_CREATE | os.O_TRUNC); err != nil {
		return err
	}
	if err := sys.SyncDir(filepath.Dir(w.path)); err != nil {
		w.logger.Warn("Failed to sync directory after WAL rotation", "dir", filepath.Dir(w.path), "error", err)
	}
	w.size = 0
	w.entries = 0

	w.logger.Debug("Rotated WAL", "frozen_path", frozenPath, "entries", frozenEntries)
	if w.hookManager != nil {
		w.hookManager.Trigger(context.Background(), hooks.NewPostWALRotateEvent(hooks.PostWALRotatePayload{
			FrozenPath: frozenPath,
			ActivePath: w.path,
			Entries:    frozenEntries,
		}))
	}
	return nil
}

func (w *WAL) reopenLocked(flag int) error {
	file, err := sys.OpenFile(w.path, flag, 0o644)
	if err != nil {
		return core.NewIOError("open", w.path, err)
	}
	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		file.Close()
		return core.NewIOError("seek", w.path, err)
	}
	w.file = file
	w.writer.Reset(file)
	return nil
}

// Close flushes and syncs buffered entries and closes the file.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	var errs []error
	if w.broken == nil {
		if err := w.writer.Flush(); err != nil {
			errs = append(errs, core.NewIOError("flush", w.path, err))
		} else if err := w.file.Sync(); err != nil {
			errs = append(errs, core.NewIOError("sync", w.path, err))
		}
	}
	if err := w.file.Close(); err != nil {
		errs = append(errs, core.NewIOError("close", w.path, err))
	}
	w.file = nil

	closeErr := errors.Join(errs...)
	if closeErr != nil {
		w.logger.Error("Error during WAL close.", "error", closeErr)
	} else {
		w.logger.Info("WAL closed.")
	}
	return closeErr
}

// Path returns the path of the active log file.
func (w *WAL) Path() string {
	return w.path
}

// Size returns the number of bytes logged since the last rotation.
func (w *WAL) Size() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

// Entries returns the number of entries logged since the last rotation.
func (w *WAL) Entries() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.entries
}
