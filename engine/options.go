package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/sstable"
	"github.com/INLOpen/chaindb/wal"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidOptions = errors.New("invalid engine options")

const (
	DefaultTableSize              = 1000
	DefaultMaxPendingFlushes      = 2
	DefaultPartitionCacheCapacity = 256
	DefaultLockTimeout            = 5 * time.Second
	defaultSegmentLoadConcurrency = 8
)

// StorageEngineOptions configures Open. Zero values select the defaults above.
type StorageEngineOptions struct {
	DataDir string
	// TableSize is the record count at which the mutable memtable is frozen.
	TableSize int
	// PartitionSize is the number of records per segment partition.
	PartitionSize int
	// MaxPendingFlushes bounds the frozen memtables awaiting flush. Writers
	// block while the bound is reached.
	MaxPendingFlushes int
	// PartitionCacheCapacity is the number of decoded partitions kept in
	// memory. A negative value disables the cache.
	PartitionCacheCapacity int

	WALSyncMode       wal.WALSyncMode
	SSTableCompressor core.Compressor
	LockTimeout       time.Duration

	Metrics        *EngineMetrics
	HookManager    hooks.HookManager
	TracerProvider trace.TracerProvider
	Logger         *slog.Logger
	Clock          core.Clock

	// TestingOnlyFailFlushCount fails that many flushes before the segment
	// is renamed into place.
	TestingOnlyFailFlushCount *atomic.Int32
}

func (o *StorageEngineOptions) applyDefaults() {
	if o.TableSize == 0 {
		o.TableSize = DefaultTableSize
	}
	if o.PartitionSize == 0 {
		o.PartitionSize = sstable.DefaultPartitionSize
	}
	if o.MaxPendingFlushes == 0 {
		o.MaxPendingFlushes = DefaultMaxPendingFlushes
	}
	if o.PartitionCacheCapacity == 0 {
		o.PartitionCacheCapacity = DefaultPartitionCacheCapacity
	}
	if o.WALSyncMode == "" {
		o.WALSyncMode = wal.SyncAlways
	}
	if o.LockTimeout == 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.Clock == nil {
		o.Clock = core.SystemClock
	}
}

func (o *StorageEngineOptions) validate() error {
	var errs []error
	if o.DataDir == "" {
		errs = append(errs, errors.New("data directory must be specified"))
	}
	if o.TableSize < 1 {
		errs = append(errs, fmt.Errorf("table size must be positive, got %d", o.TableSize))
	}
	if o.PartitionSize < 1 {
		errs = append(errs, fmt.Errorf("partition size must be positive, got %d", o.PartitionSize))
	}
	if o.MaxPendingFlushes < 1 {
		errs = append(errs, fmt.Errorf("max pending flushes must be positive, got %d", o.MaxPendingFlushes))
	}
	switch o.WALSyncMode {
	case wal.SyncAlways, wal.SyncFlush, wal.SyncDisabled:
	default:
		errs = append(errs, fmt.Errorf("unknown wal sync mode %q", o.WALSyncMode))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOptions, err)
	}
	return nil
}
