package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/chaindb/compressors"
	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/memtable"
	"github.com/INLOpen/chaindb/sstable"
	"github.com/INLOpen/chaindb/sys"
	"github.com/INLOpen/chaindb/wal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/semaphore"
)

var (
	ErrClosed      = errors.New("engine is closed")
	ErrFlushFailed = errors.New("background flush failed")
)

// Where a lookup was resolved, as reported to PostGet listeners.
const (
	sourceMemtable = "memtable"
	sourceFrozen   = "frozen"
	sourceSegment  = "segment"
)

// Stats is a point-in-time summary of the engine state.
type Stats struct {
	MemtableRecords int
	MemtableBytes   int64
	PendingFlushes  int
	Segments        int
	SegmentBytes    int64
	WALBytes        int64
	// FlushError is the sticky flush failure, if any.
	FlushError error
}

// flushJob is a frozen memtable generation waiting for its segment. Its WAL
// was renamed to walPath when the memtable was frozen.
type flushJob struct {
	id      uint64
	mem     *memtable.Memtable
	walPath string
	done    chan struct{}
}

// Engine is a single-process LSM key-value store. Writes go to the WAL and the
// mutable memtable; full memtables are frozen and flushed to segments by one
// background worker.
type Engine struct {
	opts StorageEngineOptions
	dir  string

	// mu guards the structures a lookup consults. Writers also hold writeMu.
	mu         sync.RWMutex
	mutable    *memtable.Memtable
	immutables []*flushJob        // oldest first
	segments   []*sstable.Segment // newest first

	writeMu sync.Mutex
	wal     *wal.WAL
	lastID  uint64

	flushSlots    *semaphore.Weighted
	flushQueue    chan *flushJob
	workerStarted bool
	wg            sync.WaitGroup

	// haltCtx is cancelled by a flush failure so stalled writers give up.
	haltCtx context.Context
	halt    context.CancelFunc
	bgErrMu sync.Mutex
	bgErr   error

	closed      atomic.Bool
	closeOnce   sync.Once
	closeErr    error
	releaseLock func() error

	cache       sstable.PartitionCache
	compressor  core.Compressor
	metrics     *EngineMetrics
	hookManager hooks.HookManager
	tracer      trace.Tracer
	rootLogger  *slog.Logger
	logger      *slog.Logger
	clock       core.Clock
	startTime   time.Time
}

// Open recovers the store in opts.DataDir and starts the flush worker.
func Open(opts StorageEngineOptions) (engine *Engine, err error) {
	opts.applyDefaults()
	if err := opts.validate(); err != nil {
		return nil, err
	}

	rootLogger := opts.Logger
	if rootLogger == nil {
		rootLogger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	logger := rootLogger.With("component", "StorageEngine")

	haltCtx, halt := context.WithCancel(context.Background())
	e := &Engine{
		opts:        opts,
		dir:         opts.DataDir,
		mutable:     memtable.New(opts.Clock),
		flushSlots:  semaphore.NewWeighted(int64(opts.MaxPendingFlushes)),
		flushQueue:  make(chan *flushJob, opts.MaxPendingFlushes),
		haltCtx:     haltCtx,
		halt:        halt,
		compressor:  opts.SSTableCompressor,
		metrics:     opts.Metrics,
		hookManager: opts.HookManager,
		rootLogger:  rootLogger,
		logger:      logger,
		clock:       opts.Clock,
		startTime:   opts.Clock.Now(),
	}
	if opts.TracerProvider != nil {
		e.tracer = opts.TracerProvider.Tracer("github.com/INLOpen/chaindb/engine")
	} else {
		e.tracer = noop.NewTracerProvider().Tracer("")
	}
	if e.hookManager == nil {
		e.hookManager = hooks.NewHookManager(rootLogger.With("component", "HookManager"))
	}
	if e.metrics == nil {
		e.metrics = NewEngineMetrics(false, "chaindb_")
	}
	if e.compressor == nil {
		e.compressor = &compressors.NoCompressionCompressor{}
	}
	if opts.PartitionCacheCapacity > 0 {
		c := sstable.NewPartitionCache(opts.PartitionCacheCapacity)
		c.SetMetrics(e.metrics.CacheHits, e.metrics.CacheMisses)
		e.cache = c
	}

	payload := hooks.EngineLifecyclePayload{DataDir: e.dir}
	if err := e.hookManager.Trigger(context.Background(), hooks.NewPreStartEngineEvent(payload)); err != nil {
		halt()
		return nil, fmt.Errorf("engine start cancelled by pre-hook: %w", err)
	}

	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		halt()
		return nil, core.NewIOError("mkdir", e.dir, err)
	}
	release, err := sys.AcquireDirLock(filepath.Join(e.dir, core.LockFileName), opts.LockTimeout)
	if err != nil {
		halt()
		return nil, fmt.Errorf("failed to lock data directory %s: %w", e.dir, err)
	}
	e.releaseLock = release
	defer func() {
		if err != nil {
			e.cleanup()
		}
	}()

	if err := e.recoverState(); err != nil {
		return nil, err
	}
	e.initializeMetrics()

	e.workerStarted = true
	e.wg.Add(1)
	go e.flushLoop()

	if e.mutable.Len() >= opts.TableSize {
		e.writeMu.Lock()
		err = e.swapLocked()
		e.writeMu.Unlock()
		if err != nil {
			return nil, err
		}
	}

	e.logger.Info("Storage engine started.", "data_dir", e.dir, "segments", len(e.segments), "memtable_records", e.mutable.Len())
	e.hookManager.Trigger(context.Background(), hooks.NewPostStartEngineEvent(payload))
	return e, nil
}

func (e *Engine) initializeMetrics() {
	e.metrics.mutableMemtableRecordsFunc = func() interface{} {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.mutable.Len()
	}
	e.metrics.mutableMemtableBytesFunc = func() interface{} {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.mutable.SizeBytes()
	}
	e.metrics.pendingFlushesFunc = func() interface{} {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return len(e.immutables)
	}
	e.metrics.segmentCountFunc = func() interface{} {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return len(e.segments)
	}
	e.metrics.uptimeSecondsFunc = func() interface{} {
		return e.clock.Now().Sub(e.startTime).Seconds()
	}
	e.metrics.publishGauges()
}

// Set stores value under key.
func (e *Engine) Set(ctx context.Context, key, value string) (err error) {
	start := time.Now()
	e.metrics.SetTotal.Add(1)
	defer func() {
		if err != nil {
			e.metrics.SetErrorsTotal.Add(1)
		}
		d := time.Since(start)
		observeLatency(e.metrics.SetLatencyHist, d)
		e.metrics.setLatency.observe(d)
	}()

	if err := e.hookManager.Trigger(ctx, hooks.NewPreSetEvent(hooks.PreSetPayload{Key: &key, Value: &value})); err != nil {
		return fmt.Errorf("set cancelled by pre-hook: %w", err)
	}
	if err := e.apply(core.NewPut(key, value)); err != nil {
		return err
	}
	e.hookManager.Trigger(ctx, hooks.NewPostSetEvent(hooks.PostSetPayload{Key: key, Value: value}))
	return nil
}

// Delete records a tombstone for key. Deleting an absent key is not an error.
func (e *Engine) Delete(ctx context.Context, key string) (err error) {
	start := time.Now()
	e.metrics.DeleteTotal.Add(1)
	defer func() {
		if err != nil {
			e.metrics.DeleteErrorsTotal.Add(1)
		}
		observeLatency(e.metrics.DeleteLatencyHist, time.Since(start))
	}()

	if err := e.hookManager.Trigger(ctx, hooks.NewPreDeleteEvent(hooks.PreDeletePayload{Key: &key})); err != nil {
		return fmt.Errorf("delete cancelled by pre-hook: %w", err)
	}
	if err := e.apply(core.NewTombstone(key)); err != nil {
		return err
	}
	e.hookManager.Trigger(ctx, hooks.NewPostDeleteEvent(hooks.PostDeletePayload{Key: key}))
	return nil
}

// apply logs rec, inserts it into the mutable memtable and freezes the
// memtable once it reaches TableSize records.
func (e *Engine) apply(rec core.Record) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	if e.closed.Load() {
		return ErrClosed
	}
	if err := e.backgroundError(); err != nil {
		return err
	}
	if _, err := e.wal.Append(rec); err != nil {
		return fmt.Errorf("failed to append to WAL: %w", err)
	}
	e.mutable.Put(rec)

	if e.mutable.Len() >= e.opts.TableSize {
		return e.swapLocked()
	}
	return nil
}

// Get returns the value stored for key. The mutable memtable is consulted
// first, then frozen memtables newest to oldest, then segments newest to
// oldest; the first record found decides, and a tombstone means absent.
func (e *Engine) Get(ctx context.Context, key string) (value string, found bool, err error) {
	ctx, span := e.tracer.Start(ctx, "Engine.Get")
	start := time.Now()
	e.metrics.GetTotal.Add(1)
	defer func() {
		if err != nil {
			e.metrics.GetErrorsTotal.Add(1)
			span.RecordError(err)
		}
		span.SetAttributes(attribute.Bool("found", found))
		span.End()
		d := time.Since(start)
		observeLatency(e.metrics.GetLatencyHist, d)
		e.metrics.getLatency.observe(d)
	}()

	if e.closed.Load() {
		return "", false, ErrClosed
	}

	e.mu.RLock()
	mutable := e.mutable
	frozen := slices.Clone(e.immutables)
	segments := e.segments
	e.mu.RUnlock()

	var source string
	rec, ok := mutable.Get(key)
	if ok {
		source = sourceMemtable
	}
	for i := len(frozen) - 1; !ok && i >= 0; i-- {
		if rec, ok = frozen[i].mem.Get(key); ok {
			source = sourceFrozen
		}
	}
	for i := 0; !ok && i < len(segments); i++ {
		rec, ok, err = segments[i].Get(key)
		if err != nil {
			return "", false, fmt.Errorf("failed to read segment %d: %w", segments[i].ID(), err)
		}
		if ok {
			source = sourceSegment
		}
	}

	found = ok && !rec.IsTombstone()
	if found {
		value = rec.Value
	}
	e.hookManager.Trigger(ctx, hooks.NewPostGetEvent(hooks.PostGetPayload{Key: key, Found: found, Source: source}))
	return value, found, nil
}

// ForceFlush freezes the mutable memtable if it holds any record. With wait
// set it blocks until every pending flush has committed.
func (e *Engine) ForceFlush(ctx context.Context, wait bool) error {
	_, span := e.tracer.Start(ctx, "Engine.ForceFlush", trace.WithAttributes(attribute.Bool("wait", wait)))
	defer span.End()

	e.writeMu.Lock()
	if e.closed.Load() {
		e.writeMu.Unlock()
		return ErrClosed
	}
	if err := e.backgroundError(); err != nil {
		e.writeMu.Unlock()
		return err
	}
	if e.mutable.Len() > 0 {
		if err := e.swapLocked(); err != nil {
			e.writeMu.Unlock()
			return err
		}
	}
	e.mu.RLock()
	var last *flushJob
	if n := len(e.immutables); n > 0 {
		last = e.immutables[n-1]
	}
	e.mu.RUnlock()
	e.writeMu.Unlock()

	if !wait || last == nil {
		return nil
	}
	// Jobs commit in order, so the newest one finishing implies all did.
	select {
	case <-last.done:
		return nil
	case <-e.haltCtx.Done():
		select {
		case <-last.done:
			return nil
		default:
		}
		if err := e.backgroundError(); err != nil {
			return err
		}
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats reports the current memtable, flush queue and segment state.
func (e *Engine) Stats() Stats {
	e.mu.RLock()
	s := Stats{
		MemtableRecords: e.mutable.Len(),
		MemtableBytes:   e.mutable.SizeBytes(),
		PendingFlushes:  len(e.immutables),
		Segments:        len(e.segments),
	}
	for _, seg := range e.segments {
		s.SegmentBytes += seg.Size()
	}
	e.mu.RUnlock()
	s.WALBytes = e.wal.Size()
	s.FlushError = e.backgroundError()
	return s
}

func (e *Engine) Metrics() *EngineMetrics {
	return e.metrics
}

func (e *Engine) GetHookManager() hooks.HookManager {
	return e.hookManager
}

func (e *Engine) GetDataDir() string {
	return e.dir
}

func (e *Engine) backgroundError() error {
	e.bgErrMu.Lock()
	defer e.bgErrMu.Unlock()
	return e.bgErr
}

// Close stops accepting writes, waits for queued flushes, and releases every
// file and the directory lock. Records still in the mutable memtable stay in
// the WAL for the next Open. Calling Close again returns the first result.
func (e *Engine) Close() error {
	e.closeOnce.Do(func() {
		e.closeErr = e.close()
	})
	return e.closeErr
}

func (e *Engine) close() error {
	ctx := context.Background()
	payload := hooks.EngineLifecyclePayload{DataDir: e.dir}
	if err := e.hookManager.Trigger(ctx, hooks.NewPreCloseEngineEvent(payload)); err != nil {
		e.logger.Warn("Pre-close hook returned an error; closing anyway.", "error", err)
	}

	e.closed.Store(true)
	// A writer stalled on a flush slot holds writeMu until the worker frees one.
	e.writeMu.Lock()
	close(e.flushQueue)
	e.writeMu.Unlock()
	e.wg.Wait()
	e.halt()

	var closeErr error
	if e.wal != nil {
		closeErr = errors.Join(closeErr, e.wal.Close())
	}
	e.mu.Lock()
	for _, seg := range e.segments {
		closeErr = errors.Join(closeErr, seg.Close())
	}
	pending := len(e.immutables)
	e.mu.Unlock()
	if e.cache != nil {
		e.cache.Clear()
	}

	e.hookManager.Trigger(ctx, hooks.NewPostCloseEngineEvent(payload))
	e.hookManager.Stop()
	closeErr = errors.Join(closeErr, e.releaseLock())

	if closeErr != nil {
		return fmt.Errorf("errors during close: %w", closeErr)
	}
	e.logger.Info("Storage engine closed.", "unflushed_generations", pending)
	return nil
}

// cleanup releases whatever a failed Open had acquired.
func (e *Engine) cleanup() {
	e.logger.Info("Cleaning up engine resources after initialization failure...")
	e.closed.Store(true)
	if e.workerStarted {
		close(e.flushQueue)
		e.wg.Wait()
	}
	e.halt()
	if e.wal != nil {
		_ = e.wal.Close()
	}
	for _, seg := range e.segments {
		_ = seg.Close()
	}
	if e.releaseLock != nil {
		if err := e.releaseLock(); err != nil {
			e.logger.Warn("Failed to release data directory lock.", "error", err)
		}
	}
}
