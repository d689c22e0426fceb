package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/hooks"
	"github.com/INLOpen/chaindb/memtable"
	"github.com/INLOpen/chaindb/sstable"
	"github.com/INLOpen/chaindb/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var errInjectedFlushFailure = errors.New("injected flush failure")

// swapLocked freezes the mutable memtable and queues it for flushing. The
// caller holds writeMu. When every flush slot is taken the call blocks until
// the worker commits a generation or a flush fails.
func (e *Engine) swapLocked() error {
	if !e.flushSlots.TryAcquire(1) {
		e.metrics.WriteStallsTotal.Add(1)
		e.logger.Warn("All flush slots in use, stalling writes.", "max_pending_flushes", e.opts.MaxPendingFlushes)
		if err := e.flushSlots.Acquire(e.haltCtx, 1); err != nil {
			if bgErr := e.backgroundError(); bgErr != nil {
				return bgErr
			}
			return ErrClosed
		}
	}

	id := e.nextGenerationID()
	job := &flushJob{
		id:      id,
		walPath: filepath.Join(e.dir, core.FormatFrozenWALFileName(id)),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	if err := e.wal.Rotate(job.walPath); err != nil {
		e.mu.Unlock()
		e.flushSlots.Release(1)
		return fmt.Errorf("failed to rotate WAL for generation %d: %w", id, err)
	}
	job.mem = e.mutable
	e.immutables = append(e.immutables, job)
	e.mutable = memtable.New(e.clock)
	e.mu.Unlock()

	e.logger.Debug("Memtable frozen.", "generation", id, "records", job.mem.Len(), "frozen_wal", job.walPath)
	// Never blocks: the queue holds as many jobs as there are slots.
	e.flushQueue <- job
	return nil
}

// nextGenerationID returns a creation timestamp in nanoseconds, bumped past
// the previous id when the clock has not advanced.
func (e *Engine) nextGenerationID() uint64 {
	id := uint64(e.clock.Now().UnixNano())
	if id <= e.lastID {
		id = e.lastID + 1
	}
	e.lastID = id
	return id
}

// flushLoop runs the queued jobs in order. After a failure the remaining jobs
// are left pending so no segment is committed past the failed generation.
func (e *Engine) flushLoop() {
	defer e.wg.Done()
	for job := range e.flushQueue {
		if e.backgroundError() != nil {
			e.logger.Warn("Skipping flush after an earlier failure.", "generation", job.id)
			continue
		}
		if err := e.flushJob(job); err != nil {
			e.failFlush(job, err)
		}
	}
}

func (e *Engine) flushJob(job *flushJob) (err error) {
	ctx, span := e.tracer.Start(context.Background(), "Engine.flush")
	span.SetAttributes(attribute.Int64("generation.id", int64(job.id)), attribute.Int("memtable.records", job.mem.Len()))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	payload := hooks.FlushPayload{GenerationID: job.id, Records: job.mem.Len(), LogicalBytes: job.mem.SizeBytes()}
	if err := e.hookManager.Trigger(ctx, hooks.NewPreFlushMemtableEvent(payload)); err != nil {
		return fmt.Errorf("flush cancelled by pre-hook: %w", err)
	}

	start := time.Now()
	seg, res, err := e.writeSegment(job.id, job.mem)
	if err != nil {
		return err
	}

	e.mu.Lock()
	e.segments = append([]*sstable.Segment{seg}, e.segments...)
	e.mu.Unlock()

	// Deleting the frozen WAL commits the generation. If it fails, the next
	// Open finds the segment and discards the WAL then.
	if err := sys.Remove(job.walPath); err != nil && !os.IsNotExist(err) {
		e.logger.Warn("Failed to remove frozen WAL after flush.", "path", job.walPath, "error", err)
	} else if err := sys.SyncDir(e.dir); err != nil {
		e.logger.Warn("Failed to sync data directory after WAL removal.", "error", err)
	}

	e.mu.Lock()
	e.immutables = slices.DeleteFunc(e.immutables, func(j *flushJob) bool { return j == job })
	e.mu.Unlock()
	e.flushSlots.Release(1)
	close(job.done)

	duration := time.Since(start)
	e.metrics.FlushTotal.Add(1)
	e.metrics.FlushRecordsTotal.Add(int64(res.Records))
	e.metrics.FlushBytesTotal.Add(res.Size)
	e.metrics.SegmentsCreatedTotal.Add(1)
	observeLatency(e.metrics.FlushLatencyHist, duration)
	span.SetAttributes(attribute.Int64("segment.size", res.Size), attribute.Int("segment.partitions", res.Partitions))

	e.hookManager.Trigger(ctx, hooks.NewPostSegmentCreateEvent(hooks.SegmentPayload{
		ID:         res.ID,
		Path:       res.Path,
		Size:       res.Size,
		Partitions: res.Partitions,
	}))
	e.hookManager.Trigger(ctx, hooks.NewPostFlushMemtableEvent(hooks.PostFlushPayload{
		GenerationID: job.id,
		Records:      res.Records,
		LogicalBytes: payload.LogicalBytes,
		SegmentPath:  res.Path,
		SegmentSize:  res.Size,
		Partitions:   res.Partitions,
	}))
	e.logger.Info("Memtable flushed to segment.", "generation", job.id, "records", res.Records, "partitions", res.Partitions, "size", res.Size, "duration", duration)
	return nil
}

// writeSegment writes mem to segment id and loads it. On failure no segment
// file is left behind.
func (e *Engine) writeSegment(id uint64, mem *memtable.Memtable) (*sstable.Segment, sstable.WriteResult, error) {
	w, err := sstable.NewWriter(sstable.WriterOptions{
		Dir:           e.dir,
		ID:            id,
		PartitionSize: e.opts.PartitionSize,
		Compressor:    e.compressor,
		Tracer:        e.tracer,
		Logger:        e.rootLogger,
	})
	if err != nil {
		return nil, sstable.WriteResult{}, fmt.Errorf("failed to create segment %d: %w", id, err)
	}

	var addErr error
	mem.Iterate(func(rec core.Record) bool {
		addErr = w.Add(rec)
		return addErr == nil
	})
	if addErr == nil && e.injectFlushFailure() {
		addErr = errInjectedFlushFailure
	}
	if addErr != nil {
		w.Abort()
		return nil, sstable.WriteResult{}, fmt.Errorf("failed to write segment %d: %w", id, addErr)
	}

	res, err := w.Finish()
	if err != nil {
		return nil, sstable.WriteResult{}, fmt.Errorf("failed to finish segment %d: %w", id, err)
	}

	seg, err := sstable.Load(sstable.LoadOptions{
		Path:   res.Path,
		ID:     id,
		Cache:  e.cache,
		Tracer: e.tracer,
		Logger: e.rootLogger,
	})
	if err != nil {
		if rmErr := sys.RemoveIfExists(res.Path); rmErr != nil {
			e.logger.Error("Failed to remove unreadable segment.", "path", res.Path, "error", rmErr)
		}
		return nil, sstable.WriteResult{}, fmt.Errorf("failed to load new segment %d: %w", id, err)
	}
	return seg, res, nil
}

func (e *Engine) injectFlushFailure() bool {
	c := e.opts.TestingOnlyFailFlushCount
	if c == nil {
		return false
	}
	for {
		n := c.Load()
		if n <= 0 {
			return false
		}
		if c.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// failFlush records the sticky error. The frozen memtable stays readable and
// its WAL stays on disk for the next Open; writes fail from now on.
func (e *Engine) failFlush(job *flushJob, cause error) {
	e.metrics.FlushErrorsTotal.Add(1)

	e.bgErrMu.Lock()
	if e.bgErr == nil {
		e.bgErr = fmt.Errorf("%w: generation %d: %w", ErrFlushFailed, job.id, cause)
	}
	e.bgErrMu.Unlock()
	e.halt()

	e.logger.Error("Flush failed, writes are disabled.", "generation", job.id, "frozen_wal", job.walPath, "error", cause)
	e.hookManager.Trigger(context.Background(), hooks.NewOnFlushErrorEvent(hooks.FlushErrorPayload{
		GenerationID: job.id,
		FrozenWAL:    job.walPath,
		Err:          cause,
	}))
}
