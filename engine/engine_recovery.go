package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/memtable"
	"github.com/INLOpen/chaindb/sstable"
	"github.com/INLOpen/chaindb/sys"
	"github.com/INLOpen/chaindb/wal"
	"golang.org/x/sync/errgroup"
)

// recoverState rebuilds the engine from the data directory: it loads every
// segment, finishes the flushes interrupted by a crash, then replays the
// active WAL into the mutable memtable.
func (e *Engine) recoverState() error {
	ctx, span := e.tracer.Start(context.Background(), "Engine.recover")
	defer span.End()
	start := time.Now()

	entries, err := os.ReadDir(e.dir)
	if err != nil {
		return core.NewIOError("readdir", e.dir, err)
	}

	var segmentIDs, frozenIDs []uint64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, core.SegmentTempSuffix) {
			path := filepath.Join(e.dir, name)
			e.logger.Warn("Removing temporary segment left by an interrupted flush.", "path", path)
			if err := sys.RemoveIfExists(path); err != nil {
				return core.NewIOError("remove", path, err)
			}
			continue
		}
		if id, ok := core.ParseSegmentFileName(name); ok {
			segmentIDs = append(segmentIDs, id)
		} else if id, ok := core.ParseFrozenWALFileName(name); ok {
			frozenIDs = append(frozenIDs, id)
		}
	}

	if err := e.loadSegments(ctx, segmentIDs); err != nil {
		return err
	}
	for _, id := range segmentIDs {
		e.lastID = max(e.lastID, id)
	}

	slices.Sort(frozenIDs)
	recovered := 0
	for _, id := range frozenIDs {
		e.lastID = max(e.lastID, id)
		n, err := e.recoverFrozenWAL(id)
		if err != nil {
			return err
		}
		recovered += n
	}

	w, records, err := wal.Open(wal.Options{
		Path:           filepath.Join(e.dir, core.WALFileName),
		SyncMode:       e.opts.WALSyncMode,
		BytesWritten:   e.metrics.WALBytesWrittenTotal,
		EntriesWritten: e.metrics.WALEntriesWrittenTotal,
		Logger:         e.rootLogger,
		HookManager:    e.hookManager,
	})
	if err != nil {
		return fmt.Errorf("failed to open WAL: %w", err)
	}
	e.wal = w
	for _, rec := range records {
		e.mutable.Put(rec)
	}
	recovered += len(records)

	duration := time.Since(start)
	e.metrics.WALRecoveredEntriesTotal.Add(int64(recovered))
	e.metrics.WALRecoveryDurationSeconds.Set(duration.Seconds())
	e.logger.Info("Recovery complete.",
		"segments", len(e.segments),
		"frozen_wals", len(frozenIDs),
		"recovered_entries", recovered,
		"memtable_records", e.mutable.Len(),
		"duration", duration)
	return nil
}

// loadSegments opens the given segments concurrently and orders them newest first.
func (e *Engine) loadSegments(ctx context.Context, ids []uint64) error {
	segments := make([]*sstable.Segment, len(ids))
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(defaultSegmentLoadConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			seg, err := sstable.Load(sstable.LoadOptions{
				Path:   filepath.Join(e.dir, core.FormatSegmentFileName(id)),
				ID:     id,
				Cache:  e.cache,
				Tracer: e.tracer,
				Logger: e.rootLogger,
			})
			if err != nil {
				return fmt.Errorf("failed to load segment %d: %w", id, err)
			}
			segments[i] = seg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, seg := range segments {
			if seg != nil {
				seg.Close()
			}
		}
		return err
	}

	sortNewestFirst(segments)
	e.segments = segments
	return nil
}

// recoverFrozenWAL finishes the flush of generation id. If its segment was
// committed, only the WAL removal was lost; otherwise the WAL is replayed and
// flushed before any later generation is looked at.
func (e *Engine) recoverFrozenWAL(id uint64) (int, error) {
	path := filepath.Join(e.dir, core.FormatFrozenWALFileName(id))
	if slices.ContainsFunc(e.segments, func(s *sstable.Segment) bool { return s.ID() == id }) {
		e.logger.Info("Discarding frozen WAL of an already flushed generation.", "path", path)
		if err := sys.RemoveIfExists(path); err != nil {
			return 0, core.NewIOError("remove", path, err)
		}
		return 0, nil
	}

	records, err := wal.Replay(path)
	if err != nil {
		return 0, fmt.Errorf("failed to replay frozen WAL %s: %w", path, err)
	}
	mem := memtable.New(e.clock)
	for _, rec := range records {
		mem.Put(rec)
	}
	if mem.Len() > 0 {
		seg, res, err := e.writeSegment(id, mem)
		if err != nil {
			return 0, fmt.Errorf("failed to flush recovered generation %d: %w", id, err)
		}
		e.segments = append(e.segments, seg)
		sortNewestFirst(e.segments)
		e.metrics.SegmentsCreatedTotal.Add(1)
		e.logger.Info("Recovered frozen generation.", "generation", id, "records", res.Records, "segment", res.Path)
	}

	if err := sys.RemoveIfExists(path); err != nil {
		return 0, core.NewIOError("remove", path, err)
	}
	if err := sys.SyncDir(e.dir); err != nil {
		e.logger.Warn("Failed to sync data directory after WAL removal.", "error", err)
	}
	return len(records), nil
}

func sortNewestFirst(segments []*sstable.Segment) {
	sort.Slice(segments, func(i, j int) bool { return segments[i].ID() > segments[j].ID() })
}
