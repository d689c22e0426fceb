package sstable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/INLOpen/chaindb/cache"
	"github.com/INLOpen/chaindb/compressors"
	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// PartitionKey identifies a decoded partition in the shared cache.
type PartitionKey struct {
	SegmentID uint64
	Offset    uint64
}

// PartitionCache holds decoded partitions across all segments.
type PartitionCache = cache.Interface[PartitionKey, []core.Record]

// NewPartitionCache returns an LRU cache for capacity partitions.
func NewPartitionCache(capacity int) *cache.LRUCache[PartitionKey, []core.Record] {
	return cache.NewLRUCache[PartitionKey, []core.Record](capacity, nil)
}

// LoadOptions holds all parameters for opening a segment.
type LoadOptions struct {
	Path   string
	ID     uint64
	Cache  PartitionCache
	Tracer trace.Tracer
	Logger *slog.Logger
}

// Segment is an immutable, sorted file of records. Only the footer and sparse
// index are held in memory; partitions are read on demand with positional
// reads, so lookups may run concurrently.
type Segment struct {
	mu         sync.RWMutex
	file       sys.FileHandle
	path       string
	id         uint64
	size       int64
	footer     Footer
	index      *SparseIndex
	compressor core.Compressor
	cache      PartitionCache
	tracer     trace.Tracer
	logger     *slog.Logger
}

// Load opens the segment at opts.Path, validates its footer and reads its sparse index.
func Load(opts LoadOptions) (seg *Segment, err error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("chaindb/sstable")
	}
	_, span := opts.Tracer.Start(context.Background(), "Segment.Load")
	span.SetAttributes(attribute.String("segment.path", opts.Path), attribute.Int64("segment.id", int64(opts.ID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	file, err := sys.Open(opts.Path)
	if err != nil {
		return nil, core.NewIOError("open", opts.Path, err)
	}
	defer func() {
		if err != nil {
			file.Close()
		}
	}()

	stat, err := file.Stat()
	if err != nil {
		return nil, core.NewIOError("stat", opts.Path, err)
	}
	size := stat.Size()
	if size < FooterSize {
		return nil, &core.CorruptionError{Path: opts.Path, Reason: fmt.Sprintf("file size %d smaller than footer", size)}
	}

	footer, err := ReadFooter(file)
	if err != nil {
		return nil, core.NewIOError("read footer", opts.Path, err)
	}
	if err := footer.Validate(size); err != nil {
		return nil, &core.CorruptionError{Path: opts.Path, Offset: size - FooterSize, Reason: err.Error()}
	}

	sparse := make([]byte, footer.SparseLength)
	if _, err := file.ReadAt(sparse, int64(footer.SparseStart)); err != nil && err != io.EOF {
		return nil, core.NewIOError("read index", opts.Path, err)
	}
	index, err := DecodeSparseIndex(sparse, footer.DataStart, footer.DataStart+footer.DataLength)
	if err != nil {
		return nil, &core.CorruptionError{Path: opts.Path, Offset: int64(footer.SparseStart), Reason: err.Error()}
	}

	compressor, err := compressors.Get(footer.Compression)
	if err != nil {
		return nil, &core.CorruptionError{Path: opts.Path, Reason: err.Error()}
	}

	span.SetAttributes(attribute.Int("segment.partitions", index.Len()))
	return &Segment{
		file:       file,
		path:       opts.Path,
		id:         opts.ID,
		size:       size,
		footer:     footer,
		index:      index,
		compressor: compressor,
		cache:      opts.Cache,
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "Segment", "segment_id", opts.ID),
	}, nil
}

// Get returns the record stored for key. A tombstone is returned as found.
// Keys sorting before the first partition are rejected without any I/O.
func (s *Segment) Get(key string) (core.Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return core.Record{}, false, ErrClosed
	}

	pos, ok := s.index.Find(key)
	if !ok {
		return core.Record{}, false, nil
	}
	records, err := s.readPartition(pos)
	if err != nil {
		return core.Record{}, false, err
	}
	i := sort.Search(len(records), func(i int) bool { return records[i].Key >= key })
	if i < len(records) && records[i].Key == key {
		return records[i], true, nil
	}
	return core.Record{}, false, nil
}

// Query returns the value stored for key. Tombstones and absent keys both
// report false.
func (s *Segment) Query(key string) (string, bool, error) {
	rec, found, err := s.Get(key)
	if err != nil || !found || rec.IsTombstone() {
		return "", false, err
	}
	return rec.Value, true, nil
}

// Partitions calls fn for each partition in key order and stops at the first
// error from fn or from a read.
func (s *Segment) Partitions(fn func(entry IndexEntry, records []core.Record) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.file == nil {
		return ErrClosed
	}
	for _, entry := range s.index.Entries() {
		records, err := s.readPartition(entry.Position)
		if err != nil {
			return err
		}
		if err := fn(entry, records); err != nil {
			return err
		}
	}
	return nil
}

// readPartition must be called with s.mu read locked.
func (s *Segment) readPartition(pos Position) (records []core.Record, err error) {
	_, span := s.tracer.Start(context.Background(), "Segment.readPartition")
	span.SetAttributes(attribute.Int64("segment.partition_offset", int64(pos.Offset)), attribute.Int64("segment.partition_length", int64(pos.Length)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	cacheKey := PartitionKey{SegmentID: s.id, Offset: pos.Offset}
	if s.cache != nil {
		if cached, ok := s.cache.Get(cacheKey); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return cached, nil
		}
		span.SetAttributes(attribute.Bool("cache.hit", false))
	}

	raw := make([]byte, pos.Length)
	if _, err := s.file.ReadAt(raw, int64(pos.Offset)); err != nil && !(err == io.EOF && len(raw) == 0) {
		return nil, core.NewIOError("read partition", s.path, err)
	}
	decoded, err := compressors.DecompressAll(s.compressor, raw)
	if err != nil {
		return nil, &core.CorruptionError{Path: s.path, Offset: int64(pos.Offset), Reason: err.Error()}
	}
	records, err = core.DecodeRecords(decoded)
	if err != nil {
		return nil, &core.CorruptionError{Path: s.path, Offset: int64(pos.Offset), Reason: err.Error()}
	}

	if s.cache != nil {
		s.cache.Put(cacheKey, records)
	}
	return records, nil
}

// Close releases the file handle. Lookups after Close return ErrClosed.
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return core.NewIOError("close", s.path, err)
	}
	return nil
}

func (s *Segment) ID() uint64 { return s.id }
func (s *Segment) Path() string { return s.path }
func (s *Segment) Size() int64 { return s.size }
func (s *Segment) Footer() Footer { return s.footer }
func (s *Segment) Index() *SparseIndex { return s.index }
