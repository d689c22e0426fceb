package sstable

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/INLOpen/chaindb/compressors"
	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/sys"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// WriterOptions configures a segment build.
type WriterOptions struct {
	Dir           string
	ID            uint64
	PartitionSize int
	Compressor    core.Compressor
	Tracer        trace.Tracer
	Logger        *slog.Logger
}

// WriteResult describes a committed segment file.
type WriteResult struct {
	ID         uint64
	Path       string
	Size       int64
	Records    int
	Partitions int
}

// Writer builds a segment from records supplied in strictly ascending key
// order. Data goes to a temporary file that Finish renames into place, so a
// segment either exists completely or not at all.
type Writer struct {
	opts      WriterOptions
	tempPath  string
	finalPath string
	file      sys.FileHandle
	out       *bufio.Writer
	offset    uint64

	index      SparseIndex
	partition  bytes.Buffer
	compressed *bytes.Buffer
	firstKey   string
	lastKey    string
	inPart     int
	records    int

	done   bool
	tracer trace.Tracer
	logger *slog.Logger
}

// NewWriter creates the temporary file for segment opts.ID.
func NewWriter(opts WriterOptions) (*Writer, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = noop.NewTracerProvider().Tracer("chaindb/sstable")
	}
	if opts.PartitionSize <= 0 {
		opts.PartitionSize = DefaultPartitionSize
	}
	if opts.Compressor == nil {
		opts.Compressor = &compressors.NoCompressionCompressor{}
	}

	tempPath := filepath.Join(opts.Dir, core.FormatSegmentTempFileName(opts.ID))
	file, err := sys.Create(tempPath)
	if err != nil {
		return nil, core.NewIOError("create", tempPath, err)
	}

	return &Writer{
		opts:       opts,
		tempPath:   tempPath,
		finalPath:  filepath.Join(opts.Dir, core.FormatSegmentFileName(opts.ID)),
		file:       file,
		out:        bufio.NewWriterSize(file, 64*1024),
		compressed: core.BufferPool.Get(),
		tracer:     opts.Tracer,
		logger:     opts.Logger.With("component", "SegmentWriter", "segment_id", opts.ID),
	}, nil
}

// Add appends rec to the current partition, closing the partition once it
// holds PartitionSize records.
func (w *Writer) Add(rec core.Record) error {
	if w.done {
		return errors.New("segment writer already finished")
	}
	if w.records > 0 && rec.Key <= w.lastKey {
		return fmt.Errorf("segment keys must strictly ascend: %q after %q", rec.Key, w.lastKey)
	}
	if !rec.Type.Valid() {
		return fmt.Errorf("cannot write record %q with entry type %d", rec.Key, rec.Type)
	}

	if w.inPart == 0 {
		w.firstKey = rec.Key
	}
	w.partition.Write(core.AppendRecord(w.partition.AvailableBuffer(), rec))
	w.inPart++
	w.records++
	w.lastKey = rec.Key

	if w.inPart >= w.opts.PartitionSize {
		return w.flushPartition()
	}
	return nil
}

func (w *Writer) flushPartition() error {
	if w.inPart == 0 {
		return nil
	}
	if err := w.opts.Compressor.CompressTo(w.compressed, w.partition.Bytes()); err != nil {
		return fmt.Errorf("failed to compress partition starting at %q: %w", w.firstKey, err)
	}
	n, err := w.out.Write(w.compressed.Bytes())
	if err != nil {
		return core.NewIOError("write", w.tempPath, err)
	}
	w.index.Add(w.firstKey, Position{Offset: w.offset, Length: uint64(n)})
	w.offset += uint64(n)

	w.partition.Reset()
	w.inPart = 0
	return nil
}

// Finish writes the trailing partition, the sparse index and the footer,
// syncs the file and renames it to its final name.
func (w *Writer) Finish() (res WriteResult, err error) {
	_, span := w.tracer.Start(context.Background(), "SegmentWriter.Finish")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			w.Abort()
		}
		span.End()
	}()
	if w.done {
		return WriteResult{}, errors.New("segment writer already finished")
	}

	if err := w.flushPartition(); err != nil {
		return WriteResult{}, err
	}

	dataLength := w.offset
	indexBytes := w.index.AppendBinary(nil)
	if _, err := w.out.Write(indexBytes); err != nil {
		return WriteResult{}, core.NewIOError("write", w.tempPath, err)
	}
	footer := Footer{
		Magic:        core.SegmentMagicNumber,
		Version:      core.SegmentFormatVersion,
		Compression:  w.opts.Compressor.Type(),
		PartSize:     uint64(w.opts.PartitionSize),
		DataLength:   dataLength,
		DataStart:    0,
		SparseLength: uint64(len(indexBytes)),
		SparseStart:  dataLength,
	}
	footerBytes, _ := footer.MarshalBinary()
	if _, err := w.out.Write(footerBytes); err != nil {
		return WriteResult{}, core.NewIOError("write", w.tempPath, err)
	}
	if err := w.out.Flush(); err != nil {
		return WriteResult{}, core.NewIOError("write", w.tempPath, err)
	}
	if err := w.file.Sync(); err != nil {
		return WriteResult{}, core.NewIOError("sync", w.tempPath, err)
	}
	if err := w.file.Close(); err != nil {
		w.file = nil
		return WriteResult{}, core.NewIOError("close", w.tempPath, err)
	}
	w.file = nil

	if err := sys.Rename(w.tempPath, w.finalPath); err != nil {
		return WriteResult{}, core.NewIOError("rename", w.finalPath, err)
	}
	if err := sys.SyncDir(w.opts.Dir); err != nil {
		w.logger.Warn("Failed to sync directory after segment rename", "dir", w.opts.Dir, "error", err)
	}
	w.done = true
	w.release()

	res = WriteResult{
		ID:         w.opts.ID,
		Path:       w.finalPath,
		Size:       int64(dataLength) + int64(len(indexBytes)) + FooterSize,
		Records:    w.records,
		Partitions: w.index.Len(),
	}
	span.SetAttributes(
		attribute.Int64("segment.id", int64(res.ID)),
		attribute.Int("segment.records", res.Records),
		attribute.Int("segment.partitions", res.Partitions),
		attribute.Int64("segment.size", res.Size),
	)
	w.logger.Debug("Segment written", "path", res.Path, "records", res.Records, "partitions", res.Partitions, "size", res.Size)
	return res, nil
}

// Abort discards the temporary file. It is safe to call more than once and
// after a successful Finish, where it does nothing.
func (w *Writer) Abort() {
	if w.done {
		return
	}
	w.done = true
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	if err := sys.RemoveIfExists(w.tempPath); err != nil {
		w.logger.Error("Failed to remove temporary segment", "path", w.tempPath, "error", err)
	}
	w.release()
}

func (w *Writer) release() {
	if w.compressed != nil {
		core.BufferPool.Put(w.compressed)
		w.compressed = nil
	}
}

// TempPath returns the in-progress file name.
func (w *Writer) TempPath() string {
	return w.tempPath
}
