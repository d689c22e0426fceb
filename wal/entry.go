package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chaindb/core"
)

// Each WAL entry is [4-byte big-endian length][encoded record].
const entryHeaderSize = 4

// maxEntrySize rejects absurd length prefixes before allocating for them.
const maxEntrySize = 1 << 30

func writeEntry(w io.Writer, scratch []byte, rec core.Record) ([]byte, int, error) {
	scratch = scratch[:0]
	scratch = binary.BigEndian.AppendUint32(scratch, uint32(core.EncodedRecordSize(rec)))
	scratch = core.AppendRecord(scratch, rec)
	n, err := w.Write(scratch)
	return scratch, n, err
}

// replayResult describes how much of a WAL stream was usable.
type replayResult struct {
	records   []core.Record
	validSize int64 // offset just past the last complete entry
	torn      bool  // a partial entry followed validSize
}

// replayStream decodes entries until the stream ends. size is the total number
// of bytes available and is used to recognise a torn tail without reading it.
func replayStream(r io.Reader, size int64, path string) (replayResult, error) {
	var res replayResult
	br := bufio.NewReaderSize(r, 64*1024)
	header := make([]byte, entryHeaderSize)
	var payload []byte

	for {
		if _, err := io.ReadFull(br, header); err != nil {
			if errors.Is(err, io.EOF) {
				return res, nil
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				res.torn = true
				return res, nil
			}
			return res, core.NewIOError("read", path, err)
		}

		length := int64(binary.BigEndian.Uint32(header))
		if res.validSize+entryHeaderSize+length > size || length > maxEntrySize {
			res.torn = true
			return res, nil
		}
		if int64(cap(payload)) < length {
			payload = make([]byte, length)
		}
		payload = payload[:length]
		if _, err := io.ReadFull(br, payload); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				res.torn = true
				return res, nil
			}
			return res, core.NewIOError("read", path, err)
		}

		rec, n, err := core.DecodeRecord(payload)
		if err == nil && int64(n) != length {
			err = fmt.Errorf("entry length %d but record used %d bytes", length, n)
		}
		if err != nil {
			return res, &core.CorruptionError{Path: path, Offset: res.validSize, Reason: err.Error()}
		}
		res.records = append(res.records, rec)
		res.validSize += entryHeaderSize + length
	}
}
