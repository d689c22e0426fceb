package core

import (
	"bytes"
	"io"
	"strings"
)

// EntryType defines the type of a record in the WAL, memtable or segment.
type EntryType byte

const (
	// EntryTypePut marks a record that carries a value.
	EntryTypePut EntryType = 'P'
	// EntryTypeDelete marks a tombstone. Its value is never encoded.
	EntryTypeDelete EntryType = 'D'
)

func (t EntryType) String() string {
	switch t {
	case EntryTypePut:
		return "put"
	case EntryTypeDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Valid reports whether t is one of the known entry types.
func (t EntryType) Valid() bool {
	return t == EntryTypePut || t == EntryTypeDelete
}

// Record is the unit stored in the WAL, the memtable and segments.
// A later record for the same key supersedes an earlier one.
type Record struct {
	Key   string
	Value string
	Type  EntryType
}

// NewPut returns a value-carrying record.
func NewPut(key, value string) Record {
	return Record{Key: key, Value: value, Type: EntryTypePut}
}

// NewTombstone returns a deletion marker for key.
func NewTombstone(key string) Record {
	return Record{Key: key, Type: EntryTypeDelete}
}

// IsTombstone reports whether the record marks its key as deleted.
func (r Record) IsTombstone() bool {
	return r.Type == EntryTypeDelete
}

// CompressionType identifies the compression algorithm used for segment partitions.
// It is stored in the segment footer so readers know how to decompress.
type CompressionType byte

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
	CompressionLZ4    CompressionType = 2
	CompressionZSTD   CompressionType = 3
)

// Compressor defines the interface for compression and decompression algorithms.
type Compressor interface {
	// Compress compresses the input data.
	Compress(data []byte) ([]byte, error)
	CompressTo(dst *bytes.Buffer, src []byte) error
	// Decompress decompresses the input data.
	Decompress(data []byte) (io.ReadCloser, error)
	// Type returns the CompressionType identifier for this compressor.
	Type() CompressionType
}

// String returns the string representation of the CompressionType.
func (ct CompressionType) String() string {
	switch ct {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return "unknown"
	}
}

// ParseCompressionType maps a configuration string onto a CompressionType.
// The empty string selects no compression.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, &UnsupportedTypeError{Message: "compression " + s}
	}
}
