package core

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Record encoding, big-endian and self-delimiting:
//
//	[keyLen u32][key][type byte]                      tombstone
//	[keyLen u32][key][type byte][valLen u32][value]   put
const (
	recordLenSize  = 4
	recordTypeSize = 1
)

// EncodedRecordSize returns the number of bytes AppendRecord writes for rec.
func EncodedRecordSize(rec Record) int {
	n := recordLenSize + len(rec.Key) + recordTypeSize
	if rec.Type == EntryTypePut {
		n += recordLenSize + len(rec.Value)
	}
	return n
}

// AppendRecord appends the encoding of rec to dst and returns the extended slice.
func AppendRecord(dst []byte, rec Record) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Key)))
	dst = append(dst, rec.Key...)
	dst = append(dst, byte(rec.Type))
	if rec.Type == EntryTypePut {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(rec.Value)))
		dst = append(dst, rec.Value...)
	}
	return dst
}

// EncodeRecord returns the encoding of rec in a new slice.
func EncodeRecord(rec Record) []byte {
	return AppendRecord(make([]byte, 0, EncodedRecordSize(rec)), rec)
}

// DecodeRecord parses exactly one record from the front of data and returns it
// with the number of bytes consumed. A record cut short by the end of data
// yields io.ErrUnexpectedEOF; an unknown type byte yields ErrCorrupted.
func DecodeRecord(data []byte) (Record, int, error) {
	var rec Record
	pos := 0
	if len(data) < recordLenSize {
		return rec, 0, io.ErrUnexpectedEOF
	}
	keyLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += recordLenSize
	if keyLen < 0 || len(data)-pos < keyLen+recordTypeSize {
		return rec, 0, io.ErrUnexpectedEOF
	}
	rec.Key = string(data[pos : pos+keyLen])
	pos += keyLen
	rec.Type = EntryType(data[pos])
	pos += recordTypeSize

	switch rec.Type {
	case EntryTypeDelete:
		return rec, pos, nil
	case EntryTypePut:
	default:
		return Record{}, 0, fmt.Errorf("%w: unknown entry type 0x%02x", ErrCorrupted, byte(rec.Type))
	}

	if len(data)-pos < recordLenSize {
		return Record{}, 0, io.ErrUnexpectedEOF
	}
	valLen := int(binary.BigEndian.Uint32(data[pos:]))
	pos += recordLenSize
	if valLen < 0 || len(data)-pos < valLen {
		return Record{}, 0, io.ErrUnexpectedEOF
	}
	rec.Value = string(data[pos : pos+valLen])
	pos += valLen
	return rec, pos, nil
}

// DecodeRecords parses a concatenation of encoded records, such as a segment partition.
// Trailing bytes that do not form a complete record are reported as ErrCorrupted.
func DecodeRecords(data []byte) ([]Record, error) {
	var out []Record
	for offset := 0; offset < len(data); {
		rec, n, err := DecodeRecord(data[offset:])
		if err != nil {
			if err == io.ErrUnexpectedEOF {
				return nil, fmt.Errorf("%w: truncated record at offset %d", ErrCorrupted, offset)
			}
			return nil, err
		}
		out = append(out, rec)
		offset += n
	}
	return out, nil
}
