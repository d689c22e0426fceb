package sstable

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Position locates a partition inside the data region.
type Position struct {
	Offset uint64
	Length uint64
}

// IndexEntry maps the first key of a partition to its position.
type IndexEntry struct {
	FirstKey string
	Position Position
}

// SparseIndex holds one entry per partition in ascending key order.
type SparseIndex struct {
	entries []IndexEntry
}

// Add appends a partition. Partitions must be added in ascending key order.
func (si *SparseIndex) Add(firstKey string, pos Position) {
	si.entries = append(si.entries, IndexEntry{FirstKey: firstKey, Position: pos})
}

func (si *SparseIndex) Len() int {
	return len(si.entries)
}

func (si *SparseIndex) Entries() []IndexEntry {
	return si.entries
}

// Find returns the partition whose key range may contain key: the one with the
// greatest first key not exceeding key. It reports false when key sorts before
// every partition.
func (si *SparseIndex) Find(key string) (Position, bool) {
	i := sort.Search(len(si.entries), func(i int) bool {
		return si.entries[i].FirstKey > key
	})
	if i == 0 {
		return Position{}, false
	}
	return si.entries[i-1].Position, true
}

// AppendBinary serializes the index as repeated [keyLen u32][key][offset u64][length u64].
func (si *SparseIndex) AppendBinary(dst []byte) []byte {
	for _, e := range si.entries {
		dst = binary.BigEndian.AppendUint32(dst, uint32(len(e.FirstKey)))
		dst = append(dst, e.FirstKey...)
		dst = binary.BigEndian.AppendUint64(dst, e.Position.Offset)
		dst = binary.BigEndian.AppendUint64(dst, e.Position.Length)
	}
	return dst
}

// DecodeSparseIndex parses a serialized index and checks that every position
// falls inside [dataStart, dataEnd) and that keys strictly ascend.
func DecodeSparseIndex(data []byte, dataStart, dataEnd uint64) (*SparseIndex, error) {
	si := &SparseIndex{}
	for pos := 0; pos < len(data); {
		if len(data)-pos < 4 {
			return nil, fmt.Errorf("truncated key length at index offset %d", pos)
		}
		keyLen := int(binary.BigEndian.Uint32(data[pos:]))
		pos += 4
		if keyLen < 0 || len(data)-pos < keyLen+16 {
			return nil, fmt.Errorf("truncated entry at index offset %d", pos)
		}
		key := string(data[pos : pos+keyLen])
		pos += keyLen
		p := Position{
			Offset: binary.BigEndian.Uint64(data[pos:]),
			Length: binary.BigEndian.Uint64(data[pos+8:]),
		}
		pos += 16

		if p.Offset < dataStart || p.Offset+p.Length > dataEnd || p.Offset+p.Length < p.Offset {
			return nil, fmt.Errorf("partition %q at [%d,+%d) outside data region [%d,%d)", key, p.Offset, p.Length, dataStart, dataEnd)
		}
		if n := len(si.entries); n > 0 && si.entries[n-1].FirstKey >= key {
			return nil, fmt.Errorf("index keys out of order: %q after %q", key, si.entries[n-1].FirstKey)
		}
		si.Add(key, p)
	}
	return si, nil
}
