package core

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes constants related to file formats, magic numbers,
// and file naming used across the storage engine.

// --- Magic Numbers ---
const (
	// SegmentMagicNumber identifies a segment file. It is the first field of the footer.
	SegmentMagicNumber uint64 = 0x4348494E41444231 // "CHINADB1"
)

// --- Protocol & Format Versions ---
const (
	// SegmentFormatVersion is the current on-disk segment version.
	SegmentFormatVersion uint64 = 1
)

// --- File Names & Suffixes ---
const (
	// WALFileName is the fixed name of the active write-ahead log.
	WALFileName = "wal.log"
	// FrozenWALPrefix and FrozenWALSuffix frame the name of a WAL backing a pending flush.
	FrozenWALPrefix = "wal-"
	FrozenWALSuffix = ".tmp"
	// SegmentFileSuffix is the suffix of a committed segment.
	SegmentFileSuffix = ".sst"
	// SegmentTempSuffix is appended to a segment while it is being written.
	SegmentTempSuffix = ".sst.tmp"
	// LockFileName is the exclusive process lock in the data directory.
	LockFileName = "LOCK"
)

const segmentIDWidth = 20

// FormatSegmentFileName returns the file name of the segment with the given id.
// Ids are zero padded so lexical and numeric order agree.
func FormatSegmentFileName(id uint64) string {
	return fmt.Sprintf("%0*d%s", segmentIDWidth, id, SegmentFileSuffix)
}

// FormatSegmentTempFileName returns the in-progress name for segment id.
func FormatSegmentTempFileName(id uint64) string {
	return fmt.Sprintf("%0*d%s", segmentIDWidth, id, SegmentTempSuffix)
}

// FormatFrozenWALFileName returns the name a WAL is renamed to when its memtable is frozen.
func FormatFrozenWALFileName(id uint64) string {
	return fmt.Sprintf("%s%0*d%s", FrozenWALPrefix, segmentIDWidth, id, FrozenWALSuffix)
}

// ParseSegmentFileName extracts the id from a committed segment name.
func ParseSegmentFileName(name string) (uint64, bool) {
	if strings.HasSuffix(name, SegmentTempSuffix) || !strings.HasSuffix(name, SegmentFileSuffix) {
		return 0, false
	}
	return parseID(strings.TrimSuffix(name, SegmentFileSuffix))
}

// ParseFrozenWALFileName extracts the id from a frozen WAL name.
func ParseFrozenWALFileName(name string) (uint64, bool) {
	if !strings.HasPrefix(name, FrozenWALPrefix) || !strings.HasSuffix(name, FrozenWALSuffix) {
		return 0, false
	}
	return parseID(strings.TrimSuffix(strings.TrimPrefix(name, FrozenWALPrefix), FrozenWALSuffix))
}

func parseID(s string) (uint64, bool) {
	if s == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
