package sstable

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/INLOpen/chaindb/core"
)

// Segment layout:
//
//	[partition 0]...[partition N-1][sparse index][footer]
//
// The footer is eight big-endian uint64 fields. The five last ones are the
// MetaInfo; the three leading ones identify the format:
//
//	magic, version, compression, partSize, dataLength, dataStart, sparseLength, sparseStart
//
// Field i (counting from 1 at the end of the file) lives at fileLength-8*i.
const (
	footerFieldSize = 8
	footerFields    = 8
	FooterSize      = footerFieldSize * footerFields
)

// Footer field positions counted backwards from the end of the file.
const (
	fieldSparseStart  = 1
	fieldSparseLength = 2
	fieldDataStart    = 3
	fieldDataLength   = 4
	fieldPartSize     = 5
	fieldCompression  = 6
	fieldVersion      = 7
	fieldMagic        = 8
)

// DefaultPartitionSize is the number of records per partition when unset.
const DefaultPartitionSize = 64

var ErrClosed = errors.New("segment is closed")

// Footer is the segment metadata block. Offsets and lengths are in bytes.
type Footer struct {
	Magic        uint64
	Version      uint64
	Compression  core.CompressionType
	PartSize     uint64
	DataLength   uint64
	DataStart    uint64
	SparseLength uint64
	SparseStart  uint64
}

// MarshalBinary encodes the footer in on-disk order.
func (f Footer) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, FooterSize)
	for _, v := range []uint64{
		f.Magic,
		f.Version,
		uint64(f.Compression),
		f.PartSize,
		f.DataLength,
		f.DataStart,
		f.SparseLength,
		f.SparseStart,
	} {
		buf = binary.BigEndian.AppendUint64(buf, v)
	}
	return buf, nil
}

// ReadFooter locates every field by seeking backwards from the end of r.
func ReadFooter(r io.ReadSeeker) (Footer, error) {
	var f Footer
	var buf [footerFieldSize]byte
	read := func(field int) (uint64, error) {
		if _, err := r.Seek(-int64(footerFieldSize*field), io.SeekEnd); err != nil {
			return 0, err
		}
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return 0, err
		}
		return binary.BigEndian.Uint64(buf[:]), nil
	}

	var compression uint64
	for _, target := range []struct {
		field int
		dst   *uint64
	}{
		{fieldSparseStart, &f.SparseStart},
		{fieldSparseLength, &f.SparseLength},
		{fieldDataStart, &f.DataStart},
		{fieldDataLength, &f.DataLength},
		{fieldPartSize, &f.PartSize},
		{fieldCompression, &compression},
		{fieldVersion, &f.Version},
		{fieldMagic, &f.Magic},
	} {
		v, err := read(target.field)
		if err != nil {
			return Footer{}, err
		}
		*target.dst = v
	}
	f.Compression = core.CompressionType(compression)
	return f, nil
}

// Validate checks the footer against the size of the file it was read from.
func (f Footer) Validate(fileSize int64) error {
	if f.Magic != core.SegmentMagicNumber {
		return fmt.Errorf("bad magic %#x", f.Magic)
	}
	if f.Version != core.SegmentFormatVersion {
		return fmt.Errorf("unsupported version %d", f.Version)
	}
	if f.Compression > core.CompressionZSTD {
		return fmt.Errorf("unknown compression %d", f.Compression)
	}
	if f.PartSize == 0 {
		return errors.New("partition size is zero")
	}
	if fileSize < FooterSize {
		return fmt.Errorf("file size %d smaller than footer", fileSize)
	}
	// Bound each field before summing so the checks below cannot wrap.
	end := uint64(fileSize - FooterSize)
	if f.SparseStart > end || f.SparseLength > end || f.DataStart > f.SparseStart || f.DataLength > f.SparseStart {
		return fmt.Errorf("footer offsets out of range for %d byte file", fileSize)
	}
	if f.DataStart+f.DataLength != f.SparseStart {
		return fmt.Errorf("data region [%d,+%d) does not end at sparse index %d", f.DataStart, f.DataLength, f.SparseStart)
	}
	if f.SparseStart+f.SparseLength != end {
		return fmt.Errorf("sparse index [%d,+%d) does not end at footer %d", f.SparseStart, f.SparseLength, end)
	}
	return nil
}
