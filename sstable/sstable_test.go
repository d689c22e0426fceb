package sstable

import (
	"bytes"
	"encoding/binary"
	"errors"
	"expvar"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/INLOpen/chaindb/compressors"
	"github.com/INLOpen/chaindb/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestSegment(t *testing.T, dir string, id uint64, partitionSize int, compressor core.Compressor, recs ...core.Record) WriteResult {
	t.Helper()
	sorted := append([]core.Record(nil), recs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	w, err := NewWriter(WriterOptions{Dir: dir, ID: id, PartitionSize: partitionSize, Compressor: compressor})
	require.NoError(t, err)
	for _, r := range sorted {
		require.NoError(t, w.Add(r))
	}
	res, err := w.Finish()
	require.NoError(t, err)
	return res
}

func loadTestSegment(t *testing.T, res WriteResult, c PartitionCache) *Segment {
	t.Helper()
	seg, err := Load(LoadOptions{Path: res.Path, ID: res.ID, Cache: c})
	require.NoError(t, err)
	t.Cleanup(func() { seg.Close() })
	return seg
}

func TestFooter_RoundTripViaBackwardSeeks(t *testing.T) {
	footer := Footer{
		Magic:        core.SegmentMagicNumber,
		Version:      core.SegmentFormatVersion,
		Compression:  core.CompressionSnappy,
		PartSize:     2,
		DataLength:   100,
		DataStart:    0,
		SparseLength: 40,
		SparseStart:  100,
	}
	encoded, err := footer.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, encoded, FooterSize)

	file := append(bytes.Repeat([]byte{0xAB}, 140), encoded...)
	got, err := ReadFooter(bytes.NewReader(file))
	require.NoError(t, err)
	assert.Equal(t, footer, got)
	assert.NoError(t, got.Validate(int64(len(file))))

	// The five trailing fields sit at fileLength-8*i, sparseStart last.
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(file[len(file)-8:]))
	assert.Equal(t, uint64(40), binary.BigEndian.Uint64(file[len(file)-16:]))
	assert.Equal(t, uint64(0), binary.BigEndian.Uint64(file[len(file)-24:]))
	assert.Equal(t, uint64(100), binary.BigEndian.Uint64(file[len(file)-32:]))
	assert.Equal(t, uint64(2), binary.BigEndian.Uint64(file[len(file)-40:]))
}

func TestFooter_Validate(t *testing.T) {
	valid := Footer{Magic: core.SegmentMagicNumber, Version: core.SegmentFormatVersion, PartSize: 1, DataLength: 10, SparseLength: 5, SparseStart: 10}
	size := int64(10 + 5 + FooterSize)
	require.NoError(t, valid.Validate(size))

	testCases := []struct {
		name   string
		mutate func(f *Footer)
		size   int64
	}{
		{name: "bad magic", mutate: func(f *Footer) { f.Magic = 1 }},
		{name: "bad version", mutate: func(f *Footer) { f.Version = 99 }},
		{name: "bad compression", mutate: func(f *Footer) { f.Compression = 42 }},
		{name: "zero partition size", mutate: func(f *Footer) { f.PartSize = 0 }},
		{name: "gap before index", mutate: func(f *Footer) { f.SparseStart = 11 }},
		{name: "index overruns footer", mutate: func(f *Footer) { f.SparseLength = 6 }},
		{name: "file too long", mutate: func(f *Footer) {}, size: size + 1},
		{name: "file shorter than footer", mutate: func(f *Footer) {}, size: FooterSize - 1},
		{name: "offsets wrap", mutate: func(f *Footer) {
			f.DataStart, f.DataLength = 1<<63, 0
			f.SparseStart, f.SparseLength = 1<<63, uint64(size-FooterSize)-(1<<63)
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			f := valid
			tc.mutate(&f)
			s := size
			if tc.size != 0 {
				s = tc.size
			}
			assert.Error(t, f.Validate(s))
		})
	}
}

func TestSparseIndex_Find(t *testing.T) {
	var si SparseIndex
	si.Add("a", Position{Offset: 0, Length: 10})
	si.Add("c", Position{Offset: 10, Length: 10})
	si.Add("f", Position{Offset: 20, Length: 5})

	for key, want := range map[string]uint64{"a": 0, "b": 0, "c": 10, "d": 10, "e": 10, "f": 20, "z": 20} {
		pos, ok := si.Find(key)
		assert.True(t, ok, key)
		assert.Equal(t, want, pos.Offset, key)
	}
	_, ok := si.Find("A")
	assert.False(t, ok)

	decoded, err := DecodeSparseIndex(si.AppendBinary(nil), 0, 25)
	require.NoError(t, err)
	assert.Equal(t, si.Entries(), decoded.Entries())

	_, err = DecodeSparseIndex(si.AppendBinary(nil), 0, 24)
	assert.Error(t, err, "position past data region")

	var unordered SparseIndex
	unordered.Add("b", Position{})
	unordered.Add("a", Position{})
	_, err = DecodeSparseIndex(unordered.AppendBinary(nil), 0, 0)
	assert.Error(t, err)
}

// Five keys inserted as b,c,a,f,d with two records per partition give the
// partitions [a,b] [c,d] [f] indexed by a, c and f.
func TestSegment_SparseIndexScenario(t *testing.T) {
	dir := t.TempDir()
	res := writeTestSegment(t, dir, 1, 2, nil,
		core.NewPut("b", "vb"), core.NewPut("c", "vc"), core.NewPut("a", "va"),
		core.NewPut("f", "vf"), core.NewPut("d", "vd"))
	assert.Equal(t, 3, res.Partitions)
	assert.Equal(t, 5, res.Records)

	c := NewPartitionCache(16)
	misses := new(expvar.Int)
	c.SetMetrics(new(expvar.Int), misses)
	seg := loadTestSegment(t, res, c)

	var firstKeys []string
	for _, e := range seg.Index().Entries() {
		firstKeys = append(firstKeys, e.FirstKey)
	}
	assert.Equal(t, []string{"a", "c", "f"}, firstKeys)

	v, ok, err := seg.Query("d")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "vd", v)

	_, ok, err = seg.Query("e")
	require.NoError(t, err)
	assert.False(t, ok)

	before := misses.Value()
	_, ok, err = seg.Query("A")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, misses.Value(), "a key before the first partition must not touch any partition")

	_, ok, err = seg.Query("z")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSegment_TombstonesAreReturned(t *testing.T) {
	res := writeTestSegment(t, t.TempDir(), 7, 3, nil,
		core.NewPut("alive", "1"), core.NewTombstone("dead"))
	seg := loadTestSegment(t, res, nil)

	rec, found, err := seg.Get("dead")
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, rec.IsTombstone())

	_, ok, err := seg.Query("dead")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSegment_AllCompressions(t *testing.T) {
	var recs []core.Record
	for i := 0; i < 250; i++ {
		if i%10 == 0 {
			recs = append(recs, core.NewTombstone(fmt.Sprintf("key-%04d", i)))
			continue
		}
		recs = append(recs, core.NewPut(fmt.Sprintf("key-%04d", i), fmt.Sprintf("value %d with some padding", i)))
	}

	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			comp, err := compressors.Get(ct)
			require.NoError(t, err)
			res := writeTestSegment(t, t.TempDir(), 3, 16, comp, recs...)
			seg := loadTestSegment(t, res, NewPartitionCache(4))
			assert.Equal(t, ct, seg.Footer().Compression)
			assert.Equal(t, uint64(16), seg.Footer().PartSize)

			for _, want := range recs {
				got, found, err := seg.Get(want.Key)
				require.NoError(t, err)
				require.True(t, found, want.Key)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestSegment_Empty(t *testing.T) {
	res := writeTestSegment(t, t.TempDir(), 9, 4, nil)
	seg := loadTestSegment(t, res, nil)
	assert.Equal(t, 0, seg.Index().Len())
	_, ok, err := seg.Query("anything")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int64(FooterSize), seg.Size())
}

func TestSegment_PartitionCache(t *testing.T) {
	res := writeTestSegment(t, t.TempDir(), 5, 2, nil,
		core.NewPut("a", "1"), core.NewPut("b", "2"), core.NewPut("c", "3"))
	c := NewPartitionCache(8)
	hits, misses := new(expvar.Int), new(expvar.Int)
	c.SetMetrics(hits, misses)
	seg := loadTestSegment(t, res, c)

	for i := 0; i < 3; i++ {
		_, _, err := seg.Get("b")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(1), misses.Value())
	assert.Equal(t, int64(2), hits.Value())
	assert.Equal(t, 1, c.Len())
}

func TestSegment_Close(t *testing.T) {
	res := writeTestSegment(t, t.TempDir(), 2, 2, nil, core.NewPut("a", "1"))
	seg, err := Load(LoadOptions{Path: res.Path, ID: res.ID})
	require.NoError(t, err)
	require.NoError(t, seg.Close())
	require.NoError(t, seg.Close())
	_, _, err = seg.Get("a")
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSegment_Partitions(t *testing.T) {
	res := writeTestSegment(t, t.TempDir(), 3, 2, nil,
		core.NewPut("b", "2"), core.NewPut("a", "1"), core.NewTombstone("c"), core.NewPut("d", "4"), core.NewPut("e", "5"))
	seg := loadTestSegment(t, res, nil)

	var firstKeys, keys []string
	require.NoError(t, seg.Partitions(func(entry IndexEntry, records []core.Record) error {
		firstKeys = append(firstKeys, entry.FirstKey)
		for _, r := range records {
			keys = append(keys, r.Key)
		}
		return nil
	}))
	assert.Equal(t, []string{"a", "c", "e"}, firstKeys)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, keys)

	stop := errors.New("stop")
	calls := 0
	err := seg.Partitions(func(IndexEntry, []core.Record) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)

	require.NoError(t, seg.Close())
	assert.ErrorIs(t, seg.Partitions(func(IndexEntry, []core.Record) error { return nil }), ErrClosed)
}

func TestWriter_RejectsUnorderedKeys(t *testing.T) {
	w, err := NewWriter(WriterOptions{Dir: t.TempDir(), ID: 1, PartitionSize: 2})
	require.NoError(t, err)
	require.NoError(t, w.Add(core.NewPut("b", "1")))
	assert.Error(t, w.Add(core.NewPut("a", "2")))
	assert.Error(t, w.Add(core.NewPut("b", "3")), "duplicates are rejected")
	w.Abort()
}

func TestWriter_AbortRemovesTempFile(t *testing.T) {
	dir := t.TempDir()
	w, err := NewWriter(WriterOptions{Dir: dir, ID: 11})
	require.NoError(t, err)
	require.NoError(t, w.Add(core.NewPut("a", "1")))
	assert.FileExists(t, w.TempPath())

	w.Abort()
	assert.NoFileExists(t, w.TempPath())
	assert.NoFileExists(t, filepath.Join(dir, core.FormatSegmentFileName(11)))

	_, err = w.Finish()
	assert.Error(t, err)
}

func TestWriter_FinishLeavesOnlyFinalFile(t *testing.T) {
	dir := t.TempDir()
	res := writeTestSegment(t, dir, 12, 2, nil, core.NewPut("a", "1"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, core.FormatSegmentFileName(12), entries[0].Name())

	info, err := os.Stat(res.Path)
	require.NoError(t, err)
	assert.Equal(t, res.Size, info.Size())
}

func TestLoad_Corruption(t *testing.T) {
	dir := t.TempDir()
	res := writeTestSegment(t, dir, 1, 2, nil,
		core.NewPut("a", "1"), core.NewPut("b", "2"), core.NewPut("c", "3"))
	valid, err := os.ReadFile(res.Path)
	require.NoError(t, err)

	testCases := []struct {
		name    string
		corrupt func(data []byte) []byte
	}{
		{name: "too small", corrupt: func(d []byte) []byte { return d[:FooterSize-1] }},
		{name: "bad magic", corrupt: func(d []byte) []byte { d[len(d)-FooterSize] ^= 0xFF; return d }},
		{name: "truncated data", corrupt: func(d []byte) []byte { return d[1:] }},
		{name: "bad sparse start", corrupt: func(d []byte) []byte {
			binary.BigEndian.PutUint64(d[len(d)-8:], 3)
			return d
		}},
		{name: "wrapping offsets", corrupt: func(d []byte) []byte {
			// DataStart+DataLength and SparseStart+SparseLength both sum
			// correctly modulo 2^64 while every offset lies past the file.
			end := uint64(len(d) - FooterSize)
			binary.BigEndian.PutUint64(d[len(d)-8*fieldSparseStart:], 1<<63)
			binary.BigEndian.PutUint64(d[len(d)-8*fieldSparseLength:], end-(1<<63))
			binary.BigEndian.PutUint64(d[len(d)-8*fieldDataStart:], 1<<63)
			binary.BigEndian.PutUint64(d[len(d)-8*fieldDataLength:], 0)
			return d
		}},
		{name: "garbage index", corrupt: func(d []byte) []byte {
			f, _ := ReadFooter(bytes.NewReader(d))
			for i := f.SparseStart; i < f.SparseStart+f.SparseLength; i++ {
				d[i] = 0xFF
			}
			return d
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			data := tc.corrupt(append([]byte(nil), valid...))
			path := filepath.Join(dir, "corrupt-"+tc.name+".sst")
			require.NoError(t, os.WriteFile(path, data, 0o644))

			_, err := Load(LoadOptions{Path: path, ID: 99})
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrCorrupted)
		})
	}
}

func TestSegment_CorruptPartition(t *testing.T) {
	dir := t.TempDir()
	res := writeTestSegment(t, dir, 1, 2, nil, core.NewPut("a", "1"), core.NewPut("b", "2"))
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	data[4+1] = 'X' // type byte of the first record ("a")
	require.NoError(t, os.WriteFile(res.Path, data, 0o644))

	seg := loadTestSegment(t, res, nil)
	_, _, err = seg.Get("a")
	assert.ErrorIs(t, err, core.ErrCorrupted)
}
