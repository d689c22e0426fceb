// Command inspect prints the contents of a chaindb data directory, a WAL file
// or a single segment without modifying anything.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/chaindb/sstable"
	"github.com/INLOpen/chaindb/wal"
)

func main() {
	var dir, walPath, segPath string
	var values bool
	flag.StringVar(&dir, "dir", "", "data directory to summarize")
	flag.StringVar(&walPath, "wal", "", "WAL file to dump")
	flag.StringVar(&segPath, "segment", "", "segment file to dump")
	flag.BoolVar(&values, "values", false, "print values, not only their lengths")
	flag.Parse()

	var err error
	switch {
	case walPath != "":
		err = dumpWAL(os.Stdout, walPath, values)
	case segPath != "":
		err = dumpSegment(os.Stdout, segPath, values)
	case dir != "":
		err = summarizeDir(os.Stdout, dir)
	default:
		log.Fatal("provide -dir, -wal or -segment")
	}
	if err != nil {
		log.Fatal(err)
	}
}

func formatRecord(i int, r core.Record, values bool) string {
	if r.IsTombstone() {
		return fmt.Sprintf("%04d: type=%s key=%q", i, r.Type, r.Key)
	}
	if values {
		return fmt.Sprintf("%04d: type=%s key=%q value=%q", i, r.Type, r.Key, r.Value)
	}
	return fmt.Sprintf("%04d: type=%s key=%q value_len=%d", i, r.Type, r.Key, len(r.Value))
}

func dumpWAL(w io.Writer, path string, values bool) error {
	records, err := wal.Replay(path)
	if err != nil {
		return fmt.Errorf("replay %s: %w", path, err)
	}
	fmt.Fprintf(w, "Recovered %d entries from %s\n", len(records), path)
	for i, r := range records {
		fmt.Fprintln(w, formatRecord(i, r, values))
	}
	return nil
}

func dumpSegment(w io.Writer, path string, values bool) error {
	id, _ := core.ParseSegmentFileName(filepath.Base(path))
	seg, err := sstable.Load(sstable.LoadOptions{Path: path, ID: id})
	if err != nil {
		return err
	}
	defer seg.Close()

	f := seg.Footer()
	fmt.Fprintf(w, "Segment %s: size=%d compression=%s partition_size=%d partitions=%d\n",
		path, seg.Size(), f.Compression, f.PartSize, seg.Index().Len())
	fmt.Fprintf(w, "  data=[%d,+%d) sparse_index=[%d,+%d)\n", f.DataStart, f.DataLength, f.SparseStart, f.SparseLength)

	n := 0
	return seg.Partitions(func(entry sstable.IndexEntry, records []core.Record) error {
		fmt.Fprintf(w, "partition first_key=%q offset=%d length=%d records=%d\n",
			entry.FirstKey, entry.Position.Offset, entry.Position.Length, len(records))
		for _, r := range records {
			fmt.Fprintln(w, formatRecord(n, r, values))
			n++
		}
		return nil
	})
}

func summarizeDir(w io.Writer, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var segments, frozen []string
	var other []string
	for _, e := range entries {
		name := e.Name()
		switch {
		case e.IsDir():
			continue
		case name == core.WALFileName:
		case strings.HasSuffix(name, core.SegmentFileSuffix):
			if _, ok := core.ParseSegmentFileName(name); ok {
				segments = append(segments, name)
				continue
			}
			other = append(other, name)
		default:
			if _, ok := core.ParseFrozenWALFileName(name); ok {
				frozen = append(frozen, name)
				continue
			}
			other = append(other, name)
		}
	}
	// Zero-padded ids sort lexically; newest first matches read order.
	slices.Sort(segments)
	slices.Reverse(segments)
	slices.Sort(frozen)

	active, err := wal.Replay(filepath.Join(dir, core.WALFileName))
	if err != nil {
		return fmt.Errorf("replay active WAL: %w", err)
	}
	fmt.Fprintf(w, "active WAL: %d entries\n", len(active))
	fmt.Fprintf(w, "frozen WALs: %d\n", len(frozen))
	for _, name := range frozen {
		records, err := wal.Replay(filepath.Join(dir, name))
		if err != nil {
			return fmt.Errorf("replay %s: %w", name, err)
		}
		fmt.Fprintf(w, "  %s entries=%d\n", name, len(records))
	}
	fmt.Fprintf(w, "segments: %d\n", len(segments))
	for _, name := range segments {
		seg, err := sstable.Load(sstable.LoadOptions{Path: filepath.Join(dir, name)})
		if err != nil {
			return fmt.Errorf("load %s: %w", name, err)
		}
		fmt.Fprintf(w, "  %s size=%d partitions=%d compression=%s\n", name, seg.Size(), seg.Index().Len(), seg.Footer().Compression)
		seg.Close()
	}
	for _, name := range other {
		fmt.Fprintf(w, "other: %s\n", name)
	}
	return nil
}
