package memtable

import (
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/chaindb/core"
	"github.com/INLOpen/skiplist"
)

// recordOverhead approximates per-entry bookkeeping in SizeBytes.
const recordOverhead = 16

// Memtable is an in-memory table ordered by key. Each key holds only its most
// recent record, which may be a tombstone.
type Memtable struct {
	mu           sync.RWMutex
	data         *skiplist.SkipList[string, core.Record]
	sizeBytes    int64
	CreationTime time.Time
}

// New creates an empty memtable stamped with the clock's current time.
func New(clock core.Clock) *Memtable {
	if clock == nil {
		clock = core.SystemClock
	}
	return &Memtable{
		data:         skiplist.NewWithComparator[string, core.Record](strings.Compare),
		CreationTime: clock.Now(),
	}
}

func recordSize(rec core.Record) int64 {
	return int64(len(rec.Key)+len(rec.Value)) + recordOverhead
}

// Put inserts rec, replacing any earlier record for the same key.
func (m *Memtable) Put(rec core.Record) {
	if rec.Type == core.EntryTypeDelete {
		rec.Value = ""
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if node, ok := m.data.Seek(rec.Key); ok && node.Key() == rec.Key {
		m.sizeBytes -= recordSize(node.Value())
	}
	m.data.Insert(rec.Key, rec)
	m.sizeBytes += recordSize(rec)
}

// Set records a value for key.
func (m *Memtable) Set(key, value string) {
	m.Put(core.NewPut(key, value))
}

// Delete records a tombstone for key.
func (m *Memtable) Delete(key string) {
	m.Put(core.NewTombstone(key))
}

// Get returns the record stored for key. A tombstone is returned as found;
// callers decide what it means.
func (m *Memtable) Get(key string) (core.Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, ok := m.data.Seek(key)
	if !ok || node.Key() != key {
		return core.Record{}, false
	}
	return node.Value(), true
}

// Len returns the number of distinct keys, tombstones included.
func (m *Memtable) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.data.Len()
}

// SizeBytes returns the estimated memory held by the records.
func (m *Memtable) SizeBytes() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sizeBytes
}

// Iterate calls fn for every record in ascending key order until fn returns false.
// The memtable is read locked for the duration.
func (m *Memtable) Iterate(fn func(core.Record) bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	iter := m.data.NewIterator()
	for iter.Next() {
		if !fn(iter.Value()) {
			return
		}
	}
}

// Records returns a snapshot of every record in ascending key order.
func (m *Memtable) Records() []core.Record {
	out := make([]core.Record, 0, m.Len())
	m.Iterate(func(rec core.Record) bool {
		out = append(out, rec)
		return true
	})
	return out
}
