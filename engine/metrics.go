package engine

import (
	"expvar"
	"fmt"
	"sync"
	"time"

	tdigest "github.com/caio/go-tdigest/v4"
)

// EngineMetrics holds all expvar variables for an Engine instance.
type EngineMetrics struct {
	PublishedGlobally bool // Indicates if the metrics are published to the global expvar namespace.
	prefix            string

	SetTotal          *expvar.Int
	SetErrorsTotal    *expvar.Int
	GetTotal          *expvar.Int
	GetErrorsTotal    *expvar.Int
	DeleteTotal       *expvar.Int
	DeleteErrorsTotal *expvar.Int

	FlushTotal           *expvar.Int
	FlushErrorsTotal     *expvar.Int
	FlushRecordsTotal    *expvar.Int
	FlushBytesTotal      *expvar.Int
	SegmentsCreatedTotal *expvar.Int
	WriteStallsTotal     *expvar.Int

	SetLatencyHist    *expvar.Map
	GetLatencyHist    *expvar.Map
	DeleteLatencyHist *expvar.Map
	FlushLatencyHist  *expvar.Map

	WALBytesWrittenTotal   *expvar.Int
	WALEntriesWrittenTotal *expvar.Int

	WALRecoveryDurationSeconds *expvar.Float
	WALRecoveredEntriesTotal   *expvar.Int

	CacheHits   *expvar.Int
	CacheMisses *expvar.Int

	setLatency *latencyDigest
	getLatency *latencyDigest

	mutableMemtableRecordsFunc func() interface{}
	mutableMemtableBytesFunc   func() interface{}
	pendingFlushesFunc         func() interface{}
	segmentCountFunc           func() interface{}
	uptimeSecondsFunc          func() interface{}
}

// NewEngineMetrics creates and initializes a new EngineMetrics struct with expvar variables.
func NewEngineMetrics(publishGlobally bool, prefix string) *EngineMetrics {
	var newIntFunc func(string) *expvar.Int
	var newFloatFunc func(string) *expvar.Float
	var newMapFunc func(string) *expvar.Map

	if publishGlobally {
		newIntFunc = publishExpvarInt
		newFloatFunc = publishExpvarFloat
		newMapFunc = publishExpvarMap
	} else {
		newIntFunc = func(_ string) *expvar.Int { return new(expvar.Int) }
		newFloatFunc = func(_ string) *expvar.Float { return new(expvar.Float) }
		newMapFunc = func(_ string) *expvar.Map {
			m := new(expvar.Map)
			m.Init()
			return m
		}
	}

	em := &EngineMetrics{
		PublishedGlobally: publishGlobally,
		prefix:            prefix,

		SetTotal:          newIntFunc(prefix + "set_total"),
		SetErrorsTotal:    newIntFunc(prefix + "set_errors_total"),
		GetTotal:          newIntFunc(prefix + "get_total"),
		GetErrorsTotal:    newIntFunc(prefix + "get_errors_total"),
		DeleteTotal:       newIntFunc(prefix + "delete_total"),
		DeleteErrorsTotal: newIntFunc(prefix + "delete_errors_total"),

		FlushTotal:           newIntFunc(prefix + "flush_total"),
		FlushErrorsTotal:     newIntFunc(prefix + "flush_errors_total"),
		FlushRecordsTotal:    newIntFunc(prefix + "flush_records_total"),
		FlushBytesTotal:      newIntFunc(prefix + "flush_bytes_total"),
		SegmentsCreatedTotal: newIntFunc(prefix + "segments_created_total"),
		WriteStallsTotal:     newIntFunc(prefix + "write_stalls_total"),

		SetLatencyHist:    newMapFunc(prefix + "set_latency_seconds"),
		GetLatencyHist:    newMapFunc(prefix + "get_latency_seconds"),
		DeleteLatencyHist: newMapFunc(prefix + "delete_latency_seconds"),
		FlushLatencyHist:  newMapFunc(prefix + "flush_latency_seconds"),

		WALBytesWrittenTotal:   newIntFunc(prefix + "wal_bytes_written_total"),
		WALEntriesWrittenTotal: newIntFunc(prefix + "wal_entries_written_total"),

		WALRecoveryDurationSeconds: newFloatFunc(prefix + "wal_recovery_duration_seconds"),
		WALRecoveredEntriesTotal:   newIntFunc(prefix + "wal_recovered_entries_total"),

		CacheHits:   newIntFunc(prefix + "cache_hits"),
		CacheMisses: newIntFunc(prefix + "cache_misses"),

		setLatency: newLatencyDigest(),
		getLatency: newLatencyDigest(),
	}

	histMaps := []*expvar.Map{em.SetLatencyHist, em.GetLatencyHist, em.DeleteLatencyHist, em.FlushLatencyHist}
	for _, m := range histMaps {
		m.Set("count", new(expvar.Int))
		m.Set("sum", new(expvar.Float))
		for _, b := range latencyBuckets {
			m.Set(fmt.Sprintf("le_%g", b), new(expvar.Int))
		}
		m.Set("le_inf", new(expvar.Int))
	}

	if publishGlobally {
		publishExpvarFunc(prefix+"set_latency_quantiles", em.setLatency.snapshot)
		publishExpvarFunc(prefix+"get_latency_quantiles", em.getLatency.snapshot)
	}
	return em
}

// LatencyQuantiles returns the p50, p90 and p99 of the set and get latencies
// in seconds, keyed "set" and "get".
func (em *EngineMetrics) LatencyQuantiles() map[string]map[string]float64 {
	return map[string]map[string]float64{
		"set": em.setLatency.quantiles(),
		"get": em.getLatency.quantiles(),
	}
}

// publishGauges exposes the engine state callbacks under the metrics prefix.
// Gauges are only published for globally published metrics.
func (em *EngineMetrics) publishGauges() {
	if !em.PublishedGlobally {
		return
	}
	for name, f := range map[string]func() interface{}{
		"mutable_memtable_records": em.mutableMemtableRecordsFunc,
		"mutable_memtable_bytes":   em.mutableMemtableBytesFunc,
		"pending_flushes":          em.pendingFlushesFunc,
		"segments":                 em.segmentCountFunc,
		"uptime_seconds":           em.uptimeSecondsFunc,
	} {
		if f != nil {
			publishExpvarFunc(em.prefix+name, f)
		}
	}
}

// latencyDigest tracks a streaming latency distribution.
type latencyDigest struct {
	mu sync.Mutex
	td *tdigest.TDigest
}

func newLatencyDigest() *latencyDigest {
	td, err := tdigest.New()
	if err != nil {
		// Without a digest only the histogram buckets are recorded.
		return &latencyDigest{}
	}
	return &latencyDigest{td: td}
}

func (d *latencyDigest) observe(dur time.Duration) {
	if d == nil || d.td == nil {
		return
	}
	d.mu.Lock()
	_ = d.td.AddWeighted(dur.Seconds(), 1)
	d.mu.Unlock()
}

func (d *latencyDigest) quantiles() map[string]float64 {
	out := make(map[string]float64, 3)
	if d == nil || d.td == nil {
		return out
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.td.Count() == 0 {
		return out
	}
	out["p50"] = d.td.Quantile(0.5)
	out["p90"] = d.td.Quantile(0.9)
	out["p99"] = d.td.Quantile(0.99)
	return out
}

func (d *latencyDigest) snapshot() interface{} {
	return d.quantiles()
}
