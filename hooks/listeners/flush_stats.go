package listeners

import (
	"context"
	"expvar"
	"io"
	"log/slog"
	"sync"

	"github.com/INLOpen/chaindb/hooks"
)

var (
	flushMetricsOnce   sync.Once
	flushLogicalBytes  *expvar.Int
	flushSegmentBytes  *expvar.Int
	flushEvents        *expvar.Int
	flushFailureEvents *expvar.Int
)

func initFlushMetrics() {
	flushMetricsOnce.Do(func() {
		flushLogicalBytes = expvar.NewInt("chaindb_flush_logical_bytes_total")
		flushSegmentBytes = expvar.NewInt("chaindb_flush_segment_bytes_total")
		flushEvents = expvar.NewInt("chaindb_flush_events_total")
		flushFailureEvents = expvar.NewInt("chaindb_flush_failure_events_total")
		// Ratio of bytes on disk to logical record bytes, recomputed on every scrape.
		expvar.Publish("chaindb_flush_space_ratio", expvar.Func(func() interface{} {
			logical := flushLogicalBytes.Value()
			if logical == 0 {
				return 0.0
			}
			return float64(flushSegmentBytes.Value()) / float64(logical)
		}))
	})
}

// FlushStatsListener aggregates flush outcomes into process-wide expvars.
type FlushStatsListener struct {
	logger *slog.Logger

	logicalBytes *expvar.Int
	segmentBytes *expvar.Int
	events       *expvar.Int
	failures     *expvar.Int
}

// NewFlushStatsListener creates the listener. Calling it more than once shares the same counters.
func NewFlushStatsListener(logger *slog.Logger) *FlushStatsListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	initFlushMetrics()
	return &FlushStatsListener{
		logger:       logger.With("component", "FlushStatsListener"),
		logicalBytes: flushLogicalBytes,
		segmentBytes: flushSegmentBytes,
		events:       flushEvents,
		failures:     flushFailureEvents,
	}
}

// Register subscribes the listener to the events it understands.
func (l *FlushStatsListener) Register(m hooks.HookManager) {
	m.Register(hooks.EventPostFlushMemtable, l)
	m.Register(hooks.EventOnFlushError, l)
}

func (l *FlushStatsListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch payload := event.Payload().(type) {
	case hooks.PostFlushPayload:
		l.logicalBytes.Add(payload.LogicalBytes)
		l.segmentBytes.Add(payload.SegmentSize)
		l.events.Add(1)
		l.logger.Info("Flush committed",
			"generation", payload.GenerationID,
			"records", payload.Records,
			"partitions", payload.Partitions,
			"segment_bytes", payload.SegmentSize,
		)
	case hooks.FlushErrorPayload:
		l.failures.Add(1)
		l.logger.Error("Flush failed", "generation", payload.GenerationID, "frozen_wal", payload.FrozenWAL, "error", payload.Err)
	}
	return nil
}

func (l *FlushStatsListener) Priority() int {
	return 100
}

func (l *FlushStatsListener) IsAsync() bool {
	return true
}
