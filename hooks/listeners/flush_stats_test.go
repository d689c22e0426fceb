package listeners

import (
	"context"
	"errors"
	"testing"

	"github.com/INLOpen/chaindb/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlushStatsListener(t *testing.T) {
	l := NewFlushStatsListener(nil)
	again := NewFlushStatsListener(nil)
	assert.Same(t, l.events, again.events, "counters are shared across instances")

	beforeEvents := l.events.Value()
	beforeLogical := l.logicalBytes.Value()
	beforeSegment := l.segmentBytes.Value()
	beforeFailures := l.failures.Value()

	manager := hooks.NewHookManager(nil)
	l.Register(manager)

	require.NoError(t, manager.Trigger(context.Background(), hooks.NewPostFlushMemtableEvent(hooks.PostFlushPayload{
		GenerationID: 1,
		Records:      10,
		LogicalBytes: 200,
		SegmentSize:  150,
		Partitions:   2,
	})))
	require.NoError(t, manager.Trigger(context.Background(), hooks.NewOnFlushErrorEvent(hooks.FlushErrorPayload{
		GenerationID: 2,
		Err:          errors.New("disk full"),
	})))
	manager.Stop()

	assert.Equal(t, beforeEvents+1, l.events.Value())
	assert.Equal(t, beforeLogical+200, l.logicalBytes.Value())
	assert.Equal(t, beforeSegment+150, l.segmentBytes.Value())
	assert.Equal(t, beforeFailures+1, l.failures.Value())
}

func TestFlushStatsListener_IgnoresOtherPayloads(t *testing.T) {
	l := NewFlushStatsListener(nil)
	before := l.events.Value()
	require.NoError(t, l.OnEvent(context.Background(), hooks.NewPostSetEvent(hooks.PostSetPayload{Key: "k"})))
	assert.Equal(t, before, l.events.Value())
}
