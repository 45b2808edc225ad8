package instance

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusTransitions(t *testing.T) {
	var i Instance
	i.status.Store(int32(Ready))

	assert.True(t, i.MarkBusy())
	assert.Equal(t, Busy, i.Status())

	assert.True(t, i.MarkReady())
	assert.Equal(t, Ready, i.Status())

	i.MarkCrashed()
	assert.Equal(t, Crashed, i.Status())
	assert.False(t, i.MarkReady())
}

func TestRequireReady(t *testing.T) {
	var i Instance
	i.ID = "abc"
	i.status.Store(int32(Ready))
	assert.NoError(t, i.RequireReady())

	i.status.Store(int32(Busy))
	assert.NoError(t, i.RequireReady())

	i.status.Store(int32(Crashed))
	assert.Error(t, i.RequireReady())
}

func TestMonitorLogRingBuffer(t *testing.T) {
	m := newMonitor()
	m.maxLogs = 3
	for _, msg := range []string{"a", "b", "c", "d"} {
		m.Append("console", msg)
	}
	snap := m.Snapshot("console", 0)
	assert.Len(t, snap, 3)
	assert.Equal(t, "d", snap[0].Message)
}

func TestMonitorDomainStats(t *testing.T) {
	m := newMonitor()
	m.RecordNavigation("example.com", false, false)
	m.RecordNavigation("example.com", true, true)

	snap := m.snapshotDomains()
	stats := snap["example.com"]
	assert.Equal(t, int64(2), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(1), stats.BlockedCount)
	assert.WithinDuration(t, time.Now(), stats.LastSeen, time.Second)
}
