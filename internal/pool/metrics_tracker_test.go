package pool

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/javi11/nzbinspect/internal/nntp"
)

type MockStatsSource struct {
	mock.Mock
}

func (m *MockStatsSource) Stats() nntp.Stats {
	args := m.Called()
	return args.Get(0).(nntp.Stats)
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestMetricsTracker_Counters(t *testing.T) {
	mt := NewMetricsTracker()

	mt.Observe(nntp.OpStat, nntp.OutcomeSuccess, 10*time.Millisecond, 0)
	mt.Observe(nntp.OpStat, nntp.OutcomeMissing, 30*time.Millisecond, 0)
	mt.Observe(nntp.OpBody, nntp.OutcomeSuccess, time.Millisecond, 700)
	mt.Observe(nntp.OpBody, nntp.OutcomeFailure, time.Millisecond, 0)
	mt.Observe(nntp.OpKeepAlive, nntp.OutcomeMissing, time.Millisecond, 0)
	mt.Observe(nntp.Op("unknown"), nntp.OutcomeSuccess, time.Millisecond, 99)
	mt.ConnectionOpened()
	mt.ConnectionOpened()
	mt.ConnectionClosed(true)
	mt.ConnectionClosed(false)

	snap := mt.GetSnapshot()
	assert.Equal(t, OpCounters{Success: 1, Missing: 1, AvgLatencyMs: 20}, snap.Stat)
	assert.Equal(t, int64(1), snap.Body.Success)
	assert.Equal(t, int64(1), snap.Body.Failure)
	assert.Equal(t, int64(1), snap.KeepAlive.Missing)
	assert.Equal(t, int64(700), snap.BytesDownloaded)
	assert.Equal(t, int64(2), snap.ConnectionsOpened)
	assert.Equal(t, int64(2), snap.ConnectionsClosed)
	assert.Equal(t, int64(1), snap.ConnectionsReplaced)
	assert.Equal(t, nntp.Stats{}, snap.Pool)
}

func TestMetricsTracker_PoolStats(t *testing.T) {
	source := new(MockStatsSource)
	source.On("Stats").Return(nntp.Stats{MaxConnections: 4, Live: 4, Idle: 3, InUse: 1}).Once()

	mt := NewMetricsTracker()
	mt.SetSource(source)

	snap := mt.GetSnapshot()
	assert.Equal(t, 3, snap.Pool.Idle)
	assert.Equal(t, 1, snap.Pool.InUse)
	source.AssertExpectations(t)

	mt.SetSource(nil)
	assert.Equal(t, nntp.Stats{}, mt.GetSnapshot().Pool)
}

func TestMetricsTracker_Speed(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mt := NewMetricsTracker()
	mt.now = clock.now

	assert.Zero(t, mt.GetSnapshot().DownloadSpeedBytesPerSec, "no samples yet")

	mt.takeSample()
	clock.advance(5 * time.Second)
	mt.Observe(nntp.OpBody, nntp.OutcomeSuccess, 0, 5000)
	mt.takeSample()
	clock.advance(5 * time.Second)
	mt.Observe(nntp.OpBody, nntp.OutcomeSuccess, 0, 5000)

	// 10000 bytes over the 10s window.
	snap := mt.GetSnapshot()
	assert.InDelta(t, 1000, snap.DownloadSpeedBytesPerSec, 0.001)
	assert.InDelta(t, 1000, snap.MaxDownloadSpeedBytesPerSec, 0.001)

	mt.takeSample()
	clock.advance(10 * time.Second)

	// Idle: speed drops, max is retained.
	snap = mt.GetSnapshot()
	assert.Zero(t, snap.DownloadSpeedBytesPerSec)
	assert.InDelta(t, 1000, snap.MaxDownloadSpeedBytesPerSec, 0.001)
}

func TestMetricsTracker_Retention(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	mt := NewMetricsTracker()
	mt.now = clock.now

	for range 30 {
		mt.takeSample()
		clock.advance(5 * time.Second)
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()
	assert.LessOrEqual(t, len(mt.samples), 13)
	assert.NotEmpty(t, mt.samples)
}
