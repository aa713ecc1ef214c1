package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/javi11/nzbinspect/internal/nntp"
)

// StatsSource reports the live connection counts of a pool.
type StatsSource interface {
	Stats() nntp.Stats
}

// OpCounters holds cumulative outcome counts for one operation kind.
type OpCounters struct {
	Success int64 `json:"success"`
	Missing int64 `json:"missing"`
	Failure int64 `json:"failure"`
	// AvgLatencyMs averages over every observation of the operation.
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// MetricsSnapshot represents pool metrics at a point in time with calculated values
type MetricsSnapshot struct {
	Stat                        OpCounters `json:"stat"`
	Body                        OpCounters `json:"body"`
	KeepAlive                   OpCounters `json:"keepalive"`
	BytesDownloaded             int64      `json:"bytes_downloaded"`
	ConnectionsOpened           int64      `json:"connections_opened"`
	ConnectionsClosed           int64      `json:"connections_closed"`
	ConnectionsReplaced         int64      `json:"connections_replaced"`
	DownloadSpeedBytesPerSec    float64    `json:"download_speed_bytes_per_sec"`
	MaxDownloadSpeedBytesPerSec float64    `json:"max_download_speed_bytes_per_sec"`
	Pool                        nntp.Stats `json:"pool"`
	Timestamp                   time.Time  `json:"timestamp"`
}

type opCounters struct {
	success   atomic.Int64
	missing   atomic.Int64
	failure   atomic.Int64
	latencyNs atomic.Int64
}

func (c *opCounters) snapshot() OpCounters {
	s := OpCounters{
		Success: c.success.Load(),
		Missing: c.missing.Load(),
		Failure: c.failure.Load(),
	}
	if n := s.Success + s.Missing + s.Failure; n > 0 {
		s.AvgLatencyMs = float64(c.latencyNs.Load()) / float64(n) / float64(time.Millisecond)
	}
	return s
}

// MetricsTracker counts pool operations and calculates a rolling download rate.
// It implements nntp.Metrics and survives pool rebuilds, so counters are cumulative.
type MetricsTracker struct {
	ops      map[nntp.Op]*opCounters
	bytes    atomic.Int64
	opened   atomic.Int64
	closed   atomic.Int64
	replaced atomic.Int64
	sourceMu sync.RWMutex
	source   StatsSource
	mu       sync.Mutex
	samples  []metricsample
	maxSpeed float64
	cancel   context.CancelFunc
	now      func() time.Time
	logger   *slog.Logger

	sampleInterval    time.Duration
	retentionPeriod   time.Duration
	calculationWindow time.Duration // Window for speed calculations (shorter than retention for accuracy)
}

// metricsample represents the byte counter at a point in time
type metricsample struct {
	bytesDownloaded int64
	timestamp       time.Time
}

var _ nntp.Metrics = (*MetricsTracker)(nil)

// NewMetricsTracker creates a new metrics tracker
func NewMetricsTracker() *MetricsTracker {
	return &MetricsTracker{
		ops: map[nntp.Op]*opCounters{
			nntp.OpStat:      {},
			nntp.OpBody:      {},
			nntp.OpKeepAlive: {},
		},
		samples:           make([]metricsample, 0, 16),
		sampleInterval:    5 * time.Second,
		retentionPeriod:   60 * time.Second,
		calculationWindow: 10 * time.Second,
		now:               time.Now,
		logger:            slog.Default().With("component", "metrics-tracker"),
	}
}

// Observe implements nntp.Metrics.
func (mt *MetricsTracker) Observe(op nntp.Op, outcome nntp.Outcome, latency time.Duration, bytes int) {
	c, ok := mt.ops[op]
	if !ok {
		return
	}
	switch outcome {
	case nntp.OutcomeSuccess:
		c.success.Add(1)
	case nntp.OutcomeMissing:
		c.missing.Add(1)
	default:
		c.failure.Add(1)
	}
	c.latencyNs.Add(int64(latency))
	if bytes > 0 {
		mt.bytes.Add(int64(bytes))
	}
}

// ConnectionOpened implements nntp.Metrics.
func (mt *MetricsTracker) ConnectionOpened() { mt.opened.Add(1) }

// ConnectionClosed implements nntp.Metrics.
func (mt *MetricsTracker) ConnectionClosed(replaced bool) {
	mt.closed.Add(1)
	if replaced {
		mt.replaced.Add(1)
	}
}

// SetSource points the tracker at the pool whose live counts are reported. nil detaches it.
func (mt *MetricsTracker) SetSource(s StatsSource) {
	mt.sourceMu.Lock()
	defer mt.sourceMu.Unlock()
	mt.source = s
}

// Start begins collecting rate samples until ctx is done or Stop is called
func (mt *MetricsTracker) Start(ctx context.Context) {
	childCtx, cancel := context.WithCancel(ctx)
	mt.mu.Lock()
	mt.cancel = cancel
	mt.mu.Unlock()

	mt.takeSample()
	go mt.samplingLoop(childCtx)

	mt.logger.InfoContext(ctx, "Metrics tracker started",
		"sample_interval", mt.sampleInterval,
		"retention_period", mt.retentionPeriod)
}

// Stop stops collecting rate samples
func (mt *MetricsTracker) Stop() {
	mt.mu.Lock()
	cancel := mt.cancel
	mt.cancel = nil
	mt.mu.Unlock()

	if cancel != nil {
		cancel()
		mt.logger.Info("Metrics tracker stopped")
	}
}

// GetSnapshot returns the current metrics with calculated speeds
func (mt *MetricsTracker) GetSnapshot() MetricsSnapshot {
	now := mt.now()
	bytes := mt.bytes.Load()

	mt.mu.Lock()
	speed := mt.calculateSpeed(bytes, now)
	if speed > mt.maxSpeed {
		mt.maxSpeed = speed
	}
	maxSpeed := mt.maxSpeed
	mt.mu.Unlock()

	snap := MetricsSnapshot{
		Stat:                        mt.ops[nntp.OpStat].snapshot(),
		Body:                        mt.ops[nntp.OpBody].snapshot(),
		KeepAlive:                   mt.ops[nntp.OpKeepAlive].snapshot(),
		BytesDownloaded:             bytes,
		ConnectionsOpened:           mt.opened.Load(),
		ConnectionsClosed:           mt.closed.Load(),
		ConnectionsReplaced:         mt.replaced.Load(),
		DownloadSpeedBytesPerSec:    speed,
		MaxDownloadSpeedBytesPerSec: maxSpeed,
		Timestamp:                   now,
	}

	mt.sourceMu.RLock()
	if mt.source != nil {
		snap.Pool = mt.source.Stats()
	}
	mt.sourceMu.RUnlock()

	return snap
}

func (mt *MetricsTracker) samplingLoop(ctx context.Context) {
	ticker := time.NewTicker(mt.sampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			mt.takeSample()
		}
	}
}

func (mt *MetricsTracker) takeSample() {
	sample := metricsample{
		bytesDownloaded: mt.bytes.Load(),
		timestamp:       mt.now(),
	}

	mt.mu.Lock()
	defer mt.mu.Unlock()

	mt.samples = append(mt.samples, sample)
	mt.cleanupOldSamples(sample.timestamp)
}

// cleanupOldSamples removes samples older than the retention period
func (mt *MetricsTracker) cleanupOldSamples(now time.Time) {
	cutoff := now.Add(-mt.retentionPeriod)

	keepIndex := 0
	for keepIndex < len(mt.samples)-1 && !mt.samples[keepIndex].timestamp.After(cutoff) {
		keepIndex++
	}

	if keepIndex > 0 {
		mt.samples = mt.samples[keepIndex:]
	}
}

// calculateSpeed compares the current byte count with the newest sample at
// least calculationWindow old, or the oldest sample when none is that old.
func (mt *MetricsTracker) calculateSpeed(bytes int64, now time.Time) float64 {
	if len(mt.samples) == 0 {
		return 0
	}

	targetTime := now.Add(-mt.calculationWindow)
	compare := mt.samples[0]
	for i := len(mt.samples) - 1; i >= 0; i-- {
		if !mt.samples[i].timestamp.After(targetTime) {
			compare = mt.samples[i]
			break
		}
	}

	timeDelta := now.Sub(compare.timestamp).Seconds()
	if timeDelta <= 0 {
		return 0
	}

	delta := bytes - compare.bytesDownloaded
	if delta <= 0 {
		return 0
	}
	return float64(delta) / timeDelta
}
