package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nntp"
)

// Manager provides centralized NNTP connection pool management
type Manager interface {
	// GetPool returns the current connection pool or ErrPoolUnavailable
	GetPool() (*nntp.Pool, error)

	// SetProvider creates/recreates the pool for cfg; an empty host clears it
	SetProvider(cfg *config.Config) error

	// ClearPool shuts down and removes the current pool
	ClearPool() error

	// HasPool returns true if a pool is currently available
	HasPool() bool

	// GetMetrics returns cumulative pool metrics with calculated speeds
	GetMetrics() (MetricsSnapshot, error)

	// Close clears the pool and stops metric sampling
	Close() error
}

// manager implements the Manager interface
type manager struct {
	mu             sync.RWMutex
	pool           *nntp.Pool
	metricsTracker *MetricsTracker
	active         func() bool
	newDialer      DialerFactory
	ctx            context.Context
	logger         *slog.Logger
}

// NewManager creates a new pool manager. active gates keep-alive probes and may be nil.
func NewManager(ctx context.Context, active func() bool) Manager {
	return newManager(ctx, active, NewDialer)
}

func newManager(ctx context.Context, active func() bool, dialers DialerFactory) *manager {
	mt := NewMetricsTracker()
	mt.Start(ctx)
	return &manager{
		metricsTracker: mt,
		active:         active,
		newDialer:      dialers,
		ctx:            ctx,
		logger:         slog.Default().With("component", "pool"),
	}
}

// GetPool returns the current connection pool or error if not available
func (m *manager) GetPool() (*nntp.Pool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pool == nil {
		return nil, fmt.Errorf("no provider configured: %w", errors.ErrPoolUnavailable)
	}

	return m.pool, nil
}

// SetProvider creates/recreates the pool for the provider in cfg
func (m *manager) SetProvider(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked("Shutting down existing NNTP connection pool")

	if cfg.Provider.Host == "" {
		m.logger.InfoContext(m.ctx, "No NNTP provider configured - pool cleared")
		return nil
	}

	poolCfg := cfg.ToPoolConfig()
	poolCfg.Active = m.active
	poolCfg.Metrics = m.metricsTracker

	m.logger.InfoContext(m.ctx, "Creating NNTP connection pool",
		"address", cfg.ToNNTPOptions().Address(),
		"max_connections", poolCfg.MaxConnections)

	p, err := nntp.NewPool(m.ctx, poolCfg, m.newDialer(cfg))
	if err != nil {
		return fmt.Errorf("failed to create NNTP connection pool: %w", err)
	}

	m.pool = p
	m.metricsTracker.SetSource(p)

	m.logger.InfoContext(m.ctx, "NNTP connection pool created successfully")
	return nil
}

// ClearPool shuts down and removes the current pool
func (m *manager) ClearPool() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closeLocked("Clearing NNTP connection pool")
	return nil
}

func (m *manager) closeLocked(msg string) {
	if m.pool == nil {
		return
	}
	m.logger.InfoContext(m.ctx, msg)
	m.metricsTracker.SetSource(nil)
	if err := m.pool.Close(); err != nil {
		m.logger.WarnContext(m.ctx, "Error closing NNTP connection pool", "err", err)
	}
	m.pool = nil
}

// HasPool returns true if a pool is currently available
func (m *manager) HasPool() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.pool != nil
}

// GetMetrics returns the current pool metrics with calculated speeds
func (m *manager) GetMetrics() (MetricsSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.pool == nil {
		return MetricsSnapshot{}, fmt.Errorf("no provider configured: %w", errors.ErrPoolUnavailable)
	}

	return m.metricsTracker.GetSnapshot(), nil
}

// Close clears the pool and stops metric sampling
func (m *manager) Close() error {
	err := m.ClearPool()
	m.metricsTracker.Stop()
	return err
}
