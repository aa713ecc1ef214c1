package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/nzbinspect/internal/config"
	"github.com/javi11/nzbinspect/internal/errors"
	"github.com/javi11/nzbinspect/internal/nntp"
)

type stubSession struct {
	closed atomic.Bool
}

func (s *stubSession) Stat(context.Context, string) error { return nil }

func (s *stubSession) Body(context.Context, string) ([]byte, error) {
	return []byte("=ybegin line=128 size=1 name=x\r\n*\r\n=yend size=1\r\n"), nil
}

func (s *stubSession) Close() error {
	s.closed.Store(true)
	return nil
}

type stubDialers struct {
	mu       sync.Mutex
	sessions []*stubSession
	hosts    []string
	fail     bool
}

func (d *stubDialers) factory(cfg *config.Config) nntp.DialFunc {
	return func(context.Context) (nntp.Session, error) {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.fail {
			return nil, errors.NewTransportError("dial", context.DeadlineExceeded)
		}
		s := &stubSession{}
		d.sessions = append(d.sessions, s)
		d.hosts = append(d.hosts, cfg.Provider.Host)
		return s, nil
	}
}

func (d *stubDialers) allClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if !s.closed.Load() {
			return false
		}
	}
	return true
}

func providerConfig(host string, conns int) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Provider.Host = host
	cfg.Provider.MaxConnections = conns
	return cfg
}

func TestManager_Lifecycle(t *testing.T) {
	dialers := &stubDialers{}
	m := newManager(context.Background(), nil, dialers.factory)
	defer m.Close()

	assert.False(t, m.HasPool())
	_, err := m.GetPool()
	assert.True(t, errors.IsResource(err))
	_, err = m.GetMetrics()
	assert.ErrorIs(t, err, errors.ErrPoolUnavailable)

	require.NoError(t, m.SetProvider(providerConfig("a.example.com", 3)))
	require.True(t, m.HasPool())

	p, err := m.GetPool()
	require.NoError(t, err)
	assert.Equal(t, 3, p.Stats().Idle)

	_, err = p.FetchBody(context.Background(), "x@y")
	require.NoError(t, err)

	snap, err := m.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.Body.Success)
	assert.Equal(t, int64(3), snap.ConnectionsOpened)
	assert.Equal(t, 3, snap.Pool.Live)

	require.NoError(t, m.ClearPool())
	assert.False(t, m.HasPool())
	assert.True(t, dialers.allClosed())
}

func TestManager_SetProviderReplacesPool(t *testing.T) {
	dialers := &stubDialers{}
	m := newManager(context.Background(), nil, dialers.factory)
	defer m.Close()

	require.NoError(t, m.SetProvider(providerConfig("a.example.com", 1)))
	first, err := m.GetPool()
	require.NoError(t, err)

	require.NoError(t, m.SetProvider(providerConfig("b.example.com", 2)))
	second, err := m.GetPool()
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	assert.ErrorIs(t, first.Stat(context.Background(), "x@y"), errors.ErrPoolClosed)
	assert.Equal(t, []string{"a.example.com", "b.example.com", "b.example.com"}, dialers.hosts)

	// Counters survive the rebuild.
	snap, err := m.GetMetrics()
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.ConnectionsOpened)
	assert.Equal(t, int64(1), snap.ConnectionsClosed)
}

func TestManager_EmptyHostClears(t *testing.T) {
	dialers := &stubDialers{}
	m := newManager(context.Background(), nil, dialers.factory)
	defer m.Close()

	require.NoError(t, m.SetProvider(providerConfig("a.example.com", 1)))
	require.NoError(t, m.SetProvider(providerConfig("", 1)))
	assert.False(t, m.HasPool())
}

func TestManager_DialFailureLeavesNoPool(t *testing.T) {
	dialers := &stubDialers{fail: true}
	m := newManager(context.Background(), nil, dialers.factory)
	defer m.Close()

	err := m.SetProvider(providerConfig("a.example.com", 2))
	require.Error(t, err)
	assert.True(t, errors.IsTransport(err))
	assert.False(t, m.HasPool())
}

func TestRegisterConfigHandlers(t *testing.T) {
	dialers := &stubDialers{}
	m := newManager(context.Background(), nil, dialers.factory)
	defer m.Close()

	initial := providerConfig("a.example.com", 1)
	require.NoError(t, m.SetProvider(initial))

	cm := config.NewManager(initial, "")
	RegisterConfigHandlers(context.Background(), cm, m)

	// Log-only change keeps the pool.
	same := initial.DeepCopy()
	same.Log.Level = "debug"
	before, _ := m.GetPool()
	require.NoError(t, cm.UpdateConfig(same))
	after, _ := m.GetPool()
	assert.Same(t, before, after)

	changed := providerConfig("b.example.com", 2)
	require.NoError(t, cm.UpdateConfig(changed))
	rebuilt, err := m.GetPool()
	require.NoError(t, err)
	assert.NotSame(t, before, rebuilt)
	assert.Equal(t, 2, rebuilt.Stats().MaxConnections)
}

func TestTestProvider_NoHost(t *testing.T) {
	assert.ErrorContains(t, TestProvider(context.Background(), config.DefaultConfig()), "host")
}
