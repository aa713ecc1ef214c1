package nntp

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	concpool "github.com/sourcegraph/conc/pool"

	"github.com/javi11/nzbinspect/internal/errors"
)

// Session is the subset of Client the pool lends out.
type Session interface {
	Stat(ctx context.Context, messageID string) error
	Body(ctx context.Context, messageID string) ([]byte, error)
	Close() error
}

// DialFunc opens one session.
type DialFunc func(ctx context.Context) (Session, error)

// DialerFor returns a DialFunc that opens Clients with opts.
func DialerFor(opts Options) DialFunc {
	return func(ctx context.Context) (Session, error) {
		c, err := Dial(ctx, opts)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// PoolConfig tunes a Pool. Zero durations take the defaults below.
type PoolConfig struct {
	MaxConnections    int
	KeepAliveInterval time.Duration
	StatTimeout       time.Duration
	FetchTimeout      time.Duration
	ReconnectDelay    time.Duration
	// Active reports whether the pool saw inspection traffic recently.
	// Keep-alive probes only run while it returns true; nil means always.
	Active  func() bool
	Metrics Metrics
}

const (
	DefaultKeepAliveInterval = 30 * time.Second
	DefaultStatTimeout       = 5 * time.Second
	DefaultFetchTimeout      = 30 * time.Second
	DefaultReconnectDelay    = time.Second
)

func (c *PoolConfig) setDefaults() {
	if c.KeepAliveInterval <= 0 {
		c.KeepAliveInterval = DefaultKeepAliveInterval
	}
	if c.StatTimeout <= 0 {
		c.StatTimeout = DefaultStatTimeout
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics
	}
}

// Conn is a pooled session lent to exactly one caller between Acquire and Release.
type Conn struct {
	id      uint64
	session Session

	// Guarded by Pool.mu.
	idle  bool
	gen   uint64
	timer *time.Timer
}

// ID identifies the connection in logs.
func (c *Conn) ID() uint64 { return c.id }

// Stat runs STAT on the lent session.
func (c *Conn) Stat(ctx context.Context, messageID string) error {
	return c.session.Stat(ctx, messageID)
}

// Body runs BODY on the lent session.
func (c *Conn) Body(ctx context.Context, messageID string) ([]byte, error) {
	return c.session.Body(ctx, messageID)
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	MaxConnections int  `json:"max_connections"`
	Live           int  `json:"live"`
	Idle           int  `json:"idle"`
	InUse          int  `json:"in_use"`
	Waiting        int  `json:"waiting"`
	Replacing      int  `json:"replacing"`
	Closed         bool `json:"closed"`
}

// Pool keeps a fixed number of NNTP sessions open. Idle sessions are probed
// periodically; a session that fails is destroyed and replaced in the background.
type Pool struct {
	cfg  PoolConfig
	dial DialFunc
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	idle      []*Conn
	waiters   []chan *Conn
	live      int
	replacing int
	nextID    uint64
	closed    bool
}

// NewPool opens cfg.MaxConnections sessions concurrently. If any of them
// fails the others are closed and the error is returned.
func NewPool(ctx context.Context, cfg PoolConfig, dial DialFunc) (*Pool, error) {
	if cfg.MaxConnections <= 0 {
		return nil, errors.NewNonRetryableError("max connections must be positive", nil)
	}
	cfg.setDefaults()

	sessions := make([]Session, cfg.MaxConnections)
	cp := concpool.New().WithContext(ctx).WithCancelOnError()
	for i := range sessions {
		cp.Go(func(ctx context.Context) error {
			s, err := dial(ctx)
			if err != nil {
				return fmt.Errorf("connection %d: %w", i, err)
			}
			sessions[i] = s
			return nil
		})
	}
	if err := cp.Wait(); err != nil {
		for _, s := range sessions {
			if s != nil {
				_ = s.Close()
			}
		}
		return nil, fmt.Errorf("failed to open NNTP connections: %w", err)
	}

	p := &Pool{
		cfg:  cfg,
		dial: dial,
		log:  slog.Default().With("component", "nntp-pool"),
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())

	p.mu.Lock()
	for _, s := range sessions {
		p.live++
		p.putLocked(p.newConnLocked(s))
		cfg.Metrics.ConnectionOpened()
	}
	p.mu.Unlock()

	p.log.InfoContext(ctx, "NNTP connection pool ready", "connections", cfg.MaxConnections)
	return p, nil
}

func (p *Pool) newConnLocked(s Session) *Conn {
	p.nextID++
	return &Conn{id: p.nextID, session: s}
}

// Acquire lends an idle connection, waiting in FIFO order when none is idle.
// A caller that gives up through ctx leaves the pool unchanged.
func (p *Pool) Acquire(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		c := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.lendLocked(c)
		p.mu.Unlock()
		return c, nil
	}
	w := make(chan *Conn, 1)
	p.waiters = append(p.waiters, w)
	p.mu.Unlock()

	select {
	case c, ok := <-w:
		if !ok {
			return nil, errors.ErrPoolClosed
		}
		return c, nil
	case <-ctx.Done():
		p.mu.Lock()
		i := slices.Index(p.waiters, w)
		if i >= 0 {
			p.waiters = slices.Delete(p.waiters, i, i+1)
		}
		p.mu.Unlock()
		if i < 0 {
			// A connection was handed over while giving up.
			if c, ok := <-w; ok {
				p.Release(c, false)
			}
		}
		return nil, ctx.Err()
	}
}

// Release returns c to the pool. With drop the session is destroyed and a
// replacement is opened in the background.
func (p *Pool) Release(c *Conn, drop bool) {
	p.mu.Lock()
	if p.closed {
		p.live--
		p.mu.Unlock()
		p.closeSession(c, false)
		return
	}
	if drop {
		p.live--
		p.replacing++
		p.wg.Add(1)
		p.mu.Unlock()

		p.closeSession(c, true)
		go p.replace()
		return
	}
	p.putLocked(c)
	p.mu.Unlock()
}

func (p *Pool) lendLocked(c *Conn) {
	c.idle = false
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
	}
}

// putLocked hands c to the first waiter, or parks it and arms its keep-alive.
func (p *Pool) putLocked(c *Conn) {
	if len(p.waiters) > 0 {
		w := p.waiters[0]
		p.waiters = p.waiters[1:]
		p.lendLocked(c)
		w <- c
		return
	}
	c.idle = true
	p.idle = append(p.idle, c)
	p.armLocked(c)
}

func (p *Pool) armLocked(c *Conn) {
	c.gen++
	gen := c.gen
	c.timer = time.AfterFunc(p.cfg.KeepAliveInterval, func() { p.keepAlive(c, gen) })
}

func (p *Pool) keepAlive(c *Conn, gen uint64) {
	p.mu.Lock()
	if p.closed || !c.idle || c.gen != gen {
		p.mu.Unlock()
		return
	}
	if p.cfg.Active != nil && !p.cfg.Active() {
		p.armLocked(c)
		p.mu.Unlock()
		return
	}
	if i := slices.Index(p.idle, c); i >= 0 {
		p.idle = slices.Delete(p.idle, i, i+1)
	}
	p.lendLocked(c)
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.StatTimeout)
	defer cancel()
	start := time.Now()
	err := c.session.Stat(ctx, keepAliveID())
	if err == nil || errors.IsNotFound(err) {
		p.cfg.Metrics.Observe(OpKeepAlive, OutcomeSuccess, time.Since(start), 0)
		p.Release(c, false)
		return
	}

	p.cfg.Metrics.Observe(OpKeepAlive, OutcomeFailure, time.Since(start), 0)
	p.log.WarnContext(ctx, "NNTP keep-alive failed, replacing connection", "conn", c.id, "error", err)
	p.Release(c, true)
}

// keepAliveID returns a message id no server will have.
func keepAliveID() string {
	return "<keepalive-" + uuid.NewString() + "@nzbinspect.invalid>"
}

func (p *Pool) replace() {
	defer p.wg.Done()

	var s Session
	err := retry.Do(
		func() error {
			var err error
			s, err = p.dial(p.ctx)
			return err
		},
		retry.Attempts(0),
		retry.Delay(p.cfg.ReconnectDelay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.log.WarnContext(p.ctx, "NNTP reconnect failed, retrying",
				"attempt", n+1,
				"error", err)
		}),
		retry.Context(p.ctx),
	)

	p.mu.Lock()
	p.replacing--
	if err != nil || p.closed {
		p.mu.Unlock()
		if s != nil {
			_ = s.Close()
		}
		return
	}
	p.live++
	p.putLocked(p.newConnLocked(s))
	p.mu.Unlock()

	p.cfg.Metrics.ConnectionOpened()
	p.log.DebugContext(p.ctx, "NNTP connection replaced")
}

func (p *Pool) closeSession(c *Conn, replaced bool) {
	if err := c.session.Close(); err != nil {
		p.log.Debug("NNTP session close failed", "conn", c.id, "error", err)
	}
	p.cfg.Metrics.ConnectionClosed(replaced)
}

// finish records the outcome of op and releases c, dropping it on any error
// other than a missing article.
func (p *Pool) finish(c *Conn, op Op, start time.Time, n int, err error) {
	latency := time.Since(start)
	switch {
	case err == nil:
		p.cfg.Metrics.Observe(op, OutcomeSuccess, latency, n)
		p.Release(c, false)
	case errors.IsNotFound(err):
		p.cfg.Metrics.Observe(op, OutcomeMissing, latency, 0)
		p.Release(c, false)
	default:
		p.cfg.Metrics.Observe(op, OutcomeFailure, latency, 0)
		p.log.Debug("NNTP command failed, dropping connection", "op", op, "conn", c.id, "error", err)
		p.Release(c, true)
	}
}

// Stat checks that an article exists within the stat timeout. A missing
// article is reported as errors.ErrArticleNotFound.
func (p *Pool) Stat(ctx context.Context, messageID string) error {
	c, err := p.Acquire(ctx)
	if err != nil {
		return err
	}

	sctx, cancel := context.WithTimeout(ctx, p.cfg.StatTimeout)
	defer cancel()
	start := time.Now()
	err = c.Stat(sctx, messageID)
	p.finish(c, OpStat, start, 0, err)
	return err
}

// FetchBody returns the raw (still yEnc encoded) body of an article.
func (p *Pool) FetchBody(ctx context.Context, messageID string) ([]byte, error) {
	c, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()
	start := time.Now()
	body, err := c.Body(fctx, messageID)
	p.finish(c, OpBody, start, len(body), err)
	return body, err
}

// Stats returns the current pool occupancy.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxConnections: p.cfg.MaxConnections,
		Live:           p.live,
		Idle:           len(p.idle),
		InUse:          p.live - len(p.idle),
		Waiting:        len(p.waiters),
		Replacing:      p.replacing,
		Closed:         p.closed,
	}
}

// Close stops replacement attempts, wakes waiters with ErrPoolClosed and
// closes idle sessions. Lent connections are closed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	waiters := p.waiters
	p.idle = nil
	p.waiters = nil
	p.live -= len(idle)
	for _, c := range idle {
		p.lendLocked(c)
	}
	p.mu.Unlock()

	p.cancel()
	for _, w := range waiters {
		close(w)
	}
	for _, c := range idle {
		p.closeSession(c, false)
	}
	p.wg.Wait()

	p.log.Info("NNTP connection pool closed")
	return nil
}
