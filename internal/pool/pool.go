// Package pool manages per-database connection pools: the Connection Pool
// Manager of spec.md §4.2. One Pool per registered database, holding a
// free list of idle engine.Handle values and tracking active/waiting
// counts; a Manager owns one Pool per database name.
package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// Stats holds connection pool statistics for a database.
type Stats struct {
	Database  string `json:"database"`
	Dialect   string `json:"dialect"`
	Active    int    `json:"active"`
	Idle      int    `json:"idle"`
	Total     int    `json:"total"`
	Waiting   int    `json:"waiting"`
	MaxConns  int    `json:"max_connections"`
	MinConns  int    `json:"min_connections"`
	Exhausted int64  `json:"pool_exhausted_total"`
}

// OnPoolExhausted is called when a pool reaches max connections and a goroutine must wait.
type OnPoolExhausted func(database string)

// Pool manages handles for a single database (spec.md §4.2: "per-database
// pools, max_size/handles[]/free_list/waiters").
type Pool struct {
	mu   sync.Mutex
	cond *sync.Cond // broadcast when a handle is returned

	database string
	adapter  engine.Adapter
	params   engine.ConnParams

	minConns       int
	maxConns       int
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	acquireTimeout time.Duration

	idle      []*PooledHandle
	active    map[*PooledHandle]struct{}
	total     int
	waiting   int
	exhausted int64

	closed          bool
	stopCh          chan struct{}
	onPoolExhausted OnPoolExhausted
}

// NewPool creates a new connection pool for a database.
func NewPool(database string, adapter engine.Adapter, dc config.DatabaseConfig, defaults config.PoolDefaults) *Pool {
	p := &Pool{
		database: database,
		adapter:  adapter,
		params: engine.ConnParams{
			Host:        dc.Host,
			Port:        dc.Port,
			DBName:      dc.DBName,
			Username:    dc.Username,
			Password:    dc.Password,
			Schema:      dc.Schema,
			DialTimeout: dc.EffectiveDialTimeout(defaults),
		},
		minConns:       dc.EffectiveMinConnections(defaults),
		maxConns:       dc.EffectiveMaxConnections(defaults),
		idleTimeout:    dc.EffectiveIdleTimeout(defaults),
		maxLifetime:    dc.EffectiveMaxLifetime(defaults),
		acquireTimeout: dc.EffectiveAcquireTimeout(defaults),
		idle:           make([]*PooledHandle, 0),
		active:         make(map[*PooledHandle]struct{}),
		stopCh:         make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	go p.reapLoop()

	if p.minConns > 0 {
		go p.warmUp()
	}

	return p
}

// warmUp pre-creates minConns idle handles so the pool is ready for traffic.
func (p *Pool) warmUp() {
	for i := 0; i < p.minConns; i++ {
		p.mu.Lock()
		if p.closed || p.total >= p.minConns {
			p.mu.Unlock()
			return
		}
		p.total++
		p.mu.Unlock()

		pc, err := p.dial(context.Background())
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			slog.Warn("warm-up connection failed", "index", i+1, "total", p.minConns, "database", p.database, "err", err)
			return
		}

		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			pc.Close()
			return
		}
		pc.MarkIdle()
		p.idle = append(p.idle, pc)
		p.mu.Unlock()
	}
	slog.Info("pre-warmed connections", "count", p.minConns, "database", p.database)
}

// Acquire gets a handle from the pool, creating one if needed.
// The context is used for cancellation and deadline propagation.
func (p *Pool) Acquire(ctx context.Context) (*PooledHandle, error) {
	deadlineAt := time.Now().Add(p.acquireTimeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadlineAt) {
		deadlineAt = ctxDeadline
	}

	p.mu.Lock()
	for {
		select {
		case <-ctx.Done():
			p.mu.Unlock()
			return nil, ctx.Err()
		default:
		}

		if p.closed {
			p.mu.Unlock()
			return nil, herr.Newf(herr.Unavailable, "pool closed for database %s", p.database)
		}

		for len(p.idle) > 0 {
			pc := p.idle[len(p.idle)-1]
			p.idle = p.idle[:len(p.idle)-1]

			if pc.IsExpired(p.maxLifetime) {
				pc.Close()
				p.total--
				continue
			}
			if err := pc.handle.Ping(ctx); err != nil {
				pc.Close()
				p.total--
				continue
			}

			pc.MarkActive()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		if p.total < p.maxConns {
			p.total++
			p.mu.Unlock()

			pc, err := p.dial(ctx)
			if err != nil {
				p.mu.Lock()
				p.total--
				p.mu.Unlock()
				return nil, herr.Wrap(herr.Unavailable, fmt.Sprintf("connecting to %s:%d for database %s", p.params.Host, p.params.Port, p.database), err)
			}

			pc.MarkActive()
			p.mu.Lock()
			p.active[pc] = struct{}{}
			p.mu.Unlock()
			return pc, nil
		}

		p.waiting++
		p.exhausted++
		cb := p.onPoolExhausted
		p.mu.Unlock()

		if cb != nil {
			cb(p.database)
		}

		p.mu.Lock()
		remaining := time.Until(deadlineAt)
		if remaining <= 0 {
			p.waiting--
			p.mu.Unlock()
			return nil, herr.Newf(herr.Timeout, "acquire timeout (%s) for database %s: pool exhausted", p.acquireTimeout, p.database)
		}

		timer := time.AfterFunc(remaining, func() {
			p.cond.Broadcast()
		})
		p.cond.Wait() // releases mu, waits for signal, reacquires mu
		timer.Stop()

		p.waiting--

		if p.closed {
			p.mu.Unlock()
			return nil, herr.Newf(herr.Unavailable, "pool closing for database %s", p.database)
		}
		if time.Now().After(deadlineAt) {
			p.mu.Unlock()
			return nil, herr.Newf(herr.Timeout, "acquire timeout (%s) for database %s: pool exhausted", p.acquireTimeout, p.database)
		}
		// retry from the top of the loop (mu is held)
	}
}

// InjectTestHandle adds a pre-built PooledHandle directly into the pool's
// idle list, bypassing dial(). Test-only.
func (p *Pool) InjectTestHandle(pc *PooledHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()
	pc.MarkIdle()
	p.idle = append(p.idle, pc)
	p.total++
	p.cond.Signal()
}

// Discard removes a broken handle from the pool entirely instead of
// returning it to the idle list, so the next Acquire dials a replacement
// rather than reusing a connection known to be dead.
func (p *Pool) Discard(pc *PooledHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)
	pc.Close()
	p.total--
	p.cond.Signal()
}

// Return releases a handle back to the pool.
func (p *Pool) Return(pc *PooledHandle) {
	p.mu.Lock()
	defer p.mu.Unlock()

	delete(p.active, pc)

	if p.closed || pc.IsExpired(p.maxLifetime) {
		pc.Close()
		p.total--
		p.cond.Signal()
		return
	}

	pc.MarkIdle()
	p.idle = append(p.idle, pc)

	// Signal() avoids the thundering-herd problem where Broadcast() would
	// wake all waiters only for all-but-one to go back to sleep.
	// Broadcast() is reserved for Close() and timeout wakeups.
	p.cond.Signal()
}

// Adapter returns the dialect adapter this pool was built with, so callers
// outside the package (the health checker's liveness probe) can issue a
// HealthCheck over a handle they acquire themselves.
func (p *Pool) Adapter() engine.Adapter {
	return p.adapter
}

// Stats returns current pool statistics.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		Database:  p.database,
		Dialect:   p.adapter.Dialect(),
		Active:    len(p.active),
		Idle:      len(p.idle),
		Total:     p.total,
		Waiting:   p.waiting,
		MaxConns:  p.maxConns,
		MinConns:  p.minConns,
		Exhausted: p.exhausted,
	}
}

// Drain closes all idle handles and waits for active ones to be returned.
func (p *Pool) Drain() {
	p.mu.Lock()

	for _, pc := range p.idle {
		pc.Close()
		p.total--
	}
	p.idle = p.idle[:0]

	activeCount := len(p.active)
	p.mu.Unlock()

	if activeCount > 0 {
		slog.Info("draining active handles", "count", activeCount, "database", p.database)
		timeout := time.After(30 * time.Second)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				p.mu.Lock()
				if len(p.active) == 0 {
					p.mu.Unlock()
					return
				}
				p.mu.Unlock()
			case <-timeout:
				p.mu.Lock()
				for pc := range p.active {
					pc.Close()
					p.total--
				}
				p.active = make(map[*PooledHandle]struct{})
				p.mu.Unlock()
				slog.Warn("force-closed active handles after drain timeout", "database", p.database)
				return
			}
		}
	}
}

// Close shuts down the pool.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.stopCh)
	p.cond.Broadcast() // wake any goroutines waiting in Acquire
	p.mu.Unlock()

	p.Drain()
}

func (p *Pool) dial(ctx context.Context) (*PooledHandle, error) {
	h, err := p.adapter.Connect(ctx, p.params)
	if err != nil {
		return nil, err
	}
	return NewPooledHandle(h, p.database, p.adapter.Dialect(), p), nil
}

func (p *Pool) reapLoop() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			p.reapIdle()
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) reapIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.idle) <= p.minConns {
		return
	}

	// Reap oldest handles first (front of the slice); keep at least
	// minConns, preserving the newest (back of the slice).
	kept := make([]*PooledHandle, 0, len(p.idle))
	excess := len(p.idle) - p.minConns
	for i, pc := range p.idle {
		if i < excess && (pc.IsIdle(p.idleTimeout) || pc.IsExpired(p.maxLifetime)) {
			pc.Close()
			p.total--
		} else {
			kept = append(kept, pc)
		}
	}
	p.idle = kept
}

// StatsCallback is called periodically with pool stats for each database.
type StatsCallback func(stats Stats)

// Manager manages connection pools for all registered databases.
type Manager struct {
	mu              sync.RWMutex
	pools           map[string]*Pool
	defaults        config.PoolDefaults
	onPoolExhausted OnPoolExhausted
	statsCallback   StatsCallback
	statsStopCh     chan struct{}
	closeOnce       sync.Once
}

// NewManager creates a new pool manager.
func NewManager(defaults config.PoolDefaults) *Manager {
	return &Manager{
		pools:       make(map[string]*Pool),
		defaults:    defaults,
		statsStopCh: make(chan struct{}),
	}
}

// SetOnPoolExhausted sets the callback for pool exhaustion events.
// Must be called before any pools are created.
func (m *Manager) SetOnPoolExhausted(cb OnPoolExhausted) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onPoolExhausted = cb
}

// StartStatsLoop starts a periodic goroutine that calls the stats callback for each pool.
func (m *Manager) StartStatsLoop(interval time.Duration, cb StatsCallback) {
	m.statsCallback = cb
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				for _, s := range m.AllStats() {
					cb(s)
				}
			case <-m.statsStopCh:
				return
			}
		}
	}()
}

// Create registers a new pool for database, rejecting a duplicate name
// (spec.md §4.2: database descriptors are immutable after registration).
func (m *Manager) Create(database string, adapter engine.Adapter, dc config.DatabaseConfig) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pools[database]; exists {
		return nil, herr.Newf(herr.Conflict, "database %q already registered", database)
	}

	p := NewPool(database, adapter, dc, m.defaults)
	p.onPoolExhausted = m.onPoolExhausted
	m.pools[database] = p
	slog.Info("created pool", "database", database, "dialect", adapter.Dialect(), "host", dc.Host, "port", dc.Port)
	return p, nil
}

// Get returns the pool for a database if it exists.
func (m *Manager) Get(database string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[database]
	return p, ok
}

// Remove closes and removes the pool for a database.
func (m *Manager) Remove(database string) bool {
	m.mu.Lock()
	p, ok := m.pools[database]
	if !ok {
		m.mu.Unlock()
		return false
	}
	delete(m.pools, database)
	m.mu.Unlock()

	p.Close()
	slog.Info("removed pool", "database", database)
	return true
}

// DrainDatabase drains connections for a specific database.
func (m *Manager) DrainDatabase(database string) bool {
	m.mu.RLock()
	p, ok := m.pools[database]
	m.mu.RUnlock()

	if !ok {
		return false
	}
	p.Drain()
	return true
}

// AllStats returns stats for all database pools.
func (m *Manager) AllStats() []Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make([]Stats, 0, len(m.pools))
	for _, p := range m.pools {
		stats = append(stats, p.Stats())
	}
	return stats
}

// DatabaseStats returns stats for a specific database pool.
func (m *Manager) DatabaseStats(database string) (Stats, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pools[database]
	if !ok {
		return Stats{}, false
	}
	return p.Stats(), true
}

// UpdateDefaults updates the default pool settings.
func (m *Manager) UpdateDefaults(defaults config.PoolDefaults) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaults = defaults
}

// Close shuts down all pools and stops the stats loop. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.statsStopCh)
	})

	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
