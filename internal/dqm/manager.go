package dqm

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
	"github.com/hydrogen-services/hydrogen/internal/pool"
	"github.com/hydrogen-services/hydrogen/internal/qtc"
)

// Manager is the Database Queue Manager for one database: one mandatory
// Lead plus Workers spawned on demand per tag (spec.md §4.3).
type Manager struct {
	database string
	pool     *pool.Pool
	adapter  engine.Adapter
	qtcCache *qtc.Cache
	cfg      Config

	lead *queue

	mu      sync.Mutex
	workers map[Tag][]*queue

	pending sync.Map // request ID -> chan Result, for fire-and-forget timeout semantics

	closed bool
}

// NewManager creates a Manager with its mandatory Lead queue already
// running. qtcCache may be nil if this database has no QTC-backed queries
// (dispatch then always falls back to SQL-shape classification).
func NewManager(database string, p *pool.Pool, adapter engine.Adapter, qtcCache *qtc.Cache, cfg Config) *Manager {
	m := &Manager{
		database: database,
		pool:     p,
		adapter:  adapter,
		qtcCache: qtcCache,
		cfg:      cfg,
		workers:  make(map[Tag][]*queue),
	}
	m.lead = newQueue(database, TagFast, true, p, adapter, cfg.SubmitChannelSize)
	return m
}

// LeadHandle acquires a connection from the pool for Lead-only work
// (migrations, QTC bootstrap) via the Manager's own pool, bypassing the
// queue dispatch entirely — DDL and migrations are privileged operations
// that never go through Submit/Await.
func (m *Manager) LeadHandle(ctx context.Context) (*pool.PooledHandle, error) {
	return m.pool.Acquire(ctx)
}

// Submit enqueues a request on the appropriate queue and returns the
// request ID immediately; the result is retrieved with Await.
func (m *Manager) Submit(req Request) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", herr.Newf(herr.Unavailable, "dqm closed for database %s", m.database)
	}
	m.mu.Unlock()

	if req.InlineSQL == "" && req.QueryRef != nil {
		found := false
		if m.qtcCache != nil {
			if entry, ok := m.qtcCache.Lookup(*req.QueryRef); ok {
				req.InlineSQL = entry.SQLTemplate
				found = true
			}
		}
		if !found {
			return "", herr.Newf(herr.NotFound, "unknown query_ref %d for database %s", *req.QueryRef, m.database)
		}
	}

	tag := m.classify(req)
	q := m.queueFor(tag)

	resultCh := make(chan Result, 1)
	pr := &pendingRequest{req: req, resultCh: resultCh}

	if !q.submit(pr) {
		return "", herr.Newf(herr.Unavailable, "queue %s saturated for database %s", tag, m.database)
	}

	m.pending.Store(req.ID, resultCh)
	return req.ID, nil
}

// Await blocks until the request's result arrives or timeout elapses. A
// timeout does not cancel the in-flight query; the result, once computed,
// is simply discarded since no one is left listening on resultCh(1).
func (m *Manager) Await(ctx context.Context, requestID string, timeout time.Duration) (Result, error) {
	v, ok := m.pending.Load(requestID)
	if !ok {
		return Result{}, herr.Newf(herr.NotFound, "unknown request %s", requestID)
	}
	resultCh := v.(chan Result)
	defer m.pending.Delete(requestID)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		return res, nil
	case <-timer.C:
		return Result{}, herr.Newf(herr.Timeout, "await timeout for request %s", requestID)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Execute is the unified submit+await convenience path (spec.md §4.3:
// "Implementations may unify these into a single call").
func (m *Manager) Execute(ctx context.Context, req Request) (Result, error) {
	id, err := m.Submit(req)
	if err != nil {
		return Result{}, err
	}
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return m.Await(ctx, id, timeout)
}

// classify implements the dispatch algorithm (spec.md §4.3 steps 1-3).
func (m *Manager) classify(req Request) Tag {
	if req.QueueHint != "" {
		return req.QueueHint
	}

	if req.QueryRef != nil && m.qtcCache != nil {
		if entry, ok := m.qtcCache.Lookup(*req.QueryRef); ok && entry.QueueHint != "" {
			return Tag(entry.QueueHint)
		}
	}

	sqlText := req.InlineSQL
	if req.QueryRef != nil && m.qtcCache != nil {
		if entry, ok := m.qtcCache.Lookup(*req.QueryRef); ok {
			sqlText = entry.SQLTemplate
		}
	}

	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	switch {
	case strings.HasPrefix(upper, "SELECT") && len(req.Params) <= m.cfg.FastParamThreshold && !containsAggregation(upper):
		return TagFast
	case containsAggregation(upper):
		return TagSlow
	case req.QueryRef != nil:
		return TagCache
	default:
		return TagMedium
	}
}

func containsAggregation(upperSQL string) bool {
	for _, kw := range []string{"GROUP BY", "COUNT(", "SUM(", "AVG(", "JOIN"} {
		if strings.Contains(upperSQL, kw) {
			return true
		}
	}
	return false
}

// queueFor returns the live queue for tag, spawning a Worker if the tag has
// none yet, or if the tag's existing workers are backed up past
// SpawnThreshold and the ceiling allows another (spec.md §4.3 step 4).
func (m *Manager) queueFor(tag Tag) *queue {
	m.mu.Lock()
	defer m.mu.Unlock()

	workers := m.workers[tag]
	if len(workers) == 0 {
		return m.spawnLocked(tag)
	}

	// Route to the shallowest worker; spawn another if all are backed up.
	best := workers[0]
	for _, w := range workers[1:] {
		if w.Depth() < best.Depth() {
			best = w
		}
	}

	if best.Depth() > int64(m.cfg.SpawnThreshold) && len(workers) < m.cfg.MaxWorkersPerTag {
		return m.spawnLocked(tag)
	}
	return best
}

// spawnLocked creates a new Worker for tag. Caller must hold m.mu.
func (m *Manager) spawnLocked(tag Tag) *queue {
	m.lead.setState(StateSpawning)
	q := newQueue(m.database, tag, false, m.pool, m.adapter, m.cfg.SubmitChannelSize)
	m.workers[tag] = append(m.workers[tag], q)
	m.lead.setState(StateIdle)
	slog.Info("spawned worker", "database", m.database, "tag", tag, "count", len(m.workers[tag]))
	return q
}

// Stats reports queue depths and worker counts per tag, for introspection.
type Stats struct {
	Database   string         `json:"database"`
	LeadState  string         `json:"lead_state"`
	WorkersTag map[Tag]int    `json:"workers_per_tag"`
	DepthByTag map[Tag]int64  `json:"pending_depth_by_tag"`
}

// Stats returns a snapshot of queue occupancy.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		Database:   m.database,
		LeadState:  m.lead.State().String(),
		WorkersTag: make(map[Tag]int),
		DepthByTag: make(map[Tag]int64),
	}
	for tag, workers := range m.workers {
		s.WorkersTag[tag] = len(workers)
		var depth int64
		for _, w := range workers {
			depth += w.Depth()
		}
		s.DepthByTag[tag] = depth
	}
	return s
}

// Shutdown transitions every queue to ShuttingDown, drains in-flight work,
// and releases the Manager's hold on the pool (spec.md §4.3: terminal
// "ShuttingDown — stops accepting submissions, drains in-flight, then
// releases its connection to the pool").
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	workers := m.workers
	m.workers = make(map[Tag][]*queue)
	m.mu.Unlock()

	for _, ws := range workers {
		for _, w := range ws {
			w.stop()
		}
	}
	m.lead.stop()
}
