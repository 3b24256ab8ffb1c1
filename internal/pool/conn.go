package pool

import (
	"sync"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/engine"
)

// ConnState represents the state of a pooled handle.
type ConnState int

const (
	ConnStateIdle ConnState = iota
	ConnStateActive
	ConnStateClosed
)

// PooledHandle wraps an engine.Handle with pooling metadata. It is the
// generalization of the teacher's PooledConn: where that type wrapped a raw
// net.Conn, this wraps whatever engine.Adapter.Connect returned, so the pool
// itself never depends on a specific dialect.
type PooledHandle struct {
	mu        sync.Mutex
	handle    engine.Handle
	state     ConnState
	createdAt time.Time
	lastUsed  time.Time
	database  string
	dialect   string
	pool      *Pool // back-reference for returning to pool
}

// NewPooledHandle wraps an engine.Handle for pool management.
func NewPooledHandle(h engine.Handle, database, dialect string, p *Pool) *PooledHandle {
	now := time.Now()
	return &PooledHandle{
		handle:    h,
		state:     ConnStateIdle,
		createdAt: now,
		lastUsed:  now,
		database:  database,
		dialect:   dialect,
		pool:      p,
	}
}

// Handle returns the underlying engine.Handle.
func (pc *PooledHandle) Handle() engine.Handle {
	return pc.handle
}

// Database returns the database this handle belongs to.
func (pc *PooledHandle) Database() string {
	return pc.database
}

// Dialect returns the engine dialect (postgresql, mysql, sqlite, db2).
func (pc *PooledHandle) Dialect() string {
	return pc.dialect
}

// MarkActive marks this handle as in-use.
func (pc *PooledHandle) MarkActive() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateActive
	pc.lastUsed = time.Now()
}

// MarkIdle marks this handle as idle (returned to pool).
func (pc *PooledHandle) MarkIdle() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateIdle
	pc.lastUsed = time.Now()
}

// State returns the current handle state.
func (pc *PooledHandle) State() ConnState {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.state
}

// CreatedAt returns when this handle was established.
func (pc *PooledHandle) CreatedAt() time.Time {
	return pc.createdAt
}

// LastUsed returns when this handle was last used.
func (pc *PooledHandle) LastUsed() time.Time {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lastUsed
}

// IsExpired checks if the handle has exceeded its max lifetime.
func (pc *PooledHandle) IsExpired(maxLifetime time.Duration) bool {
	if maxLifetime <= 0 {
		return false
	}
	return time.Since(pc.createdAt) > maxLifetime
}

// IsIdle checks if the handle has been idle longer than the timeout.
func (pc *PooledHandle) IsIdle(idleTimeout time.Duration) bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if idleTimeout <= 0 {
		return false
	}
	return pc.state == ConnStateIdle && time.Since(pc.lastUsed) > idleTimeout
}

// Close closes the underlying handle and marks it as closed.
func (pc *PooledHandle) Close() error {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	pc.state = ConnStateClosed
	return pc.handle.Close()
}

// Return releases this handle back to its pool.
func (pc *PooledHandle) Return() {
	if pc.pool != nil {
		pc.pool.Return(pc)
	}
}
