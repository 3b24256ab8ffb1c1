// Package health runs a periodic liveness probe against every registered
// database and exposes per-database status for the admin API and metrics.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/config"
	"github.com/hydrogen-services/hydrogen/internal/metrics"
	"github.com/hydrogen-services/hydrogen/internal/pool"
	"github.com/hydrogen-services/hydrogen/internal/router"
)

// Status represents the health status of a database.
type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// DatabaseHealth holds health information for one registered database.
type DatabaseHealth struct {
	Status              Status    `json:"status"`
	LastCheck           time.Time `json:"last_check"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastError           string    `json:"last_error,omitempty"`
}

// Checker performs periodic health checks on every database in the registry,
// via the same pool.Manager the DQM and Auth Service acquire handles from —
// a probe is a real acquire + engine.Adapter.HealthCheck, not a raw TCP dial,
// so it exercises the exact path production traffic takes.
type Checker struct {
	mu        sync.RWMutex
	databases map[string]*DatabaseHealth
	router    *router.Router
	poolMgr   *pool.Manager
	metrics   *metrics.Collector

	interval          time.Duration
	failureThreshold  int
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a new health checker with configurable parameters.
func NewChecker(r *router.Router, pm *pool.Manager, m *metrics.Collector, hcCfg config.HealthCheckConfig) *Checker {
	return &Checker{
		databases:         make(map[string]*DatabaseHealth),
		router:            r,
		poolMgr:           pm,
		metrics:           m,
		interval:          hcCfg.Interval,
		failureThreshold:  hcCfg.FailureThreshold,
		connectionTimeout: hcCfg.ConnectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval, "threshold", c.failureThreshold)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	databases := c.router.ListDatabases()

	const maxWorkers = 10
	sem := make(chan struct{}, maxWorkers)
	var wg sync.WaitGroup

	for name := range databases {
		name := name
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			start := time.Now()
			healthy := c.pingDatabase(name)
			elapsed := time.Since(start)
			if c.metrics != nil {
				c.metrics.HealthCheckCompleted(name, elapsed, healthy)
			}
			c.updateStatus(name, healthy)
		}()
	}
	wg.Wait()
}

// pingDatabase acquires a real handle from the database's pool and runs the
// dialect adapter's cheapest liveness probe over it. A failure to acquire
// (pool exhausted, dial refused) and a failure of the probe itself are both
// reported as unhealthy, distinguished only by error_type for metrics.
func (c *Checker) pingDatabase(name string) bool {
	p, ok := c.poolMgr.Get(name)
	if !ok {
		c.setLastError(name, "no pool registered for database")
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.connectionTimeout)
	defer cancel()

	pc, err := p.Acquire(ctx)
	if err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "pool_exhausted")
		}
		c.setLastError(name, "acquire for health check: "+err.Error())
		return false
	}

	if err := p.Adapter().HealthCheck(ctx, pc.Handle()); err != nil {
		if c.metrics != nil {
			c.metrics.HealthCheckError(name, "probe_failed")
		}
		c.setLastError(name, "health probe: "+err.Error())
		p.Discard(pc)
		return false
	}

	p.Return(pc)
	c.setLastError(name, "")
	return true
}

func (c *Checker) setLastError(name, errMsg string) {
	c.mu.Lock()
	dh := c.getOrCreate(name)
	if errMsg != "" {
		dh.LastError = errMsg
	}
	c.mu.Unlock()
}

func (c *Checker) getOrCreate(name string) *DatabaseHealth {
	dh, ok := c.databases[name]
	if !ok {
		dh = &DatabaseHealth{Status: StatusUnknown}
		c.databases[name] = dh
	}
	return dh
}

func (c *Checker) updateStatus(name string, healthy bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dh := c.getOrCreate(name)
	dh.LastCheck = time.Now()

	if healthy {
		dh.ConsecutiveFailures = 0
		dh.Status = StatusHealthy
		return
	}

	dh.ConsecutiveFailures++
	if dh.ConsecutiveFailures >= c.failureThreshold {
		dh.Status = StatusUnhealthy
	}
}

// GetStatus returns the current health record for a database. A database
// never yet checked (including one not in the registry) reports StatusUnknown.
func (c *Checker) GetStatus(name string) DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	dh, ok := c.databases[name]
	if !ok {
		return DatabaseHealth{Status: StatusUnknown}
	}
	return *dh
}

// IsHealthy reports whether a database is healthy. A database with no
// recorded status yet (StatusUnknown) counts as healthy — it simply hasn't
// failed any check.
func (c *Checker) IsHealthy(name string) bool {
	return c.GetStatus(name).Status != StatusUnhealthy
}

// OverallHealthy reports whether every database with a recorded status is
// healthy.
func (c *Checker) OverallHealthy() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, dh := range c.databases {
		if dh.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// GetAllStatuses returns a snapshot of every database's current health record.
func (c *Checker) GetAllStatuses() map[string]DatabaseHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	result := make(map[string]DatabaseHealth, len(c.databases))
	for name, dh := range c.databases {
		result[name] = *dh
	}
	return result
}

// RemoveDatabase removes health state for a database that has been deleted
// from the registry.
func (c *Checker) RemoveDatabase(name string) {
	c.mu.Lock()
	delete(c.databases, name)
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RemoveDatabase(name)
	}
}
