package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for Hydrogen.
type Collector struct {
	Registry *prometheus.Registry

	connectionsActive  *prometheus.GaugeVec
	connectionsIdle    *prometheus.GaugeVec
	connectionsTotal   *prometheus.GaugeVec
	connectionsWaiting *prometheus.GaugeVec
	databaseHealth     *prometheus.GaugeVec
	poolExhausted      *prometheus.CounterVec

	healthCheckDuration *prometheus.HistogramVec
	healthCheckErrors   *prometheus.CounterVec

	// Database Queue Manager metrics (internal/dqm).
	queueDepth   *prometheus.GaugeVec
	queueWorkers *prometheus.GaugeVec
	queryQueued  *prometheus.HistogramVec
	queryRetries *prometheus.CounterVec

	// Query Table Cache metrics (internal/qtc).
	qtcCacheLookups *prometheus.CounterVec
	qtcCacheSize    *prometheus.GaugeVec
	qtcVersion      *prometheus.GaugeVec

	// Migration engine metrics (internal/migration).
	migrationDuration *prometheus.HistogramVec
	migrationsApplied *prometheus.CounterVec

	// Auth Service metrics (internal/auth).
	authIssued   *prometheus.CounterVec
	authRejected *prometheus.CounterVec
	authRevoked  *prometheus.CounterVec
}

// New creates and registers all Prometheus metrics using a custom registry.
// Safe to call multiple times (e.g., in tests or on config reload) — each call
// creates an independent registry that doesn't conflict with others.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		connectionsActive: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_connections_active",
				Help: "Number of active pooled connections per database",
			},
			[]string{"database", "db_type"},
		),
		connectionsIdle: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_connections_idle",
				Help: "Number of idle pooled connections per database",
			},
			[]string{"database", "db_type"},
		),
		connectionsTotal: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_connections_total",
				Help: "Total number of pooled connections per database",
			},
			[]string{"database", "db_type"},
		),
		connectionsWaiting: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_connections_waiting",
				Help: "Number of goroutines waiting to acquire a connection per database",
			},
			[]string{"database", "db_type"},
		),
		databaseHealth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_database_health",
				Help: "Health status of a configured database (1=healthy, 0=unhealthy)",
			},
			[]string{"database"},
		),
		poolExhausted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_pool_exhausted_total",
				Help: "Total number of times a database's pool was exhausted",
			},
			[]string{"database"},
		),

		healthCheckDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydrogen_health_check_duration_seconds",
				Help:    "Duration of database health check probes",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"database", "status"},
		),
		healthCheckErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_health_check_errors_total",
				Help: "Health check errors by type",
			},
			[]string{"database", "error_type"},
		),

		queueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_dqm_queue_depth",
				Help: "Pending request count summed across a tag's worker queues",
			},
			[]string{"database", "tag"},
		),
		queueWorkers: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_dqm_queue_workers",
				Help: "Number of worker queues currently spawned for a tag",
			},
			[]string{"database", "tag"},
		),
		queryQueued: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydrogen_dqm_query_duration_seconds",
				Help:    "End-to-end duration of a query from Submit to Await completion",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 16),
			},
			[]string{"database", "tag"},
		),
		queryRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_dqm_query_retries_total",
				Help: "Query retries after a Disconnected handle on the first attempt",
			},
			[]string{"database", "tag"},
		),

		qtcCacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_qtc_lookups_total",
				Help: "Query Table Cache lookups by hit/miss outcome",
			},
			[]string{"database", "outcome"},
		),
		qtcCacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_qtc_entries",
				Help: "Number of query_ref entries in the current cache snapshot",
			},
			[]string{"database"},
		),
		qtcVersion: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hydrogen_qtc_version",
				Help: "Cache version currently installed by the QTC watcher",
			},
			[]string{"database"},
		),

		migrationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hydrogen_migration_duration_seconds",
				Help:    "Duration of a single migration's APPLY phase",
				Buckets: prometheus.ExponentialBuckets(0.001, 2, 18),
			},
			[]string{"database", "status"},
		),
		migrationsApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_migrations_applied_total",
				Help: "Migrations applied, by outcome",
			},
			[]string{"database", "status"},
		),

		authIssued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_auth_tokens_issued_total",
				Help: "JWTs issued by login or renew",
			},
			[]string{"database", "event"},
		),
		authRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_auth_rejected_total",
				Help: "Login/renew attempts rejected, by reason",
			},
			[]string{"database", "reason"},
		),
		authRevoked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hydrogen_auth_tokens_revoked_total",
				Help: "JWTs revoked by logout or superseded by renew",
			},
			[]string{"database", "event"},
		),
	}

	reg.MustRegister(
		c.connectionsActive,
		c.connectionsIdle,
		c.connectionsTotal,
		c.connectionsWaiting,
		c.databaseHealth,
		c.poolExhausted,
		c.healthCheckDuration,
		c.healthCheckErrors,
		c.queueDepth,
		c.queueWorkers,
		c.queryQueued,
		c.queryRetries,
		c.qtcCacheLookups,
		c.qtcCacheSize,
		c.qtcVersion,
		c.migrationDuration,
		c.migrationsApplied,
		c.authIssued,
		c.authRejected,
		c.authRevoked,
	)

	return c
}

// UpdatePoolStats updates the pool gauge metrics from a pool stats snapshot.
func (c *Collector) UpdatePoolStats(database, dbType string, active, idle, total, waiting int) {
	c.connectionsActive.WithLabelValues(database, dbType).Set(float64(active))
	c.connectionsIdle.WithLabelValues(database, dbType).Set(float64(idle))
	c.connectionsTotal.WithLabelValues(database, dbType).Set(float64(total))
	c.connectionsWaiting.WithLabelValues(database, dbType).Set(float64(waiting))
}

// PoolExhausted increments the pool exhaustion counter for a database.
func (c *Collector) PoolExhausted(database string) {
	c.poolExhausted.WithLabelValues(database).Inc()
}

// SetDatabaseHealth sets the health gauge for a configured database.
func (c *Collector) SetDatabaseHealth(database string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	c.databaseHealth.WithLabelValues(database).Set(val)
}

// HealthCheckCompleted records a health check probe duration and result.
func (c *Collector) HealthCheckCompleted(database string, d time.Duration, healthy bool) {
	status := "healthy"
	if !healthy {
		status = "unhealthy"
	}
	c.healthCheckDuration.WithLabelValues(database, status).Observe(d.Seconds())
}

// HealthCheckError records a health check error by type.
func (c *Collector) HealthCheckError(database, errorType string) {
	c.healthCheckErrors.WithLabelValues(database, errorType).Inc()
}

// UpdateQueueStats records a dqm.Manager.Stats() snapshot for one tag.
func (c *Collector) UpdateQueueStats(database string, tag string, workers int, depth int64) {
	c.queueWorkers.WithLabelValues(database, tag).Set(float64(workers))
	c.queueDepth.WithLabelValues(database, tag).Set(float64(depth))
}

// QueryCompleted observes the Submit-to-Await duration of one DQM request.
func (c *Collector) QueryCompleted(database, tag string, d time.Duration) {
	c.queryQueued.WithLabelValues(database, tag).Observe(d.Seconds())
}

// QueryRetried increments the retry-on-Disconnected counter.
func (c *Collector) QueryRetried(database, tag string) {
	c.queryRetries.WithLabelValues(database, tag).Inc()
}

// QTCLookup records a cache lookup outcome ("hit" or "miss").
func (c *Collector) QTCLookup(database string, hit bool) {
	outcome := "hit"
	if !hit {
		outcome = "miss"
	}
	c.qtcCacheLookups.WithLabelValues(database, outcome).Inc()
}

// SetQTCSnapshot records the entry count and version of the installed cache.
func (c *Collector) SetQTCSnapshot(database string, entries int, version int64) {
	c.qtcCacheSize.WithLabelValues(database).Set(float64(entries))
	c.qtcVersion.WithLabelValues(database).Set(float64(version))
}

// MigrationApplied records one migration's APPLY duration and outcome.
func (c *Collector) MigrationApplied(database string, d time.Duration, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	c.migrationDuration.WithLabelValues(database, status).Observe(d.Seconds())
	c.migrationsApplied.WithLabelValues(database, status).Inc()
}

// AuthTokenIssued increments the issued-tokens counter for "login" or "renew".
func (c *Collector) AuthTokenIssued(database, event string) {
	c.authIssued.WithLabelValues(database, event).Inc()
}

// AuthRejected increments the rejected-attempts counter by reason, e.g.
// "invalid_credentials", "rate_limited", "bad_api_key", "account_disabled".
func (c *Collector) AuthRejected(database, reason string) {
	c.authRejected.WithLabelValues(database, reason).Inc()
}

// AuthTokenRevoked increments the revoked-tokens counter for "logout" or
// "renew_superseded".
func (c *Collector) AuthTokenRevoked(database, event string) {
	c.authRevoked.WithLabelValues(database, event).Inc()
}

// RemoveDatabase removes all metrics scoped to one database, e.g. after it is
// dropped from the running configuration.
func (c *Collector) RemoveDatabase(database string) {
	c.connectionsActive.DeletePartialMatch(prometheus.Labels{"database": database})
	c.connectionsIdle.DeletePartialMatch(prometheus.Labels{"database": database})
	c.connectionsTotal.DeletePartialMatch(prometheus.Labels{"database": database})
	c.connectionsWaiting.DeletePartialMatch(prometheus.Labels{"database": database})
	c.databaseHealth.DeleteLabelValues(database)
	c.poolExhausted.DeleteLabelValues(database)
	c.healthCheckDuration.DeletePartialMatch(prometheus.Labels{"database": database})
	c.healthCheckErrors.DeletePartialMatch(prometheus.Labels{"database": database})
	c.queueDepth.DeletePartialMatch(prometheus.Labels{"database": database})
	c.queueWorkers.DeletePartialMatch(prometheus.Labels{"database": database})
	c.queryQueued.DeletePartialMatch(prometheus.Labels{"database": database})
	c.queryRetries.DeletePartialMatch(prometheus.Labels{"database": database})
	c.qtcCacheLookups.DeletePartialMatch(prometheus.Labels{"database": database})
	c.qtcCacheSize.DeleteLabelValues(database)
	c.qtcVersion.DeleteLabelValues(database)
	c.migrationDuration.DeletePartialMatch(prometheus.Labels{"database": database})
	c.migrationsApplied.DeletePartialMatch(prometheus.Labels{"database": database})
	c.authIssued.DeletePartialMatch(prometheus.Labels{"database": database})
	c.authRejected.DeletePartialMatch(prometheus.Labels{"database": database})
	c.authRevoked.DeletePartialMatch(prometheus.Labels{"database": database})
}
