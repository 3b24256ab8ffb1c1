// Package qtc implements the Query Table Cache: an in-memory, lock-free
// snapshot of query_ref -> SQL template (spec.md §4.4). It generalizes the
// teacher's router package, which resolved tenant IDs to pool configs with
// the same atomic.Value snapshot-swap discipline.
package qtc

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// Entry is one row of the queries table (spec.md §3 "QTC entry").
type Entry struct {
	QueryRef    int
	SQLTemplate string
	QueueHint   string
	Description string
	Version     int64
}

// DefaultBootstrapSQL is the literal statement the Lead runs at startup and
// on every cache-invalidation signal. It is never itself looked up through
// the cache: query_ref 0 IS this statement, read directly off the queries
// table before the cache has anything loaded.
const DefaultBootstrapSQL = "SELECT query_ref, sql_template, queue_hint, description, version FROM queries ORDER BY query_ref"

// DefaultVersionSQL returns the highest version currently in the queries
// table; a change since the last poll means the cache is stale.
const DefaultVersionSQL = "SELECT COALESCE(MAX(version), 0) FROM queries"

type snapshot struct {
	entries map[int]Entry
	version int64
}

// Cache holds query_ref -> Entry. Lookup is lock-free (atomic.Value);
// Bootstrap swaps in a brand-new snapshot under a write mutex so concurrent
// refreshes serialize (spec.md §4.4: readers never block on a refresh,
// always see a consistent snapshot).
type Cache struct {
	snap atomic.Value // *snapshot
	wmu  sync.Mutex
}

// New creates an empty QTC. Lookup resolves nothing until Bootstrap runs.
func New() *Cache {
	c := &Cache{}
	c.snap.Store(&snapshot{entries: make(map[int]Entry)})
	return c
}

func (c *Cache) load() *snapshot {
	return c.snap.Load().(*snapshot)
}

// Lookup resolves a query_ref to its cached entry. Lock-free.
func (c *Cache) Lookup(queryRef int) (Entry, bool) {
	e, ok := c.load().entries[queryRef]
	return e, ok
}

// Version returns the version stamp of the currently loaded snapshot.
func (c *Cache) Version() int64 {
	return c.load().version
}

// Size returns the number of cached entries.
func (c *Cache) Size() int {
	return len(c.load().entries)
}

// Bootstrap runs bootstrapSQL against h and atomically replaces the cache's
// entire snapshot with the result (spec.md §4.4: "At Lead startup, the Lead
// runs a bootstrap SELECT ... to populate QTC").
func (c *Cache) Bootstrap(ctx context.Context, h engine.Handle, bootstrapSQL string) error {
	if bootstrapSQL == "" {
		bootstrapSQL = DefaultBootstrapSQL
	}

	c.wmu.Lock()
	defer c.wmu.Unlock()

	rows, _, err := h.Execute(ctx, bootstrapSQL, nil)
	if err != nil {
		return herr.Wrap(herr.Internal, "running QTC bootstrap query", err)
	}

	entries := make(map[int]Entry, len(rows))
	var maxVersion int64
	for i, row := range rows {
		e, err := entryFromRow(row)
		if err != nil {
			return herr.Wrap(herr.Internal, "parsing QTC bootstrap row "+strconv.Itoa(i), err)
		}
		entries[e.QueryRef] = e
		if e.Version > maxVersion {
			maxVersion = e.Version
		}
	}

	c.snap.Store(&snapshot{entries: entries, version: maxVersion})
	return nil
}

func entryFromRow(row engine.Row) (Entry, error) {
	queryRef, err := toInt(row["query_ref"])
	if err != nil {
		return Entry{}, herr.Wrap(herr.Internal, "query_ref column", err)
	}
	sqlTemplate, _ := row["sql_template"].(string)
	queueHint, _ := row["queue_hint"].(string)
	description, _ := row["description"].(string)
	version, _ := toInt(row["version"])

	return Entry{
		QueryRef:    queryRef,
		SQLTemplate: sqlTemplate,
		QueueHint:   queueHint,
		Description: description,
		Version:     int64(version),
	}, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int64:
		return int(n), nil
	case int32:
		return int(n), nil
	case int:
		return n, nil
	case float64:
		return int(n), nil
	case []byte:
		return strconv.Atoi(string(n))
	case string:
		return strconv.Atoi(n)
	case nil:
		return 0, nil
	default:
		return 0, herr.Newf(herr.Internal, "unexpected type %T for integer column", v)
	}
}

// CurrentVersion runs versionSQL and returns the scalar result, used by
// Watcher to detect a stale cache without paying for a full bootstrap
// re-read on every poll tick.
func CurrentVersion(ctx context.Context, h engine.Handle, versionSQL string) (int64, error) {
	if versionSQL == "" {
		versionSQL = DefaultVersionSQL
	}
	rows, _, err := h.Execute(ctx, versionSQL, nil)
	if err != nil {
		return 0, herr.Wrap(herr.Internal, "running QTC version query", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		n, err := toInt(v)
		if err != nil {
			return 0, err
		}
		return int64(n), nil
	}
	return 0, nil
}

// Watcher polls a database for a version bump and re-runs Bootstrap when it
// observes one. This generalizes the teacher's fsnotify-based config
// hot-reload to a poll loop: PostgreSQL's LISTEN/NOTIFY would avoid the
// poll, but QTC must behave identically across all four dialects (spec.md
// §4.1 "one vtable per engine"), so polling is the one invalidation
// mechanism every adapter supports without a dialect-specific carve-out.
type Watcher struct {
	cache        *Cache
	handle       func() engine.Handle
	bootstrapSQL string
	versionSQL   string
	interval     time.Duration
	stopCh       chan struct{}
}

// NewWatcher starts a goroutine that polls handleFn() every interval for a
// version change and re-bootstraps the cache when one is observed. handleFn
// lets the caller hand over whichever live handle is current without
// the watcher owning connection lifecycle itself.
func NewWatcher(cache *Cache, handleFn func() engine.Handle, bootstrapSQL, versionSQL string, interval time.Duration) *Watcher {
	w := &Watcher{
		cache:        cache,
		handle:       handleFn,
		bootstrapSQL: bootstrapSQL,
		versionSQL:   versionSQL,
		interval:     interval,
		stopCh:       make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *Watcher) run() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			w.poll()
		case <-w.stopCh:
			return
		}
	}
}

func (w *Watcher) poll() {
	h := w.handle()
	if h == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	v, err := CurrentVersion(ctx, h, w.versionSQL)
	if err != nil {
		return
	}
	if v == w.cache.Version() {
		return
	}
	w.cache.Bootstrap(ctx, h, w.bootstrapSQL)
}

// Stop halts the polling goroutine.
func (w *Watcher) Stop() {
	close(w.stopCh)
}
