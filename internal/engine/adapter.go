// Package engine defines the dialect-independent Adapter capability set and
// one concrete implementation per supported database: PostgreSQL, MySQL,
// SQLite, and DB2. Callers above this package (internal/pool, internal/dqm)
// never branch on dialect — they hold an Adapter and call its methods.
package engine

import (
	"context"
	"fmt"
	"time"
)

// Kind identifies a parameter's wire type for named-parameter binding.
type Kind int

const (
	KindInteger Kind = iota
	KindString
	KindBoolean
	KindFloat
)

// Param is one named, typed bind value supplied with a query.
type Param struct {
	Name  string
	Kind  Kind
	Value any
}

// Row is one result row, column name to value.
type Row map[string]any

// Result describes the outcome of a non-SELECT statement.
type Result struct {
	RowsAffected int64
	LastInsertID int64 // 0 when the dialect has no concept of one (PG)
}

// Handle is a single live connection to a specific database, vended by an
// Adapter and returned to it on release. internal/pool wraps Handle in its
// own pooled-connection bookkeeping; Handle itself carries no pool state.
type Handle interface {
	// Execute runs a statement whose placeholders are already in the
	// dialect's native syntax (see Adapter.Rewrite), binding params
	// positionally, and returns rows for a query or a Result for DML.
	Execute(ctx context.Context, sql string, params []Param) ([]Row, *Result, error)
	// Prepare compiles sql once for repeated execution with varying params.
	Prepare(ctx context.Context, sql string) (PreparedStatement, error)
	// Begin starts a transaction scoped to this handle.
	Begin(ctx context.Context) (Tx, error)
	// Ping verifies the handle is still live without running user SQL.
	Ping(ctx context.Context) error
	// Close releases the underlying driver resource. After Close the
	// handle must not be used again.
	Close() error
}

// PreparedStatement is a compiled statement bound to the Handle that created it.
type PreparedStatement interface {
	Execute(ctx context.Context, params []Param) ([]Row, *Result, error)
	Close() error
}

// Tx is a transaction scoped to one Handle. DB2's per-statement-transaction
// quirk (spec.md open question on cross-statement atomicity) means some
// adapters implement Tx as a no-op wrapper — see db2.go.
type Tx interface {
	Execute(ctx context.Context, sql string, params []Param) ([]Row, *Result, error)
	Commit() error
	Rollback() error
}

// ConnParams is the dialect-agnostic connection descriptor built from a
// config.DatabaseConfig.
type ConnParams struct {
	Host        string
	Port        int
	DBName      string
	Username    string
	Password    string
	Schema      string
	DialTimeout time.Duration
}

// Adapter is the dialect-specific capability set (spec.md §4.1, §9
// "Polymorphism": one vtable per engine, selected at registration time,
// never an inheritance hierarchy).
type Adapter interface {
	// Dialect returns the short name used in logs and metrics labels.
	Dialect() string
	// Connect dials and authenticates a new Handle against params.
	Connect(ctx context.Context, params ConnParams) (Handle, error)
	// HealthCheck performs the cheapest possible liveness probe on an
	// already-open handle.
	HealthCheck(ctx context.Context, h Handle) error
	// Rewrite translates a SQL string using ":name" placeholders into the
	// dialect's native placeholder syntax plus an ordered parameter list.
	Rewrite(sqlWithNamedParams string, params []Param) (rewritten string, ordered []Param, err error)
	// SubstituteMacros replaces the cross-dialect ${SHA256_HASH_*} macros
	// (spec.md §4.1) with this dialect's native SQL expression.
	SubstituteMacros(sql string) string
	// SupportsMultiStatementTransaction reports whether Begin can span more
	// than one statement. False only for DB2 (spec.md §4.5 deviation).
	SupportsMultiStatementTransaction() bool
}

// NewAdapter returns the Adapter for a database descriptor's "type" field
// (spec.md §3). Dialect selection happens exactly once, at registration
// time; nothing above this package ever branches on dialect again.
func NewAdapter(dialect string) (Adapter, error) {
	switch dialect {
	case "postgresql":
		return NewPGAdapter(), nil
	case "mysql":
		return NewMySQLAdapter(), nil
	case "sqlite":
		return NewSQLiteAdapter(), nil
	case "db2":
		return NewDB2Adapter(), nil
	default:
		return nil, fmt.Errorf("unknown database type %q", dialect)
	}
}
