package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/ibmdb/go_ibm_db"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// DB2Adapter is the DB2 Adapter, isolated behind the go_ibm_db driver so no
// other package needs a direct CGO dependency on it.
//
// DB2 deviates from the other three dialects in one documented way
// (spec.md §4.5, §9 Open Questions): its driver does not support spanning a
// transaction across multiple statements the way the migration engine
// otherwise expects. Hydrogen preserves this as observed behavior rather
// than papering over it — Begin returns a Tx whose Commit/Rollback are
// no-ops, and every Execute on that Tx auto-commits individually. A DB2
// migration therefore gets best-effort, not atomic, multi-statement
// rollback: a failure partway through leaves earlier statements applied.
type DB2Adapter struct{}

func NewDB2Adapter() *DB2Adapter { return &DB2Adapter{} }

func (a *DB2Adapter) Dialect() string { return "db2" }

func (a *DB2Adapter) Connect(ctx context.Context, p ConnParams) (Handle, error) {
	dsn := fmt.Sprintf("HOSTNAME=%s;PORT=%d;DATABASE=%s;UID=%s;PWD=%s",
		p.Host, p.Port, p.DBName, p.Username, p.Password)

	db, err := sql.Open("go_ibm_db", dsn)
	if err != nil {
		return nil, herr.Wrap(herr.Unavailable, "opening db2 connection", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, herr.Wrap(herr.Unavailable, "acquiring db2 conn", err)
	}
	return &db2Handle{sqlHandle{conn: conn, db: db, dialect: "db2"}}, nil
}

func (a *DB2Adapter) HealthCheck(ctx context.Context, h Handle) error {
	return h.Ping(ctx)
}

func (a *DB2Adapter) Rewrite(sqlText string, params []Param) (string, []Param, error) {
	return rewriteNamedParams(sqlText, params, false, func(ordinal int) string {
		return "?"
	})
}

func (a *DB2Adapter) SubstituteMacros(sqlText string) string {
	return substituteHashMacros(sqlText, "BASE64ENCODE(HASH('SHA256', CAST(CONCAT(", ",", ") AS VARCHAR(4000) FOR BIT DATA)))")
}

func (a *DB2Adapter) SupportsMultiStatementTransaction() bool { return false }

// db2Handle wraps sqlHandle only to override Begin with the per-statement
// transaction semantics documented above.
type db2Handle struct {
	sqlHandle
}

func (h *db2Handle) Begin(ctx context.Context) (Tx, error) {
	return &db2Tx{conn: h.conn}, nil
}

// db2Tx executes each statement against the connection directly and
// auto-commits it; Commit and Rollback are no-ops since there is no
// underlying multi-statement transaction to end.
type db2Tx struct {
	conn interface {
		QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
		ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	}
	lastErr error
}

func (t *db2Tx) Execute(ctx context.Context, query string, params []Param) ([]Row, *Result, error) {
	args := paramValues(params)
	if looksLikeQuery(query) {
		rows, err := t.conn.QueryContext(ctx, query, args...)
		if err != nil {
			t.lastErr = err
			return nil, nil, herr.Wrap(herr.Internal, "db2 query failed", err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return nil, nil, herr.Wrap(herr.Internal, "scanning rows", err)
		}
		return out, nil, nil
	}
	res, err := t.conn.ExecContext(ctx, query, args...)
	if err != nil {
		t.lastErr = err
		return nil, nil, herr.Wrap(herr.Internal, "db2 execute failed", err)
	}
	ra, _ := res.RowsAffected()
	li, _ := res.LastInsertId()
	return nil, &Result{RowsAffected: ra, LastInsertID: li}, nil
}

func (t *db2Tx) Commit() error   { return nil }
func (t *db2Tx) Rollback() error { return t.lastErr }
