package engine

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// sqlHandle adapts a *sql.Conn to the Handle interface. It is shared by the
// PostgreSQL, MySQL, and SQLite adapters, which differ only in DSN
// construction, placeholder syntax, and hash-macro expressions — all three
// execute through database/sql once connected.
type sqlHandle struct {
	conn    *sql.Conn
	db      *sql.DB
	dialect string
}

func (h *sqlHandle) Execute(ctx context.Context, query string, params []Param) ([]Row, *Result, error) {
	args := paramValues(params)
	if looksLikeQuery(query) {
		rows, err := h.conn.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, classifyExecErr(h.dialect, err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return nil, nil, herr.Wrap(herr.Internal, "scanning rows", err)
		}
		return out, nil, nil
	}

	res, err := h.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, nil, classifyExecErr(h.dialect, err)
	}
	ra, _ := res.RowsAffected()
	li, _ := res.LastInsertId()
	return nil, &Result{RowsAffected: ra, LastInsertID: li}, nil
}

func (h *sqlHandle) Prepare(ctx context.Context, query string) (PreparedStatement, error) {
	stmt, err := h.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, classifyExecErr(h.dialect, err)
	}
	return &sqlPreparedStatement{stmt: stmt, query: query}, nil
}

func (h *sqlHandle) Begin(ctx context.Context) (Tx, error) {
	tx, err := h.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, classifyExecErr(h.dialect, err)
	}
	return &sqlTx{tx: tx, dialect: h.dialect}, nil
}

func (h *sqlHandle) Ping(ctx context.Context) error {
	if err := h.conn.PingContext(ctx); err != nil {
		return herr.Wrap(herr.Unavailable, "ping failed", err)
	}
	return nil
}

func (h *sqlHandle) Close() error {
	return h.conn.Close()
}

type sqlPreparedStatement struct {
	stmt  *sql.Stmt
	query string
}

func (p *sqlPreparedStatement) Execute(ctx context.Context, params []Param) ([]Row, *Result, error) {
	args := paramValues(params)
	if looksLikeQuery(p.query) {
		rows, err := p.stmt.QueryContext(ctx, args...)
		if err != nil {
			return nil, nil, herr.Wrap(herr.Internal, "executing prepared query", err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return nil, nil, herr.Wrap(herr.Internal, "scanning rows", err)
		}
		return out, nil, nil
	}
	res, err := p.stmt.ExecContext(ctx, args...)
	if err != nil {
		return nil, nil, herr.Wrap(herr.Internal, "executing prepared statement", err)
	}
	ra, _ := res.RowsAffected()
	li, _ := res.LastInsertId()
	return nil, &Result{RowsAffected: ra, LastInsertID: li}, nil
}

func (p *sqlPreparedStatement) Close() error {
	return p.stmt.Close()
}

type sqlTx struct {
	tx      *sql.Tx
	dialect string
}

func (t *sqlTx) Execute(ctx context.Context, query string, params []Param) ([]Row, *Result, error) {
	args := paramValues(params)
	if looksLikeQuery(query) {
		rows, err := t.tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, nil, classifyExecErr(t.dialect, err)
		}
		defer rows.Close()
		out, err := scanRows(rows)
		if err != nil {
			return nil, nil, herr.Wrap(herr.Internal, "scanning rows", err)
		}
		return out, nil, nil
	}
	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, nil, classifyExecErr(t.dialect, err)
	}
	ra, _ := res.RowsAffected()
	li, _ := res.LastInsertId()
	return nil, &Result{RowsAffected: ra, LastInsertID: li}, nil
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

func paramValues(params []Param) []any {
	out := make([]any, len(params))
	for i, p := range params {
		out[i] = p.Value
	}
	return out
}

// looksLikeQuery is a coarse SELECT-vs-DML classifier used only to decide
// whether to call QueryContext (rows expected) or ExecContext (Result
// expected); migrations and the QTC always know which they're issuing, but
// the generic Adapter.Execute surface doesn't carry that as a separate
// parameter, so this infers it the same way the teacher's router inferred
// read vs write from the leading keyword.
func looksLikeQuery(query string) bool {
	i := 0
	for i < len(query) && (query[i] == ' ' || query[i] == '\t' || query[i] == '\n' || query[i] == '\r') {
		i++
	}
	rest := query[i:]
	return hasPrefixFold(rest, "SELECT") || hasPrefixFold(rest, "WITH") || hasPrefixFold(rest, "SHOW") || hasPrefixFold(rest, "EXPLAIN")
}

func hasPrefixFold(s, prefix string) bool {
	if len(s) < len(prefix) {
		return false
	}
	for i := 0; i < len(prefix); i++ {
		a, b := s[i], prefix[i]
		if a >= 'a' && a <= 'z' {
			a -= 'a' - 'A'
		}
		if b >= 'a' && b <= 'z' {
			b -= 'a' - 'A'
		}
		if a != b {
			return false
		}
	}
	return true
}

func scanRows(rows *sql.Rows) ([]Row, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out []Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// classifyExecErr maps a database/sql error to the taxonomy kind the rest
// of Hydrogen expects. Connection-shaped failures become Unavailable so the
// pool/DQM retry logic (spec.md §4.3 "retry once on Disconnected") can tell
// them apart from a query that is simply malformed.
func classifyExecErr(dialect string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return herr.Wrap(herr.Unavailable, fmt.Sprintf("%s connection error", dialect), err)
	}
	return herr.Wrap(herr.Internal, fmt.Sprintf("%s execute failed", dialect), err)
}
