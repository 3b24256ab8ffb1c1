package engine

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// SQLiteAdapter is the SQLite Adapter, backed by the cgo-free
// modernc.org/sqlite driver. SQLite has no network handshake, so Connect
// has no probe step analogous to probePG/probeMySQL — a failed open()
// already tells us everything a probe would.
type SQLiteAdapter struct{}

func NewSQLiteAdapter() *SQLiteAdapter { return &SQLiteAdapter{} }

func (a *SQLiteAdapter) Dialect() string { return "sqlite" }

func (a *SQLiteAdapter) Connect(ctx context.Context, p ConnParams) (Handle, error) {
	db, err := sql.Open("sqlite", p.DBName)
	if err != nil {
		return nil, herr.Wrap(herr.Unavailable, "opening sqlite database", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, herr.Wrap(herr.Unavailable, "acquiring sqlite conn", err)
	}
	return &sqlHandle{conn: conn, db: db, dialect: "sqlite"}, nil
}

func (a *SQLiteAdapter) HealthCheck(ctx context.Context, h Handle) error {
	return h.Ping(ctx)
}

func (a *SQLiteAdapter) Rewrite(sqlText string, params []Param) (string, []Param, error) {
	return rewriteNamedParams(sqlText, params, false, func(ordinal int) string {
		return "?"
	})
}

func (a *SQLiteAdapter) SubstituteMacros(sqlText string) string {
	return substituteHashMacros(sqlText, "CRYPTO_ENCODE(CRYPTO_HASH('sha256', (", ") || (", ")),'base64')")
}

func (a *SQLiteAdapter) SupportsMultiStatementTransaction() bool { return true }
