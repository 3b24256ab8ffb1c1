package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// PGAdapter is the PostgreSQL Adapter. Query execution goes through
// database/sql with the pgx/v5 stdlib driver; Connect additionally runs a
// raw wire-protocol probe (probePG, adapted from the teacher's
// authenticatePG/computeMD5Password/SCRAM chain) to classify bad-credential
// failures before the driver's connection pool is touched.
type PGAdapter struct{}

func NewPGAdapter() *PGAdapter { return &PGAdapter{} }

func (a *PGAdapter) Dialect() string { return "postgresql" }

func (a *PGAdapter) Connect(ctx context.Context, p ConnParams) (Handle, error) {
	if err := probePG(ctx, p.Host, p.Port, p.Username, p.Password, p.DBName, p.DialTimeout); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=prefer",
		p.Host, p.Port, p.DBName, p.Username, p.Password)
	if p.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", p.Schema)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, herr.Wrap(herr.Unavailable, "opening postgres connection", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, herr.Wrap(herr.Unavailable, "acquiring postgres conn", err)
	}
	return &sqlHandle{conn: conn, db: db, dialect: "postgresql"}, nil
}

func (a *PGAdapter) HealthCheck(ctx context.Context, h Handle) error {
	return h.Ping(ctx)
}

func (a *PGAdapter) Rewrite(sqlText string, params []Param) (string, []Param, error) {
	return rewriteNamedParams(sqlText, params, true, func(ordinal int) string {
		return "$" + strconv.Itoa(ordinal)
	})
}

func (a *PGAdapter) SubstituteMacros(sqlText string) string {
	return substituteHashMacros(sqlText, "ENCODE(SHA256(CONCAT(", ",", "))::bytea,'base64')")
}

func (a *PGAdapter) SupportsMultiStatementTransaction() bool { return true }
