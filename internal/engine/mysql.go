package engine

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// MySQLAdapter is the MySQL Adapter. Connect probes the wire handshake
// directly (probeMySQL, adapted from the teacher's authenticateMySQL/
// mysqlNativePasswordHash) before handing off to go-sql-driver/mysql for
// actual query execution.
type MySQLAdapter struct{}

func NewMySQLAdapter() *MySQLAdapter { return &MySQLAdapter{} }

func (a *MySQLAdapter) Dialect() string { return "mysql" }

func (a *MySQLAdapter) Connect(ctx context.Context, p ConnParams) (Handle, error) {
	if err := probeMySQL(ctx, p.Host, p.Port, p.Username, p.Password, p.DBName, p.DialTimeout); err != nil {
		return nil, err
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true", p.Username, p.Password, p.Host, p.Port, p.DBName)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, herr.Wrap(herr.Unavailable, "opening mysql connection", err)
	}
	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, herr.Wrap(herr.Unavailable, "acquiring mysql conn", err)
	}
	return &sqlHandle{conn: conn, db: db, dialect: "mysql"}, nil
}

func (a *MySQLAdapter) HealthCheck(ctx context.Context, h Handle) error {
	return h.Ping(ctx)
}

func (a *MySQLAdapter) Rewrite(sqlText string, params []Param) (string, []Param, error) {
	return rewriteNamedParams(sqlText, params, false, func(ordinal int) string {
		return "?"
	})
}

func (a *MySQLAdapter) SubstituteMacros(sqlText string) string {
	return substituteHashMacros(sqlText, "TO_BASE64(SHA2(CONCAT(", ",", "),256))")
}

func (a *MySQLAdapter) SupportsMultiStatementTransaction() bool { return true }
