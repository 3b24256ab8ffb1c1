package migration

import (
	"context"
	"fmt"
	"time"

	"github.com/hydrogen-services/hydrogen/internal/engine"
	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// DefaultLogTable is the migrations_log table name (spec.md §3 schema
// sketch); callers may override for a non-default schema prefix.
const DefaultLogTable = "migrations_log"

// Now is overridable so tests can pin applied_at without depending on wall
// clock ordering.
var Now = time.Now

// Engine runs the LOAD/APPLY workflow for one database, using adapter for
// macro substitution, placeholder rewriting, and the transaction-shape
// decision (spec.md §4.5 "Cross-dialect execution rules").
type Engine struct {
	adapter  engine.Adapter
	schema   string
	logTable string
}

// NewEngine builds an Engine bound to adapter. schema is the configured
// target schema ("" when unset); logTable defaults to migrations_log.
func NewEngine(adapter engine.Adapter, schema string) *Engine {
	return &Engine{adapter: adapter, schema: schema, logTable: DefaultLogTable}
}

// Load discovers and compiles every migration file under source, assigning
// sequential ids starting at startID (the next id after the highest one
// already present in migrations_log, per the "dense prefix" invariant).
func (e *Engine) Load(source string, startID int) ([]Migration, error) {
	files, err := Discover(source)
	if err != nil {
		return nil, err
	}

	migrations := make([]Migration, len(files))
	for i, f := range files {
		sqlText, err := compile(f.Data, f.Name, e.schema)
		if err != nil {
			return nil, err
		}
		migrations[i] = Migration{
			ID:        startID + i,
			FileName:  f.Name,
			Source:    source,
			Direction: Forward,
			SQL:       sqlText,
		}
	}
	return migrations, nil
}

// LoadReverse compiles the reverse companion of each forward migration in
// forward, matching by trailing numeric id (see reverseMarker). A forward
// migration with no reverse companion is skipped rather than failing the
// whole batch, since TestMigration is best-effort by nature.
func (e *Engine) LoadReverse(source string, forward []Migration) ([]Migration, error) {
	files, err := DiscoverReverse(source)
	if err != nil {
		return nil, err
	}

	byID := make(map[int]discoveredFile, len(files))
	for _, f := range files {
		if n, ok := trailingNumeric(f.Name); ok {
			byID[int(n)] = f
		}
	}

	reverse := make([]Migration, 0, len(forward))
	for i := len(forward) - 1; i >= 0; i-- {
		m := forward[i]
		f, ok := byID[m.ID]
		if !ok {
			continue
		}
		sqlText, err := compile(f.Data, f.Name, e.schema)
		if err != nil {
			return nil, err
		}
		reverse = append(reverse, Migration{
			ID:        m.ID,
			FileName:  f.Name,
			Source:    source,
			Direction: Reverse,
			SQL:       sqlText,
		})
	}
	return reverse, nil
}

// NextID returns the next dense-prefix id for a database by reading the
// current max id out of migrations_log (0 if the table is empty or absent).
func (e *Engine) NextID(ctx context.Context, h engine.Handle) (int, error) {
	sqlText := "SELECT COALESCE(MAX(id), 0) FROM " + e.table()
	rows, _, err := h.Execute(ctx, sqlText, nil)
	if err != nil {
		// A brand-new database hasn't run the migration that creates
		// migrations_log yet; start from 1 rather than failing LOAD.
		return 1, nil
	}
	if len(rows) == 0 {
		return 1, nil
	}
	for _, v := range rows[0] {
		n, ok := toInt(v)
		if !ok {
			return 1, nil
		}
		return n + 1, nil
	}
	return 1, nil
}

func (e *Engine) table() string {
	if e.schema == "" {
		return e.logTable
	}
	return e.schema + "." + e.logTable
}

// Apply runs each migration's compiled batch transactionally on h and
// appends a migrations_log row after each success. The first failure halts
// all subsequent migrations (spec.md §4.5 "Failure").
func (e *Engine) Apply(ctx context.Context, h engine.Handle, migrations []Migration) error {
	for _, m := range migrations {
		if err := e.applyOne(ctx, h, m); err != nil {
			return herr.Wrap(herr.Internal, fmt.Sprintf("migration %d (%s) failed", m.ID, m.FileName), err)
		}
	}
	return nil
}

func (e *Engine) applyOne(ctx context.Context, h engine.Handle, m Migration) error {
	statements := splitBatch(e.adapter.SubstituteMacros(m.SQL))
	if len(statements) == 0 {
		return nil
	}

	if e.adapter.SupportsMultiStatementTransaction() {
		return e.applyBatched(ctx, h, m, statements)
	}
	return e.applyPerStatement(ctx, h, m, statements)
}

// applyBatched wraps the whole migration in one transaction (PG/MySQL/
// SQLite): every statement plus the log insert commits together, or none of
// them do.
func (e *Engine) applyBatched(ctx context.Context, h engine.Handle, m Migration, statements []string) error {
	tx, err := h.Begin(ctx)
	if err != nil {
		return herr.Wrap(herr.Internal, "opening migration transaction", err)
	}

	for i, stmt := range statements {
		rewritten, _, err := e.adapter.Rewrite(stmt, nil)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("statement %d: %w", i, err)
		}
		if _, _, err := tx.Execute(ctx, rewritten, nil); err != nil {
			tx.Rollback()
			return fmt.Errorf("statement %d: %w", i, err)
		}
	}

	if _, _, err := tx.Execute(ctx, e.logInsertSQL(m), nil); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return herr.Wrap(herr.Internal, "committing migration transaction", err)
	}
	return nil
}

// applyPerStatement wraps each statement in its own transaction (DB2's
// observed driver limitation, spec.md §4.5: "DB2 wraps each statement
// individually"). A mid-batch failure leaves prior statements committed;
// the caller sees the migration as failed and the database as
// partially applied, matching the spec's "best-effort statement-by-statement
// rollback for DB2".
func (e *Engine) applyPerStatement(ctx context.Context, h engine.Handle, m Migration, statements []string) error {
	for i, stmt := range statements {
		rewritten, _, err := e.adapter.Rewrite(stmt, nil)
		if err != nil {
			return fmt.Errorf("statement %d: %w", i, err)
		}
		tx, err := h.Begin(ctx)
		if err != nil {
			return fmt.Errorf("statement %d: opening transaction: %w", i, err)
		}
		if _, _, err := tx.Execute(ctx, rewritten, nil); err != nil {
			tx.Rollback()
			return fmt.Errorf("statement %d: %w", i, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("statement %d: committing: %w", i, err)
		}
	}

	tx, err := h.Begin(ctx)
	if err != nil {
		return fmt.Errorf("recording migration log: opening transaction: %w", err)
	}
	if _, _, err := tx.Execute(ctx, e.logInsertSQL(m), nil); err != nil {
		tx.Rollback()
		return fmt.Errorf("recording migration log: %w", err)
	}
	return tx.Commit()
}

func (e *Engine) logInsertSQL(m Migration) string {
	return fmt.Sprintf(
		"INSERT INTO %s (id, file, applied_at, direction) VALUES (%d, '%s', '%s', '%s')",
		e.table(), m.ID, escapeLiteral(m.FileName), Now().UTC().Format("2006-01-02 15:04:05"), m.Direction,
	)
}

// escapeLiteral doubles single quotes for safe embedding in a literal SQL
// string. Migration filenames are developer-controlled, not user input, but
// the log insert still builds its SQL by hand (no bind params for a
// migration-applied-by-id row), so this guards against a quote in a
// filename breaking the statement.
func escapeLiteral(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'', '\'')
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int64:
		return int(n), true
	case int32:
		return int(n), true
	case int:
		return n, true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
