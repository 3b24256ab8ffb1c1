package migration

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hydrogen-services/hydrogen/internal/engine"
)

func TestTrailingNumeric(t *testing.T) {
	cases := []struct {
		name    string
		wantN   uint32
		wantOK  bool
	}{
		{"create_accounts_table_0003.lua", 3, true},
		{"create_queries_table_0001.lua", 1, true},
		{"no_numeric_suffix.lua", 0, false},
		{"weird_0099_trailing.lua", 0, false},
	}
	for _, c := range cases {
		n, ok := trailingNumeric(c.name)
		if ok != c.wantOK || (ok && n != c.wantN) {
			t.Errorf("trailingNumeric(%q) = (%d, %v), want (%d, %v)", c.name, n, ok, c.wantN, c.wantOK)
		}
	}
}

func TestSortDiscoveredOrdersByTrailingNumeric(t *testing.T) {
	files := []discoveredFile{
		{Name: "create_accounts_table_0003.lua"},
		{Name: "create_queries_table_0001.lua"},
		{Name: "create_migrations_log_0002.lua"},
	}
	sortDiscovered(files)
	want := []string{"create_queries_table_0001.lua", "create_migrations_log_0002.lua", "create_accounts_table_0003.lua"}
	for i, w := range want {
		if files[i].Name != w {
			t.Errorf("position %d: got %s, want %s", i, files[i].Name, w)
		}
	}
}

func TestSortDiscoveredTiebreakIsLexicographic(t *testing.T) {
	files := []discoveredFile{
		{Name: "zzz_0001.lua"},
		{Name: "aaa_0001.lua"},
	}
	sortDiscovered(files)
	if files[0].Name != "aaa_0001.lua" || files[1].Name != "zzz_0001.lua" {
		t.Errorf("tiebreak not lexicographic: got %v", files)
	}
}

func TestSplitBatch(t *testing.T) {
	sql := "CREATE TABLE a (id INT)\n" + QueryDelimiter + "\nINSERT INTO a VALUES (1)\n" + QueryDelimiter + "\n   \n"
	got := splitBatch(sql)
	if len(got) != 2 {
		t.Fatalf("expected 2 statements, got %d: %v", len(got), got)
	}
	if !strings.Contains(got[0], "CREATE TABLE") || !strings.Contains(got[1], "INSERT INTO") {
		t.Errorf("unexpected split result: %v", got)
	}
}

func TestDiscoverCorePayloadExcludesReverseFiles(t *testing.T) {
	files, err := Discover("PAYLOAD:core")
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one forward migration in the core payload set")
	}
	for _, f := range files {
		if strings.Contains(f.Name, reverseMarker) {
			t.Errorf("forward discovery returned a reverse file: %s", f.Name)
		}
	}
	for i := 1; i < len(files); i++ {
		prev, _ := trailingNumeric(files[i-1].Name)
		cur, _ := trailingNumeric(files[i].Name)
		if cur < prev {
			t.Errorf("files not sorted ascending by id: %v", files)
		}
	}
}

func TestDiscoverReverseCorePayload(t *testing.T) {
	files, err := DiscoverReverse("PAYLOAD:core")
	if err != nil {
		t.Fatalf("DiscoverReverse: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected at least one reverse migration in the core payload set")
	}
	for _, f := range files {
		if !strings.Contains(f.Name, reverseMarker) {
			t.Errorf("reverse discovery returned a forward file: %s", f.Name)
		}
	}
}

func TestCompileSimpleScript(t *testing.T) {
	script := []byte(`return "CREATE TABLE t (id INT)"`)
	got, err := compile(script, "t.lua", "")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if got != "CREATE TABLE t (id INT)" {
		t.Errorf("got %q", got)
	}
}

func TestCompileUsesHelperModule(t *testing.T) {
	script := []byte(`return hydrogen.hash_start() .. "x" .. hydrogen.hash_end() .. hydrogen.delimiter() .. hydrogen.schema()`)
	got, err := compile(script, "t.lua", "myschema")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	want := macroHashStart + "x" + macroHashEnd + QueryDelimiter + "myschema"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestCompileRejectsNonStringReturn(t *testing.T) {
	script := []byte(`return 42`)
	if _, err := compile(script, "t.lua", ""); err == nil {
		t.Fatal("expected error for non-string return value")
	}
}

func TestCompileSurfacesLuaError(t *testing.T) {
	script := []byte(`error("boom")`)
	if _, err := compile(script, "t.lua", ""); err == nil {
		t.Fatal("expected error from a script that raises")
	}
}

func TestEngineApplyBatchedCommitsOnSuccess(t *testing.T) {
	a := &fakeMigrationAdapter{multiStatementTx: true}
	h := newFakeMigrationHandle()
	e := NewEngine(a, "")

	migrations := []Migration{{ID: 1, FileName: "a.lua", Direction: Forward, SQL: "CREATE TABLE t (id INT)"}}
	if err := e.Apply(context.Background(), h, migrations); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if h.lastTx.committed != 1 {
		t.Errorf("expected 1 commit, got %d", h.lastTx.committed)
	}
	if h.lastTx.rolledBack != 0 {
		t.Errorf("expected 0 rollbacks, got %d", h.lastTx.rolledBack)
	}
	if !strings.Contains(h.lastTx.executed[0], "CREATE TABLE") {
		t.Errorf("unexpected first statement: %v", h.lastTx.executed)
	}
	if !strings.Contains(h.lastTx.executed[1], "migrations_log") {
		t.Errorf("expected log insert, got %v", h.lastTx.executed)
	}
}

func TestEngineApplyBatchedRollsBackOnFailure(t *testing.T) {
	a := &fakeMigrationAdapter{multiStatementTx: true}
	h := newFakeMigrationHandle()
	h.failStatementIndex = 0
	e := NewEngine(a, "")

	migrations := []Migration{{ID: 1, FileName: "a.lua", Direction: Forward, SQL: "CREATE TABLE t (id INT)"}}
	if err := e.Apply(context.Background(), h, migrations); err == nil {
		t.Fatal("expected failure to propagate")
	}
	if h.lastTx.rolledBack != 1 {
		t.Errorf("expected rollback, got %d", h.lastTx.rolledBack)
	}
	if h.lastTx.committed != 0 {
		t.Errorf("expected no commit after failure, got %d", h.lastTx.committed)
	}
}

func TestEngineApplyHaltsOnFirstFailure(t *testing.T) {
	a := &fakeMigrationAdapter{multiStatementTx: true}
	h := newFakeMigrationHandle()
	h.failStatementIndex = 0
	e := NewEngine(a, "")

	migrations := []Migration{
		{ID: 1, FileName: "a.lua", Direction: Forward, SQL: "CREATE TABLE t (id INT)"},
		{ID: 2, FileName: "b.lua", Direction: Forward, SQL: "CREATE TABLE u (id INT)"},
	}
	err := e.Apply(context.Background(), h, migrations)
	if err == nil {
		t.Fatal("expected error")
	}
	if h.beginCount != 1 {
		t.Errorf("expected only the first migration to open a transaction, got %d begins", h.beginCount)
	}
}

func TestEngineApplyPerStatementForDB2(t *testing.T) {
	a := &fakeMigrationAdapter{multiStatementTx: false}
	h := newFakeMigrationHandle()
	e := NewEngine(a, "")

	migrations := []Migration{{
		ID:        1,
		FileName:  "a.lua",
		Direction: Forward,
		SQL:       "CREATE TABLE t (id INT)" + QueryDelimiter + "INSERT INTO t VALUES (1)",
	}}
	if err := e.Apply(context.Background(), h, migrations); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	// Two statements plus the log insert: each gets its own Begin/Commit.
	if h.beginCount != 3 {
		t.Errorf("expected 3 per-statement transactions, got %d", h.beginCount)
	}
}

func TestNextIDStartsAtOneOnFreshDatabase(t *testing.T) {
	a := &fakeMigrationAdapter{multiStatementTx: true}
	h := newFakeMigrationHandle()
	h.failExecute = true
	e := NewEngine(a, "")

	id, err := e.NextID(context.Background(), h)
	if err != nil {
		t.Fatalf("NextID: %v", err)
	}
	if id != 1 {
		t.Errorf("expected 1, got %d", id)
	}
}

func TestLoadReverseMatchesByTrailingID(t *testing.T) {
	e := NewEngine(&fakeMigrationAdapter{}, "")
	forward := []Migration{
		{ID: 1, FileName: "create_queries_table_0001.lua"},
		{ID: 2, FileName: "create_migrations_log_0002.lua"},
	}
	reverse, err := e.LoadReverse("PAYLOAD:core", forward)
	if err != nil {
		t.Fatalf("LoadReverse: %v", err)
	}
	// id 1 has a reverse companion in the core payload set; id 2 does not.
	if len(reverse) != 1 {
		t.Fatalf("expected 1 reverse migration, got %d", len(reverse))
	}
	if reverse[0].ID != 1 {
		t.Errorf("expected reverse migration for id 1, got %d", reverse[0].ID)
	}
	if reverse[0].Direction != Reverse {
		t.Errorf("expected Reverse direction, got %s", reverse[0].Direction)
	}
}

// fakeMigrationHandle and fakeMigrationTx implement engine.Handle/engine.Tx
// for exercising the batched-vs-per-statement transaction shapes without a
// real database. failStatementIndex, when non-negative, fails the Nth
// Execute call within whichever transaction is currently open (0-indexed).
type fakeMigrationHandle struct {
	beginCount         int
	failStatementIndex int
	failExecute        bool
	lastTx             *fakeMigrationTx
}

func newFakeMigrationHandle() *fakeMigrationHandle {
	return &fakeMigrationHandle{failStatementIndex: -1}
}

func (h *fakeMigrationHandle) Execute(ctx context.Context, sql string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	if h.failExecute {
		return nil, nil, errBoom
	}
	return nil, &engine.Result{}, nil
}

func (h *fakeMigrationHandle) Prepare(ctx context.Context, sql string) (engine.PreparedStatement, error) {
	return nil, errBoom
}

func (h *fakeMigrationHandle) Begin(ctx context.Context) (engine.Tx, error) {
	h.beginCount++
	tx := &fakeMigrationTx{handle: h}
	h.lastTx = tx
	return tx, nil
}

func (h *fakeMigrationHandle) Ping(ctx context.Context) error { return nil }
func (h *fakeMigrationHandle) Close() error                  { return nil }

type fakeMigrationTx struct {
	handle     *fakeMigrationHandle
	executed   []string
	committed  int
	rolledBack int
}

func (tx *fakeMigrationTx) Execute(ctx context.Context, sql string, params []engine.Param) ([]engine.Row, *engine.Result, error) {
	idx := len(tx.executed)
	tx.executed = append(tx.executed, sql)
	if tx.handle.failStatementIndex >= 0 && idx == tx.handle.failStatementIndex {
		return nil, nil, errBoom
	}
	return nil, &engine.Result{}, nil
}

func (tx *fakeMigrationTx) Commit() error {
	tx.committed++
	return nil
}

func (tx *fakeMigrationTx) Rollback() error {
	tx.rolledBack++
	return nil
}

type fakeMigrationAdapter struct {
	multiStatementTx bool
}

func (a *fakeMigrationAdapter) Dialect() string { return "fake" }
func (a *fakeMigrationAdapter) Connect(ctx context.Context, p engine.ConnParams) (engine.Handle, error) {
	return newFakeMigrationHandle(), nil
}
func (a *fakeMigrationAdapter) HealthCheck(ctx context.Context, h engine.Handle) error { return nil }
func (a *fakeMigrationAdapter) Rewrite(sqlText string, params []engine.Param) (string, []engine.Param, error) {
	return sqlText, params, nil
}
func (a *fakeMigrationAdapter) SubstituteMacros(sql string) string { return sql }
func (a *fakeMigrationAdapter) SupportsMultiStatementTransaction() bool {
	return a.multiStatementTx
}

var errBoom = errors.New("boom")
