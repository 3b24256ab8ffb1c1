package migration

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/hydrogen-services/hydrogen/internal/herr"
)

// Cross-dialect SHA-256 macro tokens, matching internal/engine's unexported
// constants of the same name. Duplicated here (rather than exported from
// engine) because the Lua helper module is the only caller outside engine
// that ever needs to emit the literal tokens; everything else consumes
// already-substituted SQL.
const (
	macroHashStart = "${SHA256_HASH_START}"
	macroHashMid   = "${SHA256_HASH_MID}"
	macroHashEnd   = "${SHA256_HASH_END}"
)

// registerHelperModule installs the "hydrogen" table every migration script
// sees (spec.md §4.5: "loads a helper module"). schema is the target
// schema configured for this database, or "" when unset.
func registerHelperModule(L *lua.LState, schema string) {
	mod := L.NewTable()

	L.SetField(mod, "hash_start", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(macroHashStart))
		return 1
	}))
	L.SetField(mod, "hash_mid", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(macroHashMid))
		return 1
	}))
	L.SetField(mod, "hash_end", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(macroHashEnd))
		return 1
	}))
	L.SetField(mod, "delimiter", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(QueryDelimiter))
		return 1
	}))
	L.SetField(mod, "schema", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(schema))
		return 1
	}))

	L.SetGlobal("hydrogen", mod)
}

// compile runs one migration script and returns the SQL text it produced.
// Each script gets a fresh interpreter: migration files don't share state
// and LOAD never touches the database, so there is nothing to reuse across
// calls.
func compile(source []byte, fileName, schema string) (string, error) {
	L := lua.NewState()
	defer L.Close()

	registerHelperModule(L, schema)

	if err := L.DoString(string(source)); err != nil {
		return "", herr.Wrap(herr.Internal, "compiling migration "+fileName, err)
	}

	ret := L.Get(-1)
	L.Pop(1)

	sqlText, ok := ret.(lua.LString)
	if !ok {
		return "", herr.Newf(herr.Internal, "migration %s did not return a SQL string", fileName)
	}
	return string(sqlText), nil
}
