package engine

import "strings"

// Cross-dialect SHA-256 macro tokens (spec.md §4.1): migrations and queries
// embed these instead of a dialect's native hashing expression so the same
// SQL text can be applied against any of the four engines. Each adapter's
// SubstituteMacros rewrites the three tokens into its own syntax.
const (
	macroHashStart = "${SHA256_HASH_START}"
	macroHashMid   = "${SHA256_HASH_MID}"
	macroHashEnd   = "${SHA256_HASH_END}"
)

// substituteHashMacros replaces start/mid/end with the given dialect
// fragments. "mid" substitutes for every occurrence; start/end anchor an
// expression around arbitrary column or literal text between them, so a
// single substitution pass over the whole string is all any dialect needs.
func substituteHashMacros(sql, start, mid, end string) string {
	sql = strings.ReplaceAll(sql, macroHashStart, start)
	sql = strings.ReplaceAll(sql, macroHashMid, mid)
	sql = strings.ReplaceAll(sql, macroHashEnd, end)
	return sql
}
