package engine

import (
	"fmt"
	"strings"
)

// rewriteNamedParams walks sqlText once, replacing each ":name" occurrence
// with the dialect's native placeholder (built by nextPlaceholder, called in
// first-appearance order) and returns the params reordered to match. A
// ":name" inside a single- or double-quoted string literal is left alone —
// the scanner tracks quote state rather than using a regexp, since
// naive regex substitution would also rewrite literal colons inside string
// constants (e.g. a timestamp literal).
//
// reuseSlot controls what a repeated ":name" does: PG's "$n" placeholder
// can appear more than once and still reference the same bound value, so
// its adapter passes true and a repeat reuses the first occurrence's
// ordinal. A "?" placeholder binds positionally — every occurrence needs
// its own slot and its own copy of the value — so the "?" dialects pass
// false and a repeat allocates a fresh ordinal instead of reusing one.
func rewriteNamedParams(sqlText string, params []Param, reuseSlot bool, nextPlaceholder func(ordinal int) string) (string, []Param, error) {
	byName := make(map[string]Param, len(params))
	for _, p := range params {
		byName[p.Name] = p
	}

	var out strings.Builder
	var ordered []Param
	ordinalOf := make(map[string]int)

	inSingle, inDouble := false, false
	i := 0
	for i < len(sqlText) {
		c := sqlText[i]
		switch {
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			out.WriteByte(c)
			i++
		case c == '"' && !inSingle:
			inDouble = !inDouble
			out.WriteByte(c)
			i++
		case c == ':' && !inSingle && !inDouble && i+1 < len(sqlText) && isIdentStart(sqlText[i+1]):
			j := i + 1
			for j < len(sqlText) && isIdentChar(sqlText[j]) {
				j++
			}
			name := sqlText[i+1 : j]
			p, ok := byName[name]
			if !ok {
				return "", nil, fmt.Errorf("engine: no param bound for :%s", name)
			}
			ordinal, exists := ordinalOf[name]
			if !exists || !reuseSlot {
				ordered = append(ordered, p)
				ordinal = len(ordered)
				if reuseSlot {
					ordinalOf[name] = ordinal
				}
			}
			out.WriteString(nextPlaceholder(ordinal))
			i = j
		default:
			out.WriteByte(c)
			i++
		}
	}
	return out.String(), ordered, nil
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}
