// Package sqlbuild constructs SQL statements from structured inputs. Every
// statement it produces carries its bound parameters separately from the text;
// values are never interpolated into the text outside of this package, which
// makes these helpers the single choke point for quoting.
package sqlbuild

import (
	"fmt"
	"strconv"
	"strings"
)

// EscapeValue renders v as a PostgreSQL literal. Booleans become 0/1 to match
// the stored representation. Reserved for DDL and diagnostics; statements
// built here bind values instead of inlining them.
func EscapeValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "null"
	case bool:
		if t {
			return "1"
		}
		return "0"
	case int:
		return strconv.Itoa(t)
	case int32:
		return strconv.FormatInt(int64(t), 10)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64)
	case string:
		return quoteString(t)
	default:
		return quoteString(fmt.Sprint(v))
	}
}

// EscapeIdent quotes a table, view or column name.
func EscapeIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// LikePattern backslash-escapes the LIKE metacharacters %, _ and \ so that s
// matches itself literally inside a pattern.
func LikePattern(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '%', '_', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// LikeContains returns a pattern matching any string that contains s.
// The result is meant to be bound as a parameter of a LIKE condition.
func LikeContains(s string) string {
	return "%" + LikePattern(s) + "%"
}

// LikeStartsWith returns a pattern matching any string with prefix s.
func LikeStartsWith(s string) string {
	return LikePattern(s) + "%"
}
