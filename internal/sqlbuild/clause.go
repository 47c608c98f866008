package sqlbuild

import (
	"sort"
	"strings"

	"bibliodesk.org/internal/apperr"
)

// Join names a joined table or view and the column both sides share.
type Join struct {
	Table string
	Key   string
}

// Source is a base table optionally joined with views or related tables.
// Joins are explicit: each one names its key column instead of relying on
// column-name coincidence.
type Source struct {
	Base  string
	Joins []Join
}

// From builds a Source.
func From(base string, joins ...Join) Source {
	return Source{Base: base, Joins: joins}
}

// SQL renders the source as a FROM-clause fragment.
func (s Source) SQL() string {
	var b strings.Builder
	b.WriteString(EscapeIdent(s.Base))
	for _, j := range s.Joins {
		b.WriteString(" join ")
		b.WriteString(EscapeIdent(j.Table))
		b.WriteString(" using (")
		b.WriteString(EscapeIdent(j.Key))
		b.WriteString(")")
	}
	return b.String()
}

// Cond is a boolean fragment with its bound parameters.
type Cond struct {
	Expr string
	Args []any
}

// Empty reports whether the condition has no expression.
func (c Cond) Empty() bool { return c.Expr == "" }

// Raw wraps an already-built expression. The expression must only reference
// bound parameters, never interpolated values.
func Raw(expr string, args ...any) Cond {
	norm := make([]any, len(args))
	for i, a := range args {
		norm[i] = normalizeArg(a)
	}
	return Cond{Expr: expr, Args: norm}
}

// Eq builds column = value.
func Eq(column string, value any) Cond {
	return Cond{Expr: EscapeIdent(column) + "=?", Args: []any{normalizeArg(value)}}
}

// LikeContainsCond builds a substring match on column.
func LikeContainsCond(column, key string) Cond {
	return Cond{Expr: EscapeIdent(column) + " like ?", Args: []any{LikeContains(key)}}
}

// And joins conditions with AND, parenthesizing each one. Empty conditions
// are skipped; the zero Cond is returned when nothing remains.
func And(conds ...Cond) Cond {
	var exprs []string
	var args []any
	for _, c := range conds {
		if c.Empty() {
			continue
		}
		exprs = append(exprs, "("+c.Expr+")")
		args = append(args, c.Args...)
	}
	if len(exprs) == 0 {
		return Cond{}
	}
	return Cond{Expr: strings.Join(exprs, " and "), Args: args}
}

// Or joins conditions with OR.
func Or(conds ...Cond) Cond {
	var exprs []string
	var args []any
	for _, c := range conds {
		if c.Empty() {
			continue
		}
		exprs = append(exprs, c.Expr)
		args = append(args, c.Args...)
	}
	if len(exprs) == 0 {
		return Cond{}
	}
	return Cond{Expr: strings.Join(exprs, " or "), Args: args}
}

// Contains builds an OR-of-equalities over values, the uniform substitute for
// a native IN clause. No values matches nothing.
func Contains(column string, values []any) Cond {
	if len(values) == 0 {
		return Cond{Expr: "1=0"}
	}
	conds := make([]Cond, len(values))
	for i, v := range values {
		conds[i] = Eq(column, v)
	}
	return Or(conds...)
}

// Select builds "select * from source".
func Select(src Source) Statement {
	return Statement{Text: "select * from " + src.SQL()}
}

// SelectWhere builds a select filtered by equality on every map entry.
func SelectWhere(src Source, eq map[string]any) Statement {
	return Select(src).Where(eqCond(eq))
}

// Where appends the condition, if any.
func (s Statement) Where(c Cond) Statement {
	if c.Empty() {
		return s
	}
	return s.Append(Statement{Text: "where " + c.Expr, Args: c.Args})
}

// Insert builds an insert from an assignment map. Keys are emitted in sorted
// order so the text is deterministic.
func Insert(table string, values map[string]any) Statement {
	keys := sortedKeys(values)
	cols := make([]string, len(keys))
	marks := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		cols[i] = EscapeIdent(k)
		marks[i] = "?"
		args[i] = normalizeArg(values[k])
	}
	return Statement{
		Text:   "insert into " + EscapeIdent(table) + "(" + strings.Join(cols, ", ") + ") values(" + strings.Join(marks, ", ") + ")",
		Args:   args,
		Table:  table,
		Assign: values,
	}
}

// Update builds an update from assignment and equality-filter maps.
func Update(table string, set, where map[string]any) Statement {
	keys := sortedKeys(set)
	assigns := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		assigns[i] = EscapeIdent(k) + "=?"
		args[i] = normalizeArg(set[k])
	}
	stmt := Statement{
		Text: "update " + EscapeIdent(table) + " set " + strings.Join(assigns, ", "),
		Args: args,
	}
	stmt = stmt.Where(eqCond(where))
	stmt.Table = table
	stmt.Assign = set
	return stmt
}

// Delete builds a delete filtered by equality on every map entry.
func Delete(table string, where map[string]any) Statement {
	stmt := Statement{Text: "delete from " + EscapeIdent(table)}
	return stmt.Where(eqCond(where))
}

// CountOf wraps a select so it reports the total row count regardless of
// pagination.
func CountOf(inner Statement) Statement {
	return Statement{
		Text: "select count(*) from (" + inner.Text + ") as count",
		Args: inner.Args,
	}
}

// Pagination builds a LIMIT/OFFSET fragment. Page numbers are 1-indexed; a
// negative page size means no limit at all.
func Pagination(pageNumber, pageSize int) Statement {
	if pageSize < 0 {
		return Statement{}
	}
	offset := pageNumber - 1
	if offset < 0 {
		offset = 0
	}
	return Statement{
		Text: "limit ? offset ?",
		Args: []any{int64(pageSize), int64(offset * pageSize)},
	}
}

// Sorting builds an ORDER BY fragment. Direction is restricted to asc/desc.
// Only the part of the column name after the last '.' is used; the column
// itself is not checked against an allow-list, so an unknown column surfaces
// later as a bad-sorting error from the database. Accepted limitation.
func Sorting(column, direction string) (Statement, error) {
	if column == "" {
		return Statement{}, nil
	}
	if direction != "asc" && direction != "desc" {
		return Statement{}, apperr.FieldInvalid("sort_dir", direction)
	}
	if i := strings.LastIndexByte(column, '.'); i >= 0 {
		column = column[i+1:]
	}
	return Statement{Text: "order by " + EscapeIdent(column) + " " + direction}, nil
}

func eqCond(eq map[string]any) Cond {
	keys := sortedKeys(eq)
	conds := make([]Cond, len(keys))
	for i, k := range keys {
		conds[i] = Eq(k, eq[k])
	}
	return And(conds...)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
