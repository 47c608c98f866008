package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/obs"
	"bibliodesk.org/internal/sqlbuild"
)

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Conn is one connection or transaction scope. The op id correlates every
// log line the scope emits.
type Conn struct {
	q    querier
	opID string
}

// OpID returns the correlation id of this scope.
func (c *Conn) OpID() string { return c.opID }

// Query runs a statement and returns every result row as a column map with
// driver values normalized to bool, int64 or string.
func (c *Conn) Query(ctx context.Context, st sqlbuild.Statement) ([]entity.Row, error) {
	text, args := st.Numbered()
	start := time.Now()
	rows, err := c.q.QueryContext(ctx, text, args...)
	obs.ObserveStatement(st.Verb(), err, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("columns: %w", err)
	}
	var out []entity.Row
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		row := make(entity.Row, len(cols))
		for i, col := range cols {
			row[col] = normalizeValue(vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// QueryOne returns the first result row, or nil when there is none.
func (c *Conn) QueryOne(ctx context.Context, st sqlbuild.Statement) (entity.Row, error) {
	rows, err := c.Query(ctx, st)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

// QueryCount runs a single-value aggregate statement and returns the value.
func (c *Conn) QueryCount(ctx context.Context, st sqlbuild.Statement) (int64, error) {
	rows, err := c.Query(ctx, st)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, fmt.Errorf("count query returned no rows")
	}
	for _, v := range rows[0] {
		if n, ok := v.(int64); ok {
			return n, nil
		}
	}
	return 0, fmt.Errorf("count query returned no integer column")
}

// Exec runs a statement and returns the number of affected rows. Assignment
// values that would overflow a varchar column are rejected up front.
func (c *Conn) Exec(ctx context.Context, st sqlbuild.Statement) (int64, error) {
	if err := checkTextLengths(st); err != nil {
		return 0, err
	}
	text, args := st.Numbered()
	start := time.Now()
	res, err := c.q.ExecContext(ctx, text, args...)
	obs.ObserveStatement(st.Verb(), err, time.Since(start))
	if err != nil {
		return 0, fmt.Errorf("exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return n, nil
}

// normalizeValue flattens driver-specific value types so schema decoding only
// ever sees bool, int64, float64 or string.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case int:
		return int64(t)
	case int32:
		return int64(t)
	}
	return v
}
