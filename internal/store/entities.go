package store

import (
	"context"

	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
)

// Entities runs a select and decodes every row through decode.
func Entities[T any](ctx context.Context, c *Conn, st sqlbuild.Statement, decode func(entity.Row) (*T, error)) ([]*T, error) {
	rows, err := c.Query(ctx, st)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		e, err := decode(row)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// EntityOne runs a select and decodes the first row, returning nil when the
// result is empty.
func EntityOne[T any](ctx context.Context, c *Conn, st sqlbuild.Statement, decode func(entity.Row) (*T, error)) (*T, error) {
	row, err := c.QueryOne(ctx, st)
	if err != nil {
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return decode(row)
}
