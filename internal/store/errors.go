package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
	pgErrUndefinedColumn     = "42703"
)

// Kind classifies a driver failure by its SQLSTATE.
type Kind int

const (
	KindOther Kind = iota
	KindDuplicate
	KindForeignKey
	KindBadColumn
)

func KindOf(err error) Kind {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return KindOther
	}
	switch pgErr.Code {
	case pgErrUniqueViolation:
		return KindDuplicate
	case pgErrForeignKeyViolation:
		return KindForeignKey
	case pgErrUndefinedColumn:
		return KindBadColumn
	}
	return KindOther
}

// Rewrite maps classified driver failures onto domain errors. Failures with
// no rule pass through unchanged.
func Rewrite(err error, rules map[Kind]func() error) error {
	if err == nil {
		return nil
	}
	if fn, ok := rules[KindOf(err)]; ok {
		return fn()
	}
	return err
}
