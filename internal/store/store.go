// Package store owns database connectivity for the library service: pool
// setup, connection and transaction scoping, row scanning and the translation
// of driver failures into domain errors. SQL text reaches the driver only
// through sqlbuild statements.
package store

import (
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/table"
)

type Store struct {
	db     *sql.DB
	tables *table.Set
}

func Open(cfg *config.Config) (*Store, error) {
	db, err := sql.Open("pgx", cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db, tables: table.NewSet(cfg.TablePrefix)}, nil
}

// NewWithDB wraps an existing handle. Tests use it with a mocked driver.
func NewWithDB(db *sql.DB, prefix string) *Store {
	return &Store{db: db, tables: table.NewSet(prefix)}
}

func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for readiness pings.
func (s *Store) DB() *sql.DB { return s.db }

// Tables resolves prefixed relation names for this deployment.
func (s *Store) Tables() *table.Set { return s.tables }
