// Package migrate brings the database schema up to the version this build
// requires. Versions are recorded in a journal table; each upgrade step runs
// in its own transaction so a failed step leaves the previous version intact.
package migrate

import (
	"context"
	"fmt"
	"io"
	"os"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/obs"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

// TargetDataver is the schema version this build requires.
const TargetDataver = 4

// Manager drives schema upgrades and first-run bootstrapping.
type Manager struct {
	st     *store.Store
	hasher *auth.Hasher
	out    io.Writer
}

// Option configures Manager.
type Option func(*Manager)

// WithOutput redirects operator-facing messages, the generated root password
// included. Defaults to stdout.
func WithOutput(w io.Writer) Option {
	return func(m *Manager) { m.out = w }
}

func NewManager(st *store.Store, hasher *auth.Hasher, opts ...Option) *Manager {
	m := &Manager{st: st, hasher: hasher, out: os.Stdout}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending upgrade step and refuses to touch a database that
// is already newer than this build.
func (m *Manager) Up(ctx context.Context) error {
	stored, err := m.storedDataver(ctx)
	if err != nil {
		return err
	}
	if stored > TargetDataver {
		return fmt.Errorf("database version %d is newer than this build supports (%d)", stored, TargetDataver)
	}
	if stored == TargetDataver {
		obs.LogEvent(map[string]any{"event": "migrate_up_to_date", "dataver": stored})
		return nil
	}
	for step := stored + 1; step <= TargetDataver; step++ {
		obs.LogEvent(map[string]any{"event": "migrate_step", "dataver": step})
		if err := m.applyStep(ctx, step); err != nil {
			return fmt.Errorf("migrate to version %d: %w", step, err)
		}
	}
	return nil
}

// storedDataver reads the journal. A missing journal table means a fresh
// database and reports version 0.
func (m *Manager) storedDataver(ctx context.Context) (int, error) {
	tables := m.st.Tables()
	var version int
	err := m.st.WithConn(ctx, func(c *store.Conn) error {
		row, err := c.QueryOne(ctx, sqlbuild.Statement{
			Text: "select to_regclass(?) as journal",
			Args: []any{tables.Name(table.DataverJournal)},
		})
		if err != nil {
			return err
		}
		if row == nil || row["journal"] == nil {
			version = 0
			return nil
		}
		row, err = c.QueryOne(ctx, sqlbuild.Statement{
			Text: "select max(dataver) as dataver from " + sqlbuild.EscapeIdent(tables.Name(table.DataverJournal)),
		})
		if err != nil {
			return err
		}
		if row == nil || row["dataver"] == nil {
			version = 0
			return nil
		}
		n, ok := row["dataver"].(int64)
		if !ok {
			return fmt.Errorf("unexpected dataver value %#v", row["dataver"])
		}
		version = int(n)
		return nil
	})
	return version, err
}

// applyStep runs one upgrade step plus its journal record atomically.
func (m *Manager) applyStep(ctx context.Context, step int) error {
	ddl, ok := steps[step]
	if !ok {
		return fmt.Errorf("no definition for version %d", step)
	}
	tables := m.st.Tables()
	return m.st.WithAtomic(ctx, func(c *store.Conn) error {
		for _, text := range ddl(tables) {
			if _, err := c.Exec(ctx, sqlbuild.Statement{Text: text}); err != nil {
				return err
			}
		}
		_, err := c.Exec(ctx, sqlbuild.Insert(tables.Name(table.DataverJournal), map[string]any{"dataver": step}))
		return err
	})
}

// EnsureRoot creates the root account on first run and prints its generated
// password once; the password is not recoverable afterwards.
func (m *Manager) EnsureRoot(ctx context.Context) error {
	tables := m.st.Tables()
	return m.st.WithConn(ctx, func(c *store.Conn) error {
		existing, err := c.Query(ctx, sqlbuild.SelectWhere(
			tables.Plain(table.Users), map[string]any{"role": string(entity.RoleRoot)}))
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return nil
		}

		password := auth.Alphanum(16)
		root := &entity.User{
			Username:    "root",
			Password:    m.hasher.Hash(password),
			Email:       "root@localhost",
			DisplayName: "Root",
			Role:        entity.RoleRoot,
			CanReset:    false,
			Enabled:     true,
		}
		if _, err := c.Exec(ctx, sqlbuild.Insert(tables.Name(table.Users), root.StoredMap())); err != nil {
			return err
		}
		fmt.Fprintln(m.out, "Root user created. Save this password now; it cannot be shown again.")
		fmt.Fprintln(m.out, "#################################")
		fmt.Fprintln(m.out, "#  ", password)
		fmt.Fprintln(m.out, "#################################")
		fmt.Fprintln(m.out, "Change the root password right after the first login.")
		return nil
	})
}
