package store

import (
	"context"
	"fmt"

	"bibliodesk.org/internal/ids"
	"bibliodesk.org/internal/obs"
)

// WithConn runs fn on a connection scope without transactional guarantees.
// The scope pins one pooled connection for its whole duration and releases
// it on return.
func (s *Store) WithConn(ctx context.Context, fn func(*Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire: %w", err)
	}
	defer func() { _ = conn.Close() }()
	return fn(&Conn{q: conn, opID: ids.New()})
}

// WithAtomic runs fn inside a transaction. Any error from fn or from commit
// rolls the transaction back; rollback failures are not surfaced since the
// server will discard the connection anyway.
func (s *Store) WithAtomic(ctx context.Context, fn func(*Conn) error) error {
	opID := ids.New()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&Conn{q: tx, opID: opID}); err != nil {
		obs.ObserveTransaction("rollback")
		obs.LogEvent(map[string]any{"event": "tx_rollback", "op_id": opID, "error": err.Error()})
		return err
	}
	if err := tx.Commit(); err != nil {
		obs.ObserveTransaction("rollback")
		return fmt.Errorf("commit: %w", err)
	}
	obs.ObserveTransaction("commit")
	return nil
}
