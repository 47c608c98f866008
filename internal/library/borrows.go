package library

import (
	"context"

	"github.com/google/uuid"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

// BorrowQuery filters a borrow-record listing.
type BorrowQuery struct {
	BookNumbers []string
	Barcodes    []string
	Users       []string
	Returned    []bool
	Overdue     []bool

	PageNumber    int
	PageSize      int
	SortBy        string
	SortDirection string
}

func borrowConds(q BorrowQuery, forcedUser string) sqlbuild.Cond {
	var conds []sqlbuild.Cond

	contains := func(column string, values []string) {
		if len(values) == 0 {
			return
		}
		args := make([]any, len(values))
		for i, v := range values {
			args[i] = v
		}
		conds = append(conds, sqlbuild.Contains(column, args))
	}
	contains("book_number", q.BookNumbers)
	contains("barcode", q.Barcodes)

	if forcedUser != "" {
		conds = append(conds, sqlbuild.Eq("username", forcedUser))
	} else {
		contains("username", q.Users)
	}

	flags := func(column string, values []bool) {
		if len(values) == 0 {
			return
		}
		var alts []sqlbuild.Cond
		for _, v := range values {
			alts = append(alts, sqlbuild.Eq(column, v))
		}
		conds = append(conds, sqlbuild.Or(alts...))
	}
	flags("returned", q.Returned)
	flags("overdue", q.Overdue)

	return sqlbuild.And(conds...)
}

// ListBorrows returns the borrow records visible to the actor. Readers only
// ever see their own records; book managers see everyone's and may filter by
// user.
func (s *Service) ListBorrows(ctx context.Context, actor *auth.Actor, q BorrowQuery) (*Page, error) {
	if err := actor.CheckLoggedIn(); err != nil {
		return nil, err
	}
	forcedUser := ""
	if !actor.CanManageBooks() {
		forcedUser = actor.User.Username
	}
	sorting, err := sqlbuild.Sorting(q.SortBy, q.SortDirection)
	if err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	base := sqlbuild.Select(tables.BorrowsExt()).
		Where(borrowConds(q, forcedUser)).
		Append(sorting)
	aud := audienceOf(actor)

	page := &Page{}
	err = s.st.WithAtomic(ctx, func(c *store.Conn) error {
		borrows, err := store.Entities(ctx, c,
			base.Append(sqlbuild.Pagination(q.PageNumber, q.PageSize)), entity.DecodeBorrowExt)
		if err != nil {
			return store.Rewrite(err, map[store.Kind]func() error{
				store.KindBadColumn: func() error { return apperr.BadSorting(q.SortBy) },
			})
		}
		count, err := c.QueryCount(ctx, sqlbuild.CountOf(base))
		if err != nil {
			return err
		}
		page.Count = count
		page.Window = make([]entity.Row, len(borrows))
		for i, b := range borrows {
			page.Window[i] = b.Display(aud)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// BorrowInfo returns one borrow record by its identifier. Management only.
func (s *Service) BorrowInfo(ctx context.Context, actor *auth.Actor, recordUUID string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		borrow, err := s.borrowExtByUUID(ctx, c, recordUUID)
		if err != nil {
			return err
		}
		out = borrow.Display(entity.Manage)
		return nil
	})
	return out, err
}

// Borrow lends a stock to a user. Book managers lend on behalf of any
// account. Readers borrow for themselves from a library terminal, proving
// presence with the terminal secret, and are capped at the configured
// concurrent-borrow limit.
func (s *Service) Borrow(ctx context.Context, actor *auth.Actor, barcode, username, terminalSecret string) (entity.Row, error) {
	return s.lendingOp(ctx, actor, barcode, username, terminalSecret, s.doBorrow)
}

// Renew extends an active loan by the configured borrow duration. Readers
// cannot renew a loan that is already overdue; managers can.
func (s *Service) Renew(ctx context.Context, actor *auth.Actor, barcode, username, terminalSecret string) (entity.Row, error) {
	return s.lendingOp(ctx, actor, barcode, username, terminalSecret, s.doRenew)
}

// Return closes an active loan, stamping the return time.
func (s *Service) Return(ctx context.Context, actor *auth.Actor, barcode, username, terminalSecret string) (entity.Row, error) {
	return s.lendingOp(ctx, actor, barcode, username, terminalSecret, s.doReturn)
}

type lendingFunc func(ctx context.Context, c *store.Conn, target *entity.User, barcode string, manager bool) (*entity.Borrow, error)

func (s *Service) lendingOp(ctx context.Context, actor *auth.Actor, barcode, username, terminalSecret string, op lendingFunc) (entity.Row, error) {
	if err := actor.CheckLoggedIn(); err != nil {
		return nil, err
	}
	manager := actor.CanManageBooks()
	if !manager {
		if s.cfg.LibrarySecretHash != "" && !s.hasher.Verify(terminalSecret, s.cfg.LibrarySecretHash) {
			return nil, apperr.NotOnLibraryTerminal()
		}
		username = actor.User.Username
	}

	tables := s.st.Tables()
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		target, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.UsersExt(), map[string]any{"username": username},
		), entity.DecodeUserExt)
		if err != nil {
			return err
		}
		if target == nil {
			return apperr.NotFound(username)
		}

		borrow, err := op(ctx, c, target, barcode, manager)
		if err != nil {
			return err
		}
		aud := entity.Public
		if manager {
			aud = entity.Manage
		}
		out = borrow.Display(aud)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) doBorrow(ctx context.Context, c *store.Conn, target *entity.User, barcode string, manager bool) (*entity.Borrow, error) {
	if !manager && target.ActiveBorrows >= int64(s.cfg.MaxBorrowCount) {
		return nil, apperr.MaxBorrowReached()
	}
	tables := s.st.Tables()
	stock, err := s.stockExt(ctx, c, barcode)
	if err != nil {
		return nil, err
	}
	if stock.Borrowed {
		return nil, apperr.AlreadyBorrowed(barcode)
	}
	if stock.Deprecated {
		return nil, apperr.StockDeprecated(barcode)
	}

	now := s.epoch()
	borrow := &entity.Borrow{
		UUID:       uuid.NewString(),
		Barcode:    barcode,
		Username:   target.Username,
		BorrowTime: now,
		DueTime:    now + int64(s.cfg.MaxBorrowTime.Seconds()),
	}
	_, err = c.Exec(ctx, sqlbuild.Insert(tables.Name(table.Borrows), borrow.StoredMap()))
	if err := store.Rewrite(err, map[store.Kind]func() error{
		store.KindForeignKey: func() error { return apperr.NotFound(target.Username) },
		store.KindDuplicate:  func() error { return apperr.AlreadyExists(borrow.UUID) },
	}); err != nil {
		return nil, err
	}
	return s.borrowExtByUUID(ctx, c, borrow.UUID)
}

func (s *Service) doRenew(ctx context.Context, c *store.Conn, target *entity.User, barcode string, manager bool) (*entity.Borrow, error) {
	borrow, err := s.activeBorrow(ctx, c, barcode, target.Username)
	if err != nil {
		return nil, err
	}
	now := s.epoch()
	if now > borrow.DueTime && !manager {
		return nil, apperr.AlreadyOverdue(barcode, borrow.DueTime)
	}
	borrow.DueTime = now + int64(s.cfg.MaxBorrowTime.Seconds())
	return s.updateBorrow(ctx, c, borrow)
}

func (s *Service) doReturn(ctx context.Context, c *store.Conn, target *entity.User, barcode string, manager bool) (*entity.Borrow, error) {
	borrow, err := s.activeBorrow(ctx, c, barcode, target.Username)
	if err != nil {
		return nil, err
	}
	borrow.Returned = true
	borrow.ReturnTime = s.epoch()
	return s.updateBorrow(ctx, c, borrow)
}

// SetBorrowNotes replaces the internal notes of a borrow record.
func (s *Service) SetBorrowNotes(ctx context.Context, actor *auth.Actor, recordUUID, notes string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		borrow, err := s.borrowExtByUUID(ctx, c, recordUUID)
		if err != nil {
			return err
		}
		borrow.BorrowNotes = notes
		updated, err := s.updateBorrow(ctx, c, borrow)
		if err != nil {
			return err
		}
		out = updated.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteBorrow erases a borrow record outright, history included.
func (s *Service) DeleteBorrow(ctx context.Context, actor *auth.Actor, recordUUID string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		borrow, err := s.borrowExtByUUID(ctx, c, recordUUID)
		if err != nil {
			return err
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.Borrows),
			map[string]any{"uuid": recordUUID})); err != nil {
			return err
		}
		out = borrow.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) borrowExtByUUID(ctx context.Context, c *store.Conn, recordUUID string) (*entity.Borrow, error) {
	borrow, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
		s.st.Tables().BorrowsExt(), map[string]any{"uuid": recordUUID},
	), entity.DecodeBorrowExt)
	if err != nil {
		return nil, err
	}
	if borrow == nil {
		return nil, apperr.NotFound(recordUUID)
	}
	return borrow, nil
}

// activeBorrow finds the open loan of a stock by a user. A miss means the
// stock is not currently borrowed by that user, whatever else its state.
func (s *Service) activeBorrow(ctx context.Context, c *store.Conn, barcode, username string) (*entity.Borrow, error) {
	borrow, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
		s.st.Tables().BorrowsExt(), map[string]any{
			"barcode":  barcode,
			"returned": false,
			"username": username,
		},
	), entity.DecodeBorrowExt)
	if err != nil {
		return nil, err
	}
	if borrow == nil {
		return nil, apperr.NotBorrowedByYou(barcode)
	}
	return borrow, nil
}

func (s *Service) updateBorrow(ctx context.Context, c *store.Conn, borrow *entity.Borrow) (*entity.Borrow, error) {
	if err := borrow.Validate(); err != nil {
		return nil, err
	}
	if _, err := c.Exec(ctx, sqlbuild.Update(s.st.Tables().Name(table.Borrows),
		borrow.StoredMap(), map[string]any{"uuid": borrow.UUID})); err != nil {
		return nil, err
	}
	return s.borrowExtByUUID(ctx, c, borrow.UUID)
}
