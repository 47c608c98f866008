package library

import (
	"context"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

const generatedBarcodeLength = 16

// GenerateBarcode mints a random barcode that is not yet enrolled.
func (s *Service) GenerateBarcode(ctx context.Context) (string, error) {
	tables := s.st.Tables()
	var barcode string
	err := s.st.WithConn(ctx, func(c *store.Conn) error {
		for {
			candidate := auth.Alphanum(generatedBarcodeLength)
			count, err := c.QueryCount(ctx, sqlbuild.CountOf(sqlbuild.SelectWhere(
				tables.Plain(table.Stocks), map[string]any{"barcode": candidate})))
			if err != nil {
				return err
			}
			if count == 0 {
				barcode = candidate
				return nil
			}
		}
	})
	return barcode, err
}

// StockQuery filters a stock listing.
type StockQuery struct {
	BookNumber    string
	BarcodePrefix string
	// Deprecated keeps stocks whose flag is one of the listed values.
	Deprecated []bool
	// Borrowed filters on loan state: "none", "normal", "overdue".
	Borrowed      []string
	PageNumber    int
	PageSize      int
	SortBy        string
	SortDirection string
}

func (s *Service) stockConds(q StockQuery) (sqlbuild.Cond, error) {
	var conds []sqlbuild.Cond

	if q.BookNumber != "" {
		conds = append(conds, sqlbuild.Eq("book_number", q.BookNumber))
	}
	if q.BarcodePrefix != "" {
		conds = append(conds, sqlbuild.Cond{
			Expr: `"barcode" like ?`,
			Args: []any{sqlbuild.LikeStartsWith(q.BarcodePrefix)},
		})
	}
	if len(q.Deprecated) > 0 {
		var flags []sqlbuild.Cond
		for _, f := range q.Deprecated {
			flags = append(flags, sqlbuild.Eq("deprecated", f))
		}
		conds = append(conds, sqlbuild.Or(flags...))
	}
	if len(q.Borrowed) > 0 {
		nowEpoch := s.epoch()
		var states []sqlbuild.Cond
		for _, b := range q.Borrowed {
			switch b {
			case "none":
				states = append(states, sqlbuild.Raw(`"borrowed"=0`))
			case "normal":
				states = append(states, sqlbuild.Raw(`"borrowed"=1 and "borrowed_due">=?`, nowEpoch))
			case "overdue":
				states = append(states, sqlbuild.Raw(`"borrowed"=1 and "borrowed_due"<?`, nowEpoch))
			default:
				return sqlbuild.Cond{}, apperr.FieldInvalid("borrowed", b)
			}
		}
		conds = append(conds, sqlbuild.Or(states...))
	}
	return sqlbuild.And(conds...), nil
}

// ListStocks returns the filtered, optionally sorted window plus the total
// match count. Management only: the listing exposes loan details.
func (s *Service) ListStocks(ctx context.Context, actor *auth.Actor, q StockQuery) (*Page, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	cond, err := s.stockConds(q)
	if err != nil {
		return nil, err
	}
	sorting, err := sqlbuild.Sorting(q.SortBy, q.SortDirection)
	if err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	base := sqlbuild.Select(tables.StocksExt()).Where(cond).Append(sorting)

	page := &Page{}
	err = s.st.WithAtomic(ctx, func(c *store.Conn) error {
		stocks, err := store.Entities(ctx, c,
			base.Append(sqlbuild.Pagination(q.PageNumber, q.PageSize)), entity.DecodeStockExt)
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
		page.Window = make([]entity.Row, len(stocks))
		for i, st := range stocks {
			page.Window[i] = st.Display(entity.Manage)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// EnrollStock registers a physical copy of a title. When requested it also
// decrements the title's to-purchase counter, clamped at zero.
func (s *Service) EnrollStock(ctx context.Context, actor *auth.Actor, bookNumber, barcode string, decreaseToPurchase bool) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	stock := &entity.Stock{BookNumber: bookNumber, Barcode: barcode}
	if err := stock.Validate(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		_, err := c.Exec(ctx, sqlbuild.Insert(tables.Name(table.Stocks), stock.StoredMap()))
		if err := store.Rewrite(err, map[store.Kind]func() error{
			store.KindForeignKey: func() error { return apperr.NotFound(bookNumber) },
			store.KindDuplicate:  func() error { return apperr.AlreadyExists(barcode) },
		}); err != nil {
			return err
		}

		if decreaseToPurchase {
			if _, err := c.Exec(ctx, sqlbuild.Statement{
				Text: "update " + sqlbuild.EscapeIdent(tables.Name(table.Titles)) +
					" set to_purchase_amount=greatest(to_purchase_amount-1,0) where book_number=?",
				Args: []any{bookNumber},
			}); err != nil {
				return err
			}
		}

		enrolled, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.StocksExt(), map[string]any{"barcode": barcode},
		), entity.DecodeStockExt)
		if err != nil {
			return err
		}
		out = enrolled.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StockInfo returns one stock with its loan state and title. Management only.
func (s *Service) StockInfo(ctx context.Context, actor *auth.Actor, barcode string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		stock, err := s.stockExt(ctx, c, barcode)
		if err != nil {
			return err
		}
		out = stock.Display(entity.Manage)
		return nil
	})
	return out, err
}

// SetStockNotes replaces the internal notes of a stock.
func (s *Service) SetStockNotes(ctx context.Context, actor *auth.Actor, barcode, notes string) (entity.Row, error) {
	return s.modifyStock(ctx, actor, barcode, func(st *entity.Stock) {
		st.StockNotes = notes
	})
}

// SetStockDeprecated flags or unflags a stock as withdrawn from lending.
func (s *Service) SetStockDeprecated(ctx context.Context, actor *auth.Actor, barcode string, flag bool) (entity.Row, error) {
	return s.modifyStock(ctx, actor, barcode, func(st *entity.Stock) {
		st.Deprecated = flag
	})
}

func (s *Service) modifyStock(ctx context.Context, actor *auth.Actor, barcode string, change func(*entity.Stock)) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		stock, err := s.stockExt(ctx, c, barcode)
		if err != nil {
			return err
		}
		change(stock)
		if err := stock.Validate(); err != nil {
			return err
		}
		if _, err := c.Exec(ctx, sqlbuild.Update(tables.Name(table.Stocks),
			stock.StoredMap(), map[string]any{"barcode": barcode})); err != nil {
			return err
		}
		out = stock.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteStock removes a stock and its borrow history.
func (s *Service) DeleteStock(ctx context.Context, actor *auth.Actor, barcode string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		stock, err := s.stockExt(ctx, c, barcode)
		if err != nil {
			return err
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.Stocks),
			map[string]any{"barcode": barcode})); err != nil {
			return err
		}
		out = stock.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// StockCheck is the public loan-state probe of one stock.
type StockCheck struct {
	Borrowed      bool
	BorrowedDue   int64
	BorrowedByYou bool
	Deprecated    bool
	Stock         entity.Row
}

// CheckStock reports whether a stock is out on loan and whether the current
// actor is its borrower. Open to everyone; the attached stock display is the
// public, underived one.
func (s *Service) CheckStock(ctx context.Context, actor *auth.Actor, barcode string) (*StockCheck, error) {
	var out *StockCheck
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		stock, err := s.stockExt(ctx, c, barcode)
		if err != nil {
			return err
		}
		check := &StockCheck{
			Borrowed:   stock.Borrowed,
			Deprecated: stock.Deprecated,
		}
		if stock.Borrowed {
			check.BorrowedDue = stock.BorrowedDue
			check.BorrowedByYou = actor.User != nil && stock.BorrowedBy == actor.User.Username
		}
		// Hide the loan columns from the embedded display.
		stock.Extended = false
		if stock.Title != nil {
			stock.Title.Extended = false
		}
		check.Stock = stock.Display(entity.Public)
		out = check
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) stockExt(ctx context.Context, c *store.Conn, barcode string) (*entity.Stock, error) {
	stock, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
		s.st.Tables().StocksExt(), map[string]any{"barcode": barcode},
	), entity.DecodeStockExt)
	if err != nil {
		return nil, err
	}
	if stock == nil {
		return nil, apperr.NotFound(barcode)
	}
	return stock, nil
}
