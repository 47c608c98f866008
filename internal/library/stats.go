package library

import (
	"context"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/store"
	"bibliodesk.org/internal/table"
)

// Stats is the collection snapshot shown on the front page. The procurement
// counters are only populated for book managers.
type Stats struct {
	TitleCount         int64
	StockCount         int64
	BorrowedTitleCount int64
	BorrowedStockCount int64

	ToPurchaseCount *int64
	ToPurchasePrice *int64
}

// CollectionStats gathers the collection counters in one transaction so they
// describe a single point in time. Open to everyone.
func (s *Service) CollectionStats(ctx context.Context, actor *auth.Actor) (*Stats, error) {
	tables := s.st.Tables()
	out := &Stats{}

	count := func(ctx context.Context, c *store.Conn, dst *int64, st sqlbuild.Statement) error {
		n, err := c.QueryCount(ctx, st)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		steps := []struct {
			dst *int64
			st  sqlbuild.Statement
		}{
			{&out.TitleCount, sqlbuild.CountOf(sqlbuild.Select(tables.Plain(table.Titles)))},
			{&out.StockCount, sqlbuild.CountOf(sqlbuild.Select(tables.Plain(table.Stocks)))},
			{&out.BorrowedTitleCount, sqlbuild.CountOf(
				sqlbuild.Select(tables.Plain(table.TitlesViewStats)).Where(sqlbuild.Raw(`"borrowed">0`)))},
			{&out.BorrowedStockCount, sqlbuild.CountOf(
				sqlbuild.Select(tables.Plain(table.StocksViewBorrowed)).Where(sqlbuild.Eq("borrowed", true)))},
		}
		for _, step := range steps {
			if err := count(ctx, c, step.dst, step.st); err != nil {
				return err
			}
		}

		if !actor.CanManageBooks() {
			return nil
		}
		titles := sqlbuild.EscapeIdent(tables.Name(table.Titles))
		var purchaseCount, purchasePrice int64
		if err := count(ctx, c, &purchaseCount, sqlbuild.Statement{
			Text: "select coalesce(sum(to_purchase_amount),0) from " + titles,
		}); err != nil {
			return err
		}
		if err := count(ctx, c, &purchasePrice, sqlbuild.Statement{
			Text: "select coalesce(sum(to_purchase_amount*price_milliunit),0) from " + titles,
		}); err != nil {
			return err
		}
		out.ToPurchaseCount = &purchaseCount
		out.ToPurchasePrice = &purchasePrice
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
