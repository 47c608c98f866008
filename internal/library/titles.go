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

// TitleInfo returns one title with its stock counters. Readable by anyone,
// including anonymous visitors; the display is sanitized per audience.
func (s *Service) TitleInfo(ctx context.Context, actor *auth.Actor, bookNumber string) (entity.Row, error) {
	tables := s.st.Tables()
	var out entity.Row
	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		title, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.TitlesExt(), map[string]any{"book_number": bookNumber},
		), entity.DecodeTitleExt)
		if err != nil {
			return err
		}
		if title == nil {
			return apperr.NotFound(bookNumber)
		}
		out = title.Display(audienceOf(actor))
		return nil
	})
	return out, err
}

// TitleQuery filters a title listing. Zero values mean "no filter".
type TitleQuery struct {
	SearchKey  string
	BookNumber string
	// Barcode restricts to the title owning that stock.
	Barcode   string
	Title     string
	Author    string
	Publisher string
	// Accessible filters on availability channels: "offline" (has a shelf
	// place), "online" (has a URL).
	Accessible []string
	PriceMin   *int64
	PriceMax   *int64
	// Status filters on aggregate stock state: "borrowable", "borrowed",
	// "unavailable", "empty".
	Status     []string
	PageNumber int
	PageSize   int
}

// Aggregate stock states expressed over the stats view columns.
var titleStatusConds = map[string]string{
	"borrowable":  "total-borrowed-deprecated+deprecated_and_borrowed>0",
	"borrowed":    "total-borrowed-deprecated+deprecated_and_borrowed=0 and borrowed-deprecated_and_borrowed>0",
	"unavailable": "total-deprecated=0 and deprecated>0",
	"empty":       "total=0",
}

func (s *Service) titleConds(q TitleQuery) (sqlbuild.Cond, error) {
	tables := s.st.Tables()
	var conds []sqlbuild.Cond

	if q.SearchKey != "" {
		conds = append(conds, sqlbuild.Or(
			sqlbuild.LikeContainsCond("title", q.SearchKey),
			sqlbuild.LikeContainsCond("author", q.SearchKey),
			sqlbuild.LikeContainsCond("publisher", q.SearchKey),
		))
	}
	if q.BookNumber != "" {
		conds = append(conds, sqlbuild.Eq("book_number", q.BookNumber))
	}
	if q.Barcode != "" {
		conds = append(conds, sqlbuild.Raw(
			`"book_number" in (select "book_number" from `+
				sqlbuild.EscapeIdent(tables.Name(table.Stocks))+` where "barcode"=?)`,
			q.Barcode))
	}
	if q.Title != "" {
		conds = append(conds, sqlbuild.LikeContainsCond("title", q.Title))
	}
	if q.Author != "" {
		conds = append(conds, sqlbuild.LikeContainsCond("author", q.Author))
	}
	if q.Publisher != "" {
		conds = append(conds, sqlbuild.LikeContainsCond("publisher", q.Publisher))
	}
	for _, ch := range q.Accessible {
		switch ch {
		case "offline":
			conds = append(conds, sqlbuild.Raw(`"place" is not null and "place" <> ''`))
		case "online":
			conds = append(conds, sqlbuild.Raw(`"url" is not null and "url" <> ''`))
		default:
			return sqlbuild.Cond{}, apperr.FieldInvalid("accessible", ch)
		}
	}
	if q.PriceMin != nil {
		conds = append(conds, sqlbuild.Raw(`"price_milliunit" >= ?`, *q.PriceMin))
	}
	if q.PriceMax != nil {
		conds = append(conds, sqlbuild.Raw(`"price_milliunit" <= ?`, *q.PriceMax))
	}
	if len(q.Status) > 0 {
		var statuses []sqlbuild.Cond
		for _, st := range q.Status {
			expr, ok := titleStatusConds[st]
			if !ok {
				return sqlbuild.Cond{}, apperr.FieldInvalid("status", st)
			}
			statuses = append(statuses, sqlbuild.Raw(expr))
		}
		conds = append(conds, sqlbuild.Or(statuses...))
	}
	return sqlbuild.And(conds...), nil
}

// ListTitles returns the filtered window plus the total match count.
func (s *Service) ListTitles(ctx context.Context, actor *auth.Actor, q TitleQuery) (*Page, error) {
	cond, err := s.titleConds(q)
	if err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	base := sqlbuild.Select(tables.TitlesExt()).Where(cond)
	aud := audienceOf(actor)

	page := &Page{}
	err = s.st.WithAtomic(ctx, func(c *store.Conn) error {
		titles, err := store.Entities(ctx, c,
			base.Append(sqlbuild.Pagination(q.PageNumber, q.PageSize)), entity.DecodeTitleExt)
		if err != nil {
			return err
		}
		count, err := c.QueryCount(ctx, sqlbuild.CountOf(base))
		if err != nil {
			return err
		}
		page.Count = count
		page.Window = make([]entity.Row, len(titles))
		for i, t := range titles {
			page.Window[i] = t.Display(aud)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// UpsertTitle creates a title, or modifies one when oldBookNumber is given.
// Changes is a partial column map validated through the schema.
func (s *Service) UpsertTitle(ctx context.Context, actor *auth.Actor, oldBookNumber string, changes entity.Row) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		title := &entity.Title{}
		if oldBookNumber != "" {
			existing, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
				tables.TitlesExt(), map[string]any{"book_number": oldBookNumber},
			), entity.DecodeTitleExt)
			if err != nil {
				return err
			}
			if existing == nil {
				return apperr.NotFound(oldBookNumber)
			}
			title = existing
		}
		if err := entity.TitleSchema.Decode(title, changes, true); err != nil {
			return err
		}

		var execErr error
		if oldBookNumber != "" {
			_, execErr = c.Exec(ctx, sqlbuild.Update(tables.Name(table.Titles),
				title.StoredMap(), map[string]any{"book_number": oldBookNumber}))
		} else {
			_, execErr = c.Exec(ctx, sqlbuild.Insert(tables.Name(table.Titles), title.StoredMap()))
		}
		if err := store.Rewrite(execErr, map[store.Kind]func() error{
			store.KindDuplicate: func() error { return apperr.AlreadyExists(title.BookNumber) },
		}); err != nil {
			return err
		}
		out = title.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteTitle removes a title and, through the schema's cascades, its stocks
// and their borrow history. Returns the deleted title's display map.
func (s *Service) DeleteTitle(ctx context.Context, actor *auth.Actor, bookNumber string) (entity.Row, error) {
	if err := actor.CheckCanManageBooks(); err != nil {
		return nil, err
	}
	tables := s.st.Tables()
	var out entity.Row

	err := s.st.WithAtomic(ctx, func(c *store.Conn) error {
		title, err := store.EntityOne(ctx, c, sqlbuild.SelectWhere(
			tables.TitlesExt(), map[string]any{"book_number": bookNumber},
		), entity.DecodeTitleExt)
		if err != nil {
			return err
		}
		if title == nil {
			return apperr.NotFound(bookNumber)
		}
		if _, err := c.Exec(ctx, sqlbuild.Delete(tables.Name(table.Titles),
			map[string]any{"book_number": bookNumber})); err != nil {
			return err
		}
		out = title.Display(entity.Manage)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
