// Package table names the relations of the library schema. All tables and
// views share a deployment prefix so several installations can coexist in one
// database; nothing outside this package concatenates table names.
package table

import "bibliodesk.org/internal/sqlbuild"

// Name is an unprefixed table or view identifier.
type Name string

const (
	DataverJournal     Name = "dataver_journal"
	Users              Name = "users"
	UsersSession       Name = "users_session"
	UsersPasswordReset Name = "users_password_reset"
	Titles             Name = "titles"
	Stocks             Name = "stocks"
	Borrows            Name = "borrows"

	StocksViewBorrowed Name = "stocks_view_borrowed"
	TitlesViewStats    Name = "titles_view_stats"
	UsersViewStats     Name = "users_view_stats"
	BorrowsViewOverdue Name = "borrows_view_overdue"
)

// Tables lists the base tables in creation order.
var Tables = []Name{DataverJournal, Users, UsersSession, UsersPasswordReset, Titles, Stocks, Borrows}

// Set resolves names for one deployment prefix.
type Set struct {
	prefix string
}

func NewSet(prefix string) *Set {
	return &Set{prefix: prefix}
}

// Name returns the prefixed relation name.
func (s *Set) Name(n Name) string {
	return s.prefix + "__" + string(n)
}

// Plain returns a single-relation source.
func (s *Set) Plain(n Name) sqlbuild.Source {
	return sqlbuild.From(s.Name(n))
}

// UsersExt joins users with their borrow counters.
func (s *Set) UsersExt() sqlbuild.Source {
	return sqlbuild.Source{
		Base: s.Name(Users),
		Joins: []sqlbuild.Join{
			{Table: s.Name(UsersViewStats), Key: "username"},
		},
	}
}

// TitlesExt joins titles with their stock counters.
func (s *Set) TitlesExt() sqlbuild.Source {
	return sqlbuild.Source{
		Base: s.Name(Titles),
		Joins: []sqlbuild.Join{
			{Table: s.Name(TitlesViewStats), Key: "book_number"},
		},
	}
}

// StocksBorrowed joins stocks with their borrowed state.
func (s *Set) StocksBorrowed() sqlbuild.Source {
	return sqlbuild.Source{
		Base: s.Name(Stocks),
		Joins: []sqlbuild.Join{
			{Table: s.Name(StocksViewBorrowed), Key: "barcode"},
		},
	}
}

// StocksExt additionally joins the owning title.
func (s *Set) StocksExt() sqlbuild.Source {
	return sqlbuild.Source{
		Base: s.Name(Stocks),
		Joins: []sqlbuild.Join{
			{Table: s.Name(StocksViewBorrowed), Key: "barcode"},
			{Table: s.Name(Titles), Key: "book_number"},
		},
	}
}

// BorrowsExt joins borrows with the overdue view, the borrowed copy, its
// borrowed state and its title.
func (s *Set) BorrowsExt() sqlbuild.Source {
	return sqlbuild.Source{
		Base: s.Name(Borrows),
		Joins: []sqlbuild.Join{
			{Table: s.Name(BorrowsViewOverdue), Key: "uuid"},
			{Table: s.Name(Stocks), Key: "barcode"},
			{Table: s.Name(StocksViewBorrowed), Key: "barcode"},
			{Table: s.Name(Titles), Key: "book_number"},
		},
	}
}
