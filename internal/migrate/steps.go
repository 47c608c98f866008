package migrate

import (
	"fmt"

	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/table"
)

// steps maps a schema version to the DDL that upgrades from the previous
// version. Booleans are smallint 0/1 columns; times are epoch seconds in
// bigint columns.
var steps = map[int]func(*table.Set) []string{
	1: stepTables,
	2: stepStockAndTitleViews,
	3: stepUserStatsView,
	4: stepOverdueView,
}

func ident(t *table.Set, n table.Name) string {
	return sqlbuild.EscapeIdent(t.Name(n))
}

func stepTables(t *table.Set) []string {
	return []string{
		fmt.Sprintf(`create table %s (
			dataver int not null primary key
		)`, ident(t, table.DataverJournal)),

		fmt.Sprintf(`create table %s (
			username varchar(250) not null primary key,
			password varchar(250) not null,
			email text not null,
			display_name text not null,
			role text not null,
			can_reset smallint not null,
			enabled smallint not null,
			private_key text not null,
			public_key text not null
		)`, ident(t, table.Users)),

		fmt.Sprintf(`create table %s (
			username varchar(250) not null references %s (username) on delete cascade on update cascade,
			password varchar(250) not null,
			session varchar(250) not null primary key,
			secret varchar(250) not null,
			expire bigint not null
		)`, ident(t, table.UsersSession), ident(t, table.Users)),

		fmt.Sprintf(`create table %s (
			username varchar(250) not null primary key references %s (username) on delete cascade on update cascade,
			password varchar(250) not null,
			secret varchar(250) not null
		)`, ident(t, table.UsersPasswordReset), ident(t, table.Users)),

		fmt.Sprintf(`create table %s (
			book_number varchar(250) not null primary key,
			title text not null,
			author text not null,
			publisher text not null,
			year int not null,
			place text not null,
			url text not null,
			price_milliunit bigint not null,
			description text not null,
			to_purchase_amount int not null
		)`, ident(t, table.Titles)),

		fmt.Sprintf(`create table %s (
			book_number varchar(250) not null references %s (book_number) on delete cascade on update cascade,
			barcode varchar(250) not null primary key,
			deprecated smallint not null,
			stock_notes text not null
		)`, ident(t, table.Stocks), ident(t, table.Titles)),

		fmt.Sprintf(`create table %s (
			uuid varchar(250) not null primary key,
			barcode varchar(250) not null references %s (barcode) on delete cascade on update cascade,
			username varchar(250) not null references %s (username) on delete cascade on update cascade,
			borrow_time bigint not null,
			due_time bigint not null,
			returned smallint not null,
			return_time bigint not null,
			borrow_notes text not null
		)`, ident(t, table.Borrows), ident(t, table.Stocks), ident(t, table.Users)),
	}
}

func stepStockAndTitleViews(t *table.Set) []string {
	borrows := ident(t, table.Borrows)
	stocks := ident(t, table.Stocks)
	titles := ident(t, table.Titles)
	borrowedView := ident(t, table.StocksViewBorrowed)

	return []string{
		fmt.Sprintf(`create view %s as
			select barcode, (exists(
				select 1 from %s
				where barcode=%s.barcode and returned=0
			))::int as borrowed, coalesce((
				select username from %s
				where barcode=%s.barcode and returned=0 limit 1
			), '') as borrowed_by, coalesce((
				select max(due_time) from %s
				where barcode=%s.barcode and returned=0
			), 0) as borrowed_due, (coalesce((
				select max(due_time) from %s
				where barcode=%s.barcode and returned=0
			), 0) between 1 and extract(epoch from now())::bigint)::int as borrowed_overdue
			from %s`,
			borrowedView,
			borrows, stocks,
			borrows, stocks,
			borrows, stocks,
			borrows, stocks,
			stocks),

		fmt.Sprintf(`create view %s as
			select book_number, (
				select count(barcode) from %s
				where book_number=%s.book_number
			) as total, (
				select count(barcode) from %s join %s using (barcode)
				where book_number=%s.book_number and borrowed=1
			) as borrowed, (
				select count(barcode) from %s
				where book_number=%s.book_number and deprecated=1
			) as deprecated, (
				select count(barcode) from %s join %s using (barcode)
				where book_number=%s.book_number and deprecated=1 and borrowed=1
			) as deprecated_and_borrowed
			from %s`,
			ident(t, table.TitlesViewStats),
			stocks, titles,
			stocks, borrowedView, titles,
			stocks, titles,
			stocks, borrowedView, titles,
			titles),
	}
}

func stepUserStatsView(t *table.Set) []string {
	borrows := ident(t, table.Borrows)
	users := ident(t, table.Users)

	return []string{
		fmt.Sprintf(`create view %s as
			select username, (
				select count(uuid) from %s
				where username=%s.username
			) as borrows, (
				select count(uuid) from %s
				where username=%s.username and returned=0
			) as active_borrows, (
				select count(uuid) from %s
				where username=%s.username and returned=1 and return_time > due_time
			) as overdue_records
			from %s`,
			ident(t, table.UsersViewStats),
			borrows, users,
			borrows, users,
			borrows, users,
			users),
	}
}

func stepOverdueView(t *table.Set) []string {
	return []string{
		fmt.Sprintf(`create view %s as
			select uuid, (case
				when returned=0 then (due_time < extract(epoch from now())::bigint)
				else (return_time > due_time)
			end)::int as overdue
			from %s`,
			ident(t, table.BorrowsViewOverdue),
			ident(t, table.Borrows)),
	}
}
