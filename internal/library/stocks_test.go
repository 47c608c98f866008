package library

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/auth"
)

func TestGenerateBarcodeRetriesUntilUnused(t *testing.T) {
	svc, mock := newService(t, testConfig())

	countRows := func(n int64) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"count"}).AddRow(n)
	}
	mock.ExpectQuery(`select count\(\*\) from \(select \* from "lib__stocks"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(countRows(1))
	mock.ExpectQuery(`select count\(\*\) from \(select \* from "lib__stocks"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(countRows(0))

	barcode, err := svc.GenerateBarcode(context.Background())
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(barcode) != generatedBarcodeLength {
		t.Fatalf("barcode = %q", barcode)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestListStocksRejectsUnknownBorrowState(t *testing.T) {
	svc, _ := newService(t, testConfig())
	_, err := svc.ListStocks(context.Background(), librarianActor(), StockQuery{
		Borrowed: []string{"lost"},
	})
	if apperr.CodeOf(err) != "field_invalid" {
		t.Fatalf("err = %v", err)
	}
}

func TestListStocksBadSortingColumn(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__stocks".*order by "bogus" asc`).
		WillReturnError(&pgconn.PgError{Code: "42703"})
	mock.ExpectRollback()

	_, err := svc.ListStocks(context.Background(), librarianActor(), StockQuery{
		SortBy: "bogus", SortDirection: "asc",
	})
	if apperr.CodeOf(err) != "bad_sorting" {
		t.Fatalf("err = %v", err)
	}
}

func TestListStocksOverdueFilterUsesClock(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__stocks".*"borrowed"=1 and "borrowed_due"<\$`).
		WithArgs(fixedNow).
		WillReturnRows(stockExtRow(sqlmock.NewRows(stockExtColumns()), "BC-1", true, "alice", fixedNow-10, false))
	mock.ExpectQuery(`select count\(\*\)`).
		WithArgs(fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(1)))
	mock.ExpectCommit()

	page, err := svc.ListStocks(context.Background(), librarianActor(), StockQuery{
		Borrowed: []string{"overdue"},
		PageSize: -1,
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if page.Count != 1 || len(page.Window) != 1 {
		t.Fatalf("page = %+v", page)
	}
	if page.Window[0]["borrowed_by"] != "alice" {
		t.Fatalf("window = %v", page.Window[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnrollStockDecreasesPurchase(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectExec(`insert into "lib__stocks"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`update "lib__titles" set to_purchase_amount=greatest\(to_purchase_amount-1,0\)`).
		WithArgs("BN-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select \* from "lib__stocks"`).
		WithArgs("BC-1").
		WillReturnRows(stockExtRow(sqlmock.NewRows(stockExtColumns()), "BC-1", false, "", 0, false))
	mock.ExpectCommit()

	row, err := svc.EnrollStock(context.Background(), librarianActor(), "BN-1", "BC-1", true)
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if row["barcode"] != "BC-1" {
		t.Fatalf("row = %v", row)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnrollStockRewritesConstraintErrors(t *testing.T) {
	cases := []struct {
		code string
		want string
	}{
		{"23503", "not_found"},
		{"23505", "already_exists"},
	}
	for _, tc := range cases {
		svc, mock := newService(t, testConfig())
		mock.ExpectBegin()
		mock.ExpectExec(`insert into "lib__stocks"`).
			WillReturnError(&pgconn.PgError{Code: tc.code})
		mock.ExpectRollback()

		_, err := svc.EnrollStock(context.Background(), librarianActor(), "BN-1", "BC-1", false)
		if apperr.CodeOf(err) != tc.want {
			t.Fatalf("code %s: err = %v", tc.code, err)
		}
	}
}

func TestSetStockDeprecated(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__stocks"`).
		WithArgs("BC-1").
		WillReturnRows(stockExtRow(sqlmock.NewRows(stockExtColumns()), "BC-1", false, "", 0, false))
	mock.ExpectExec(`update "lib__stocks"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	row, err := svc.SetStockDeprecated(context.Background(), librarianActor(), "BC-1", true)
	if err != nil {
		t.Fatalf("deprecate: %v", err)
	}
	if row["deprecated"] != true {
		t.Fatalf("row = %v", row)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCheckStockPublicView(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__stocks"`).
		WithArgs("BC-1").
		WillReturnRows(stockExtRow(sqlmock.NewRows(stockExtColumns()), "BC-1", true, "alice", fixedNow+100, false))
	mock.ExpectCommit()

	check, err := svc.CheckStock(context.Background(), readerActor(), "BC-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !check.Borrowed || !check.BorrowedByYou || check.BorrowedDue != fixedNow+100 {
		t.Fatalf("check = %+v", check)
	}
	if _, ok := check.Stock["stock_notes"]; ok {
		t.Fatalf("notes leaked to public display: %v", check.Stock)
	}
	if _, ok := check.Stock["borrowed_by"]; ok {
		t.Fatalf("loan columns must stay out of the embedded display: %v", check.Stock)
	}
}

func TestCheckStockOtherBorrower(t *testing.T) {
	svc, mock := newService(t, testConfig())

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__stocks"`).
		WithArgs("BC-1").
		WillReturnRows(stockExtRow(sqlmock.NewRows(stockExtColumns()), "BC-1", true, "bob", fixedNow+100, false))
	mock.ExpectCommit()

	check, err := svc.CheckStock(context.Background(), &auth.Actor{}, "BC-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.BorrowedByYou {
		t.Fatalf("anonymous visitor cannot be the borrower")
	}
}
