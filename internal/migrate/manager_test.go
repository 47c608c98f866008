package migrate

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/store"
)

func newManager(t *testing.T) (*Manager, sqlmock.Sqlmock, *bytes.Buffer) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	out := &bytes.Buffer{}
	m := NewManager(store.NewWithDB(db, "lib"), auth.NewHasher("secret"), WithOutput(out))
	return m, mock, out
}

func expectDataver(mock sqlmock.Sqlmock, stored int) {
	mock.ExpectQuery("select to_regclass").
		WithArgs("lib__dataver_journal").
		WillReturnRows(sqlmock.NewRows([]string{"journal"}).AddRow("lib__dataver_journal"))
	mock.ExpectQuery(`select max\(dataver\)`).
		WillReturnRows(sqlmock.NewRows([]string{"dataver"}).AddRow(int64(stored)))
}

func TestUpIsANoOpWhenCurrent(t *testing.T) {
	m, mock, _ := newManager(t)
	expectDataver(mock, TargetDataver)

	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpRefusesNewerDatabase(t *testing.T) {
	m, mock, _ := newManager(t)
	expectDataver(mock, TargetDataver+1)

	err := m.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "newer than this build") {
		t.Fatalf("err = %v, want version refusal", err)
	}
}

func TestUpAppliesEveryStepOnFreshDatabase(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectQuery("select to_regclass").
		WithArgs("lib__dataver_journal").
		WillReturnRows(sqlmock.NewRows([]string{"journal"}).AddRow(nil))

	// Version 1: every base table plus the journal record.
	mock.ExpectBegin()
	for i := 0; i < 7; i++ {
		mock.ExpectExec("create table").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectExec(`insert into "lib__dataver_journal"`).WithArgs(1).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	// Versions 2-4: views.
	mock.ExpectBegin()
	mock.ExpectExec("create view").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("create view").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into "lib__dataver_journal"`).WithArgs(2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("create view").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into "lib__dataver_journal"`).WithArgs(3).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("create view").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into "lib__dataver_journal"`).WithArgs(4).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := m.Up(context.Background()); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpStopsWhenAStepFails(t *testing.T) {
	m, mock, _ := newManager(t)

	expectDataver(mock, 3)
	mock.ExpectBegin()
	mock.ExpectExec("create view").WillReturnError(context.DeadlineExceeded)
	mock.ExpectRollback()

	err := m.Up(context.Background())
	if err == nil || !strings.Contains(err.Error(), "migrate to version 4") {
		t.Fatalf("err = %v, want step failure", err)
	}
}

func TestEnsureRootCreatesAndPrintsPassword(t *testing.T) {
	m, mock, out := newManager(t)

	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"username"}))
	mock.ExpectExec(`insert into "lib__users"`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	if !strings.Contains(out.String(), "Root user created") {
		t.Fatalf("password banner missing: %q", out.String())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureRootKeepsExistingRoot(t *testing.T) {
	m, mock, out := newManager(t)

	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("root").
		WillReturnRows(sqlmock.NewRows([]string{"username"}).AddRow("root"))

	if err := m.EnsureRoot(context.Background()); err != nil {
		t.Fatalf("ensure root: %v", err)
	}
	if out.Len() != 0 {
		t.Fatalf("no output expected, got %q", out.String())
	}
}
