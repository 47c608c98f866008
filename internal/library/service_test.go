package library

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"bibliodesk.org/internal/auth"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/store"
)

const fixedNow = int64(1700000000)

func testConfig() *config.Config {
	return &config.Config{
		HashSecret:     "test-secret",
		MaxBorrowTime:  14 * 24 * time.Hour,
		MaxBorrowCount: 2,
	}
}

func newService(t *testing.T, cfg *config.Config) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc := NewService(store.NewWithDB(db, "lib"), cfg, auth.NewHasher(cfg.HashSecret),
		WithClock(func() time.Time { return time.Unix(fixedNow, 0) }))
	return svc, mock
}

func actorWithRole(username string, role entity.Role) *auth.Actor {
	return &auth.Actor{
		User: &entity.User{
			Username:    username,
			Email:       username + "@example.org",
			DisplayName: username,
			Role:        role,
			Enabled:     true,
		},
		SessionID: "sessionsessionsessionses",
	}
}

func readerActor() *auth.Actor    { return actorWithRole("alice", entity.RoleReader) }
func librarianActor() *auth.Actor { return actorWithRole("lidia", entity.RoleLibrarian) }
func adminActor() *auth.Actor     { return actorWithRole("adam", entity.RoleAdmin) }

func titleExtColumns() []string {
	return []string{
		"book_number", "title", "author", "publisher", "year", "place", "url",
		"price_milliunit", "description", "to_purchase_amount",
		"total", "borrowed", "deprecated", "deprecated_and_borrowed",
	}
}

func titleExtRow(rows *sqlmock.Rows, bookNumber string) *sqlmock.Rows {
	return rows.AddRow(bookNumber, "A Book", "An Author", "A House", int64(2020), "A1", "",
		int64(19990), "", int64(1), int64(3), int64(1), int64(0), int64(0))
}

func stockExtColumns() []string {
	return []string{
		"book_number", "barcode", "deprecated", "stock_notes",
		"borrowed", "borrowed_by", "borrowed_due", "borrowed_overdue",
		"title", "author", "publisher", "year", "place", "url",
		"price_milliunit", "description", "to_purchase_amount",
	}
}

func stockExtRow(rows *sqlmock.Rows, barcode string, borrowed bool, borrowedBy string, due int64, deprecated bool) *sqlmock.Rows {
	b, d := int64(0), int64(0)
	if borrowed {
		b = 1
	}
	if deprecated {
		d = 1
	}
	return rows.AddRow("BN-1", barcode, d, "shelf note", b, borrowedBy, due, int64(0),
		"A Book", "An Author", "A House", int64(2020), "A1", "", int64(19990), "", int64(1))
}

// The join sources collapse their key columns through "using", so each
// column appears once in the combined row.
func borrowExtColumns() []string {
	return []string{
		"uuid", "barcode", "username", "borrow_time", "due_time",
		"returned", "return_time", "borrow_notes", "overdue",
		"book_number", "deprecated", "stock_notes",
		"borrowed", "borrowed_by", "borrowed_due", "borrowed_overdue",
		"title", "author", "publisher", "year", "place", "url",
		"price_milliunit", "description", "to_purchase_amount",
	}
}

const testUUID = "123e4567-e89b-12d3-a456-426614174000"

func borrowExtRow(rows *sqlmock.Rows, username string, dueTime int64, returned bool) *sqlmock.Rows {
	r := int64(0)
	if returned {
		r = 1
	}
	return rows.AddRow(testUUID, "BC-1", username, dueTime-1000, dueTime, r, int64(0), "", int64(0),
		"BN-1", int64(0), "shelf note", int64(1), username, dueTime, int64(0),
		"A Book", "An Author", "A House", int64(2020), "A1", "", int64(19990), "", int64(1))
}

func userExtColumns() []string {
	return []string{
		"username", "password", "email", "display_name", "role", "can_reset", "enabled",
		"private_key", "public_key", "borrows", "active_borrows", "overdue_records",
	}
}

func userExtRow(rows *sqlmock.Rows, username string, role entity.Role, activeBorrows int64) *sqlmock.Rows {
	return rows.AddRow(username, "salt:hash", username+"@example.org", username, string(role),
		int64(1), int64(1), "", "", activeBorrows, activeBorrows, int64(0))
}
