package store

import (
	"strings"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/sqlbuild"
	"bibliodesk.org/internal/table"
)

// maxVarcharLength matches the varchar(250) columns the migrations create.
const maxVarcharLength = 250

// varcharColumns lists, per base table, the columns with a DDL length cap.
// Unbounded text columns are only limited by entity validation.
var varcharColumns = map[table.Name][]string{
	table.Users:              {"username", "password"},
	table.UsersSession:       {"username", "password", "session", "secret"},
	table.UsersPasswordReset: {"username", "password", "secret"},
	table.Titles:             {"book_number"},
	table.Stocks:             {"book_number", "barcode"},
	table.Borrows:            {"uuid", "barcode", "username"},
}

// checkTextLengths rejects an insert or update whose assignment values would
// overflow a varchar column, before the statement ever reaches the driver.
func checkTextLengths(st sqlbuild.Statement) error {
	if st.Table == "" || len(st.Assign) == 0 {
		return nil
	}
	base := st.Table
	if i := strings.LastIndex(base, "__"); i >= 0 {
		base = base[i+2:]
	}
	for _, col := range varcharColumns[table.Name(base)] {
		if v, ok := st.Assign[col].(string); ok && len(v) > maxVarcharLength {
			return apperr.FieldTooLong(col, maxVarcharLength)
		}
	}
	return nil
}
