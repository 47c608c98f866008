package entity

// Stock is one physical copy of a title, identified by its barcode.
type Stock struct {
	BookNumber string
	Barcode    string
	Deprecated bool
	StockNotes string

	// Populated from the borrowed-state view on extended reads.
	Borrowed        bool
	BorrowedBy      string
	BorrowedDue     int64
	BorrowedOverdue bool

	// Title is the owning title, attached when the read joined the titles
	// table. It is not a column of the stock row.
	Title *Title

	Extended bool
}

var StockSchema = NewSchema(
	String("book_number", func(s *Stock) *string { return &s.BookNumber }),
	String("barcode", func(s *Stock) *string { return &s.Barcode }),
	Bool("deprecated", func(s *Stock) *bool { return &s.Deprecated }),
	String("stock_notes", func(s *Stock) *string { return &s.StockNotes }).Hidden(HiddenPublic),
	Bool("borrowed", func(s *Stock) *bool { return &s.Borrowed }).DerivedField(),
	String("borrowed_by", func(s *Stock) *string { return &s.BorrowedBy }).DerivedField(),
	Int("borrowed_due", func(s *Stock) *int64 { return &s.BorrowedDue }).DerivedField(),
	Bool("borrowed_overdue", func(s *Stock) *bool { return &s.BorrowedOverdue }).DerivedField(),
)

func (s *Stock) Validate() error {
	if err := checkIdent("book_number", s.BookNumber, 60); err != nil {
		return err
	}
	if err := checkIdent("barcode", s.Barcode, 60); err != nil {
		return err
	}
	return checkMaxLen("notes", s.StockNotes, 65535)
}

func DecodeStock(row Row) (*Stock, error) {
	s := &Stock{}
	if err := StockSchema.Decode(s, row, true); err != nil {
		return nil, err
	}
	return s, nil
}

// DecodeStockExt builds a stock from a row joined with the borrowed-state
// view and the titles table, attaching the nested title.
func DecodeStockExt(row Row) (*Stock, error) {
	s := &Stock{Extended: true}
	if err := StockSchema.Decode(s, row, false); err != nil {
		return nil, err
	}
	t := &Title{}
	if err := TitleSchema.Decode(t, row, false); err != nil {
		return nil, err
	}
	s.Title = t
	return s, nil
}

// DecodeStockExtBase is DecodeStockExt for rows without the borrowed-state
// columns.
func DecodeStockExtBase(row Row) (*Stock, error) {
	s := &Stock{}
	if err := StockSchema.Decode(s, row, false); err != nil {
		return nil, err
	}
	t := &Title{}
	if err := TitleSchema.Decode(t, row, false); err != nil {
		return nil, err
	}
	s.Title = t
	return s, nil
}

// Display renders the stock for an API audience, recursing into the nested
// title under the "$title" key when one is attached.
func (s *Stock) Display(aud Audience) Row {
	row := StockSchema.DisplayMap(s, aud, s.Extended)
	if s.Title != nil {
		row["$title"] = s.Title.Display(aud)
	}
	return row
}

func (s *Stock) StoredMap() Row {
	return StockSchema.StoredMap(s)
}
