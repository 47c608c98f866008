package entity

// Borrow is one lending record. Records are kept after return for history;
// Returned plus ReturnTime distinguish active loans from past ones.
type Borrow struct {
	UUID        string
	Barcode     string
	Username    string
	BorrowTime  int64
	DueTime     int64
	Returned    bool
	ReturnTime  int64
	BorrowNotes string

	// Populated from the overdue view on extended reads.
	Overdue bool

	// Stock is the borrowed copy, attached when the read joined the stocks
	// table.
	Stock *Stock

	Extended bool
}

var BorrowSchema = NewSchema(
	String("uuid", func(b *Borrow) *string { return &b.UUID }),
	String("barcode", func(b *Borrow) *string { return &b.Barcode }),
	String("username", func(b *Borrow) *string { return &b.Username }),
	Int("borrow_time", func(b *Borrow) *int64 { return &b.BorrowTime }),
	Int("due_time", func(b *Borrow) *int64 { return &b.DueTime }),
	Bool("returned", func(b *Borrow) *bool { return &b.Returned }),
	Int("return_time", func(b *Borrow) *int64 { return &b.ReturnTime }),
	String("borrow_notes", func(b *Borrow) *string { return &b.BorrowNotes }).Hidden(HiddenPublic),
	Bool("overdue", func(b *Borrow) *bool { return &b.Overdue }).DerivedField(),
)

func (b *Borrow) Validate() error {
	if err := checkUUID("uuid", b.UUID); err != nil {
		return err
	}
	if err := checkIdent("barcode", b.Barcode, 60); err != nil {
		return err
	}
	if err := checkIdent("username", b.Username, 30); err != nil {
		return err
	}
	return checkMaxLen("borrow_notes", b.BorrowNotes, 65535)
}

func DecodeBorrow(row Row) (*Borrow, error) {
	b := &Borrow{}
	if err := BorrowSchema.Decode(b, row, true); err != nil {
		return nil, err
	}
	return b, nil
}

// DecodeBorrowExt builds a borrow from a row joined with the overdue view,
// the stocks table, the borrowed-state view and the titles table, attaching
// the nested stock with its nested title.
func DecodeBorrowExt(row Row) (*Borrow, error) {
	b := &Borrow{Extended: true}
	if err := BorrowSchema.Decode(b, row, false); err != nil {
		return nil, err
	}
	st, err := DecodeStockExt(row)
	if err != nil {
		return nil, err
	}
	b.Stock = st
	return b, nil
}

// Display renders the borrow for an API audience, recursing into the nested
// stock under the "$stock" key when one is attached.
func (b *Borrow) Display(aud Audience) Row {
	row := BorrowSchema.DisplayMap(b, aud, b.Extended)
	if b.Stock != nil {
		row["$stock"] = b.Stock.Display(aud)
	}
	return row
}

func (b *Borrow) StoredMap() Row {
	return BorrowSchema.StoredMap(b)
}
