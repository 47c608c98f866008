package entity

// Title is a catalogued book title. Prices are stored in milliunits to keep
// arithmetic integral. The purchase amount is management-only information.
type Title struct {
	BookNumber       string
	Title            string
	Author           string
	Publisher        string
	Year             int64
	Place            string
	URL              string
	PriceMilliunit   int64
	Description      string
	ToPurchaseAmount int64

	// Populated from the title stats view on extended reads.
	Total                 int64
	Borrowed              int64
	Deprecated            int64
	DeprecatedAndBorrowed int64

	Extended bool
}

var TitleSchema = NewSchema(
	String("book_number", func(t *Title) *string { return &t.BookNumber }),
	String("title", func(t *Title) *string { return &t.Title }),
	String("author", func(t *Title) *string { return &t.Author }),
	String("publisher", func(t *Title) *string { return &t.Publisher }),
	Int("year", func(t *Title) *int64 { return &t.Year }),
	String("place", func(t *Title) *string { return &t.Place }),
	String("url", func(t *Title) *string { return &t.URL }),
	Int("price_milliunit", func(t *Title) *int64 { return &t.PriceMilliunit }),
	String("description", func(t *Title) *string { return &t.Description }),
	Int("to_purchase_amount", func(t *Title) *int64 { return &t.ToPurchaseAmount }).Hidden(HiddenPublic),
	Int("total", func(t *Title) *int64 { return &t.Total }).DerivedField(),
	Int("borrowed", func(t *Title) *int64 { return &t.Borrowed }).DerivedField(),
	Int("deprecated", func(t *Title) *int64 { return &t.Deprecated }).DerivedField(),
	Int("deprecated_and_borrowed", func(t *Title) *int64 { return &t.DeprecatedAndBorrowed }).DerivedField(),
)

func (t *Title) Validate() error {
	if err := checkIdent("book_number", t.BookNumber, 60); err != nil {
		return err
	}
	if err := checkMaxLen("title", t.Title, 2048); err != nil {
		return err
	}
	if err := checkMaxLen("author", t.Author, 2048); err != nil {
		return err
	}
	if err := checkMaxLen("publisher", t.Publisher, 2048); err != nil {
		return err
	}
	if err := checkMaxLen("place", t.Place, 2048); err != nil {
		return err
	}
	if err := checkMaxLen("url", t.URL, 2048); err != nil {
		return err
	}
	if err := checkMaxLen("description", t.Description, 65535); err != nil {
		return err
	}
	return checkNonNegative("to_purchase_amount", t.ToPurchaseAmount)
}

// NormalUnborrowed counts copies that are neither deprecated nor out on loan.
func (t *Title) NormalUnborrowed() int64 {
	return t.Total - t.Borrowed - t.Deprecated + t.DeprecatedAndBorrowed
}

// Normal counts copies that are not deprecated.
func (t *Title) Normal() int64 {
	return t.Total - t.Deprecated
}

func DecodeTitle(row Row) (*Title, error) {
	t := &Title{}
	if err := TitleSchema.Decode(t, row, true); err != nil {
		return nil, err
	}
	return t, nil
}

func DecodeTitleExt(row Row) (*Title, error) {
	t := &Title{Extended: true}
	if err := TitleSchema.Decode(t, row, false); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Title) Display(aud Audience) Row {
	return TitleSchema.DisplayMap(t, aud, t.Extended)
}

func (t *Title) StoredMap() Row {
	return TitleSchema.StoredMap(t)
}
