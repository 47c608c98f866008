package entity

import "bibliodesk.org/internal/apperr"

// Role is a user's position in the management hierarchy.
type Role string

const (
	RoleRoot      Role = "root"
	RoleAdmin     Role = "admin"
	RoleLibrarian Role = "librarian"
	RoleReader    Role = "reader"
)

// Roles lists every valid role.
var Roles = []Role{RoleRoot, RoleAdmin, RoleLibrarian, RoleReader}

// ValidRole reports whether r is a known role value.
func ValidRole(r Role) bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// User is a registered account. Password holds the salted hash, never the
// clear text. The key pair supports end-to-end encrypted notes and is opaque
// to the server.
type User struct {
	Username    string
	Password    string
	Email       string
	DisplayName string
	Role        Role
	CanReset    bool
	Enabled     bool
	PrivateKey  string
	PublicKey   string

	// Populated from the user stats view on extended reads.
	Borrows        int64
	ActiveBorrows  int64
	OverdueRecords int64

	// Extended marks instances decoded from a stats-joined row.
	Extended bool
}

var UserSchema = NewSchema(
	String("username", func(u *User) *string { return &u.Username }),
	String("password", func(u *User) *string { return &u.Password }).Hidden(HiddenAlways),
	String("email", func(u *User) *string { return &u.Email }),
	String("display_name", func(u *User) *string { return &u.DisplayName }),
	Field[User]{
		Name: "role",
		Kind: KindString,
		Get:  func(u *User) any { return string(u.Role) },
		Set:  func(u *User, v any) { u.Role = Role(v.(string)) },
	},
	Bool("can_reset", func(u *User) *bool { return &u.CanReset }),
	Bool("enabled", func(u *User) *bool { return &u.Enabled }),
	String("private_key", func(u *User) *string { return &u.PrivateKey }).Hidden(HiddenPublic),
	String("public_key", func(u *User) *string { return &u.PublicKey }).Hidden(HiddenPublic),
	Int("borrows", func(u *User) *int64 { return &u.Borrows }).DerivedField(),
	Int("active_borrows", func(u *User) *int64 { return &u.ActiveBorrows }).DerivedField(),
	Int("overdue_records", func(u *User) *int64 { return &u.OverdueRecords }).DerivedField(),
)

func (u *User) Validate() error {
	if err := checkIdent("username", u.Username, 30); err != nil {
		return err
	}
	if err := checkEmail("email", u.Email); err != nil {
		return err
	}
	if err := checkMaxLen("display_name", u.DisplayName, 30); err != nil {
		return err
	}
	if !ValidRole(u.Role) {
		return apperr.FieldInvalid("role", string(u.Role))
	}
	if err := checkMaxLen("private_key", u.PrivateKey, 65535); err != nil {
		return err
	}
	return checkMaxLen("public_key", u.PublicKey, 65535)
}

// DecodeUser builds a user from a plain row. Plain rows carry exactly the
// base-table columns, so a stray key means schema drift and is rejected.
func DecodeUser(row Row) (*User, error) {
	u := &User{}
	if err := UserSchema.Decode(u, row, true); err != nil {
		return nil, err
	}
	return u, nil
}

// DecodeUserExt builds a user from a stats-joined row, keeping the derived
// borrow counters.
func DecodeUserExt(row Row) (*User, error) {
	u := &User{Extended: true}
	if err := UserSchema.Decode(u, row, false); err != nil {
		return nil, err
	}
	return u, nil
}

// Display renders the user for an API audience.
func (u *User) Display(aud Audience) Row {
	return UserSchema.DisplayMap(u, aud, u.Extended)
}

// StoredMap renders the persisted row of the user.
func (u *User) StoredMap() Row {
	return UserSchema.StoredMap(u)
}
