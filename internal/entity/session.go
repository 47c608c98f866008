package entity

// UserSession is an issued login session. Password is a copy of the user's
// password hash at login time; a later password change invalidates the
// session through the mismatch. Secret never leaves the server except inside
// the session cookie pair.
type UserSession struct {
	Username string
	Password string
	Session  string
	Secret   string
	Expire   int64
}

var UserSessionSchema = NewSchema(
	String("username", func(s *UserSession) *string { return &s.Username }),
	String("password", func(s *UserSession) *string { return &s.Password }).Hidden(HiddenAlways),
	String("session", func(s *UserSession) *string { return &s.Session }),
	String("secret", func(s *UserSession) *string { return &s.Secret }).Hidden(HiddenAlways),
	Int("expire", func(s *UserSession) *int64 { return &s.Expire }),
)

func (s *UserSession) Validate() error {
	if err := checkIdent("username", s.Username, 30); err != nil {
		return err
	}
	return checkMaxLen("session", s.Session, 250)
}

func DecodeUserSession(row Row) (*UserSession, error) {
	s := &UserSession{}
	if err := UserSessionSchema.Decode(s, row, true); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *UserSession) StoredMap() Row {
	return UserSessionSchema.StoredMap(s)
}

// PasswordReset is a pending password reset. Password is a copy of the hash
// at issue time so a concurrent password change voids the reset; Secret is
// the hash of the one-time token mailed to the user.
type PasswordReset struct {
	Username string
	Password string
	Secret   string
}

var PasswordResetSchema = NewSchema(
	String("username", func(r *PasswordReset) *string { return &r.Username }),
	String("password", func(r *PasswordReset) *string { return &r.Password }).Hidden(HiddenAlways),
	String("secret", func(r *PasswordReset) *string { return &r.Secret }).Hidden(HiddenAlways),
)

func (r *PasswordReset) Validate() error {
	return checkIdent("username", r.Username, 30)
}

func DecodePasswordReset(row Row) (*PasswordReset, error) {
	r := &PasswordReset{}
	if err := PasswordResetSchema.Decode(r, row, true); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *PasswordReset) StoredMap() Row {
	return PasswordResetSchema.StoredMap(r)
}
