package auth

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/time/rate"

	"bibliodesk.org/internal/apperr"
	"bibliodesk.org/internal/config"
	"bibliodesk.org/internal/entity"
	"bibliodesk.org/internal/store"
)

func testConfig() *config.Config {
	return &config.Config{
		HashSecret:         "test-secret",
		SessionExpire:      48 * time.Hour,
		CSRFCheck:          true,
		AllowPasswordReset: true,
	}
}

func newService(t *testing.T, opts ...Option) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	svc := NewService(store.NewWithDB(db, "lib"), testConfig(), opts...)
	return svc, mock
}

func userColumns() []string {
	return []string{"username", "password", "email", "display_name", "role", "can_reset", "enabled", "private_key", "public_key"}
}

func addUserRow(rows *sqlmock.Rows, passwordHash string, enabled bool) *sqlmock.Rows {
	en := int64(0)
	if enabled {
		en = 1
	}
	return rows.AddRow("alice", passwordHash, "a@b", "Alice", "reader", int64(1), en, "", "")
}

func TestHashRoundTrip(t *testing.T) {
	h := NewHasher("k")
	stored := h.Hash("hunter2")
	salt, _, ok := strings.Cut(stored, ":")
	if !ok || len(salt) != 32 {
		t.Fatalf("stored form = %q", stored)
	}
	if !h.Verify("hunter2", stored) {
		t.Fatalf("correct password must verify")
	}
	if h.Verify("hunter3", stored) {
		t.Fatalf("wrong password must not verify")
	}
	if h.Verify("hunter2", "no-colon") {
		t.Fatalf("malformed stored hash must not verify")
	}
	if NewHasher("other").Verify("hunter2", stored) {
		t.Fatalf("hash must be bound to the secret")
	}
}

func TestAlphanum(t *testing.T) {
	tok := Alphanum(64)
	if len(tok) != 64 {
		t.Fatalf("length = %d", len(tok))
	}
	for _, r := range tok {
		if !strings.ContainsRune(alphanumCharset, r) {
			t.Fatalf("unexpected rune %q", r)
		}
	}
	if Alphanum(24) == Alphanum(24) {
		t.Fatalf("tokens should not repeat")
	}
}

func TestLoginMintsSession(t *testing.T) {
	svc, mock := newService(t)
	hash := svc.Hasher().Hash("hunter2")

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), hash, true))
	mock.ExpectExec(`insert into "lib__users_session"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	user, sid, secret, err := svc.Login(context.Background(), "alice", "hunter2")
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	if user.Username != "alice" {
		t.Fatalf("user = %+v", user)
	}
	if len(sid) != sessionIDLength || len(secret) != sessionSecretLength {
		t.Fatalf("token lengths = %d/%d", len(sid), len(secret))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, mock := newService(t)
	hash := svc.Hasher().Hash("hunter2")

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), hash, true))
	mock.ExpectRollback()

	_, _, _, err := svc.Login(context.Background(), "alice", "wrong")
	if apperr.CodeOf(err) != "invalid_credentials" {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestLoginRejectsUnknownUser(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows(userColumns()))
	mock.ExpectRollback()

	_, _, _, err := svc.Login(context.Background(), "nobody", "x")
	if apperr.CodeOf(err) != "invalid_credentials" {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestLoginRejectsDisabledUser(t *testing.T) {
	svc, mock := newService(t)
	hash := svc.Hasher().Hash("hunter2")

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), hash, false))
	mock.ExpectRollback()

	_, _, _, err := svc.Login(context.Background(), "alice", "hunter2")
	if apperr.CodeOf(err) != "user_disabled" {
		t.Fatalf("err = %v, want user_disabled", err)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	svc, mock := newService(t, WithLoginRate(rate.Every(time.Hour), 1))

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows(userColumns()))
	mock.ExpectRollback()

	_, _, _, err := svc.Login(context.Background(), "alice", "x")
	if apperr.CodeOf(err) != "invalid_credentials" {
		t.Fatalf("first attempt: %v", err)
	}
	_, _, _, err = svc.Login(context.Background(), "alice", "x")
	if apperr.CodeOf(err) != "too_many_attempts" {
		t.Fatalf("second attempt: %v, want too_many_attempts", err)
	}
}

func TestVerifySessionHappyPath(t *testing.T) {
	svc, mock := newService(t)
	passwordHash := svc.Hasher().Hash("hunter2")
	secretHash := svc.Hasher().Hash("the-secret")

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select \* from "lib__users_session"`).
		WithArgs("sid-1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "session", "secret", "expire"}).
			AddRow("alice", passwordHash, "sid-1", secretHash, int64(9999999999)))
	mock.ExpectExec(`update "lib__users_session" set "expire"`).
		WithArgs(sqlmock.AnyArg(), "sid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), passwordHash, true))
	mock.ExpectCommit()

	user, sid, err := svc.VerifySession(context.Background(), "sid-1", "the-secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user == nil || user.Username != "alice" {
		t.Fatalf("user = %+v", user)
	}
	if sid != "sid-1" {
		t.Fatalf("session = %q", sid)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestVerifySessionRejectsWrongSecret(t *testing.T) {
	svc, mock := newService(t)
	secretHash := svc.Hasher().Hash("the-secret")

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select \* from "lib__users_session"`).
		WithArgs("sid-1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "session", "secret", "expire"}).
			AddRow("alice", "h", "sid-1", secretHash, int64(9999999999)))
	mock.ExpectCommit()

	user, sid, err := svc.VerifySession(context.Background(), "sid-1", "not-the-secret")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user != nil || sid != "" {
		t.Fatalf("wrong secret must yield no session, got %v %q", user, sid)
	}
}

func TestVerifySessionKeepsIdWhenPasswordChanged(t *testing.T) {
	svc, mock := newService(t)
	oldHash := svc.Hasher().Hash("old")
	newHash := svc.Hasher().Hash("new")
	secretHash := svc.Hasher().Hash("sek")

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select \* from "lib__users_session"`).
		WithArgs("sid-1").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "session", "secret", "expire"}).
			AddRow("alice", oldHash, "sid-1", secretHash, int64(9999999999)))
	mock.ExpectExec(`update "lib__users_session" set "expire"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), newHash, true))
	mock.ExpectCommit()

	user, sid, err := svc.VerifySession(context.Background(), "sid-1", "sek")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user != nil {
		t.Fatalf("stale-password session must not resolve a user")
	}
	if sid != "sid-1" {
		t.Fatalf("session id should still be reported for cleanup, got %q", sid)
	}
}

func TestVerifySessionUnknownId(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select \* from "lib__users_session"`).
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "session", "secret", "expire"}))
	mock.ExpectCommit()

	user, sid, err := svc.VerifySession(context.Background(), "ghost", "x")
	if err != nil || user != nil || sid != "" {
		t.Fatalf("got %v %q %v", user, sid, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestLogoutDiscardsSession(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs("sid-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.Logout(context.Background(), "sid-1"); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}

	// An empty id never reaches the database.
	if err := svc.Logout(context.Background(), ""); err != nil {
		t.Fatalf("empty logout: %v", err)
	}
}

func TestLogoutOthersKeepsPresentSession(t *testing.T) {
	svc, mock := newService(t)

	mock.ExpectBegin()
	mock.ExpectExec(`delete from "lib__users_session" where \("username"=\$1\) and \("session"<>\$2\)`).
		WithArgs("alice", "sid-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := svc.LogoutOthers(context.Background(), "alice", "sid-1"); err != nil {
		t.Fatalf("logout others: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCheckCSRF(t *testing.T) {
	svc, _ := newService(t)

	if !svc.CheckCSRF("sid", "", false) {
		t.Fatalf("bodyless requests pass")
	}
	if svc.CheckCSRF("sid", "other", true) {
		t.Fatalf("mismatched body session must fail")
	}
	if !svc.CheckCSRF("sid", "sid", true) {
		t.Fatalf("matching body session must pass")
	}

	svc.cfg.CSRFCheck = false
	if !svc.CheckCSRF("sid", "other", true) {
		t.Fatalf("disabled check must pass everything")
	}
}

func TestActorRoleMatrix(t *testing.T) {
	actorOf := func(r entity.Role) *Actor {
		return &Actor{User: &entity.User{Username: "u", Role: r}}
	}

	cases := []struct {
		role  entity.Role
		books bool
		users bool
		may   []entity.Role
	}{
		{entity.RoleRoot, true, true, []entity.Role{entity.RoleAdmin, entity.RoleLibrarian, entity.RoleReader}},
		{entity.RoleAdmin, true, true, []entity.Role{entity.RoleLibrarian, entity.RoleReader}},
		{entity.RoleLibrarian, true, false, nil},
		{entity.RoleReader, false, false, nil},
	}
	for _, tc := range cases {
		a := actorOf(tc.role)
		if a.CanManageBooks() != tc.books {
			t.Fatalf("%s: CanManageBooks = %v", tc.role, !tc.books)
		}
		if (a.CheckCanManageUsers() == nil) != tc.users {
			t.Fatalf("%s: CheckCanManageUsers = %v", tc.role, a.CheckCanManageUsers())
		}
		got := a.ManipulableRoles()
		if len(got) != len(tc.may) {
			t.Fatalf("%s: ManipulableRoles = %v, want %v", tc.role, got, tc.may)
		}
		for i := range got {
			if got[i] != tc.may[i] {
				t.Fatalf("%s: ManipulableRoles = %v, want %v", tc.role, got, tc.may)
			}
		}
	}

	admin := actorOf(entity.RoleAdmin)
	if err := admin.CheckCanManipulateRole(entity.RoleAdmin); apperr.CodeOf(err) != "improper_role" {
		t.Fatalf("admin on admin: %v, want improper_role", err)
	}
	if err := admin.CheckCanManipulateRole(entity.RoleRoot); apperr.CodeOf(err) != "improper_role" {
		t.Fatalf("admin on root: %v, want improper_role", err)
	}
	if err := admin.CheckCanManipulateRole(entity.RoleReader); err != nil {
		t.Fatalf("admin on reader: %v", err)
	}

	anon := &Actor{}
	if err := anon.CheckLoggedIn(); apperr.CodeOf(err) != "login_required" {
		t.Fatalf("anonymous: %v, want login_required", err)
	}
	if err := anon.CheckCanManageBooks(); apperr.CodeOf(err) != "login_required" {
		t.Fatalf("anonymous books: %v, want login_required", err)
	}
}

func TestCompleteResetInstallsNewPassword(t *testing.T) {
	svc, mock := newService(t)
	oldHash := svc.Hasher().Hash("old-password")

	now := time.Now()
	claims := resetClaims{
		Secret: "one-time",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig().HashSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users_password_reset"`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "secret"}).
			AddRow("alice", oldHash, svc.Hasher().Hash("one-time")))
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), oldHash, true))
	mock.ExpectExec(`update "lib__users" set "password"`).
		WithArgs(sqlmock.AnyArg(), "alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from "lib__users_password_reset"`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from "lib__users_session"`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := svc.CompleteReset(context.Background(), token, "new-password"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCompleteResetRejectsStalePassword(t *testing.T) {
	svc, mock := newService(t)

	now := time.Now()
	claims := resetClaims{
		Secret: "one-time",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(resetTokenTTL)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testConfig().HashSecret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users_password_reset"`).
		WithArgs("alice").
		WillReturnRows(sqlmock.NewRows([]string{"username", "password", "secret"}).
			AddRow("alice", "hash-at-issue-time", svc.Hasher().Hash("one-time")))
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), svc.Hasher().Hash("changed-since"), true))
	mock.ExpectRollback()

	err = svc.CompleteReset(context.Background(), token, "new-password")
	if apperr.CodeOf(err) != "invalid_credentials" {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestCompleteResetRejectsForgedToken(t *testing.T) {
	svc, _ := newService(t)

	claims := resetClaims{
		Secret: "one-time",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "alice",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(resetTokenTTL)),
		},
	}
	forged, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if err := svc.CompleteReset(context.Background(), forged, "x"); apperr.CodeOf(err) != "invalid_credentials" {
		t.Fatalf("err = %v, want invalid_credentials", err)
	}
}

func TestStartResetIssuesParsableToken(t *testing.T) {
	svc, mock := newService(t)
	hash := svc.Hasher().Hash("pw")

	mock.ExpectBegin()
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(addUserRow(sqlmock.NewRows(userColumns()), hash, true))
	mock.ExpectExec(`delete from "lib__users_password_reset"`).
		WithArgs("alice").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`insert into "lib__users_password_reset"`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	token, err := svc.StartReset(context.Background(), "alice")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	claims := &resetClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(testConfig().HashSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		t.Fatalf("token must parse: %v", err)
	}
	if claims.Subject != "alice" || claims.Secret == "" {
		t.Fatalf("claims = %+v", claims)
	}
}

func TestStartResetRequiresOptIn(t *testing.T) {
	svc, mock := newService(t)
	hash := svc.Hasher().Hash("pw")

	mock.ExpectBegin()
	rows := sqlmock.NewRows(userColumns()).
		AddRow("alice", hash, "a@b", "Alice", "reader", int64(0), int64(1), "", "")
	mock.ExpectQuery(`select \* from "lib__users"`).
		WithArgs("alice").
		WillReturnRows(rows)
	mock.ExpectRollback()

	_, err := svc.StartReset(context.Background(), "alice")
	if apperr.CodeOf(err) != "permission_denied" {
		t.Fatalf("err = %v, want permission_denied", err)
	}
}
