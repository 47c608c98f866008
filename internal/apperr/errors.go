// Package apperr defines the user-caused error taxonomy shared by the data
// access core and the routing layer. Every error carries a stable string code
// plus the positional arguments a client needs to render its own message, so
// the boundary can distinguish "safe to show" failures from opaque internal
// ones.
package apperr

import (
	"errors"
	"fmt"
)

// Error is a user-caused failure.
type Error struct {
	Code string
	Args []any
	text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.text)
}

func newError(code, text string, args ...any) *Error {
	return &Error{Code: code, Args: args, text: text}
}

// IsUserCaused reports whether err (or anything it wraps) is a user-caused
// error that may be shown to the caller verbatim.
func IsUserCaused(err error) bool {
	var ue *Error
	return errors.As(err, &ue)
}

// CodeOf returns the stable code of a user-caused error, or "" for opaque
// failures.
func CodeOf(err error) string {
	var ue *Error
	if errors.As(err, &ue) {
		return ue.Code
	}
	return ""
}

func FieldInvalid(field string, value any) *Error {
	return newError("field_invalid", fmt.Sprintf("the field %q has failed validation", field), field, value)
}

func FieldTooLong(field string, limit int) *Error {
	return newError("field_too_long", fmt.Sprintf("the field %q exceeds %d characters", field, limit), field, limit)
}

func NotFound(id string) *Error {
	return newError("not_found", fmt.Sprintf("the entity %q is not found", id), id)
}

func AlreadyExists(id string) *Error {
	return newError("already_exists", fmt.Sprintf("the entity %q already exists", id), id)
}

func InvalidCredentials() *Error {
	return newError("invalid_credentials", "the username or password is incorrect")
}

func TooManyAttempts() *Error {
	return newError("too_many_attempts", "too many login attempts, try again later")
}

func UserDisabled(username string) *Error {
	return newError("user_disabled", fmt.Sprintf("the user %q is disabled", username), username)
}

func LoginRequired() *Error {
	return newError("login_required", "this operation requires logging in")
}

func PermissionDenied() *Error {
	return newError("permission_denied", "this operation is not permitted for the current user")
}

func ImproperRole(actorRole, targetRole string) *Error {
	return newError("improper_role",
		fmt.Sprintf("current role %s cannot manipulate role %s", actorRole, targetRole),
		actorRole, targetRole)
}

func OldPasswordRequired(field string) *Error {
	return newError("old_password_required",
		fmt.Sprintf("changing %q requires the correct current password", field), field)
}

func BadSorting(key string) *Error {
	return newError("bad_sorting", fmt.Sprintf("cannot sort by %q", key), key)
}

func AlreadyBorrowed(barcode string) *Error {
	return newError("already_borrowed", fmt.Sprintf("the stock %q is already borrowed", barcode), barcode)
}

func AlreadyOverdue(barcode string, dueTime int64) *Error {
	return newError("already_overdue",
		fmt.Sprintf("the borrow of %q is overdue and cannot be renewed", barcode), barcode, dueTime)
}

func MaxBorrowReached() *Error {
	return newError("max_borrow_reached", "the maximum number of concurrent borrows is reached")
}

func NotBorrowedByYou(barcode string) *Error {
	return newError("not_borrowed_by_you", fmt.Sprintf("the stock %q is not borrowed by this user", barcode), barcode)
}

func StockDeprecated(barcode string) *Error {
	return newError("stock_deprecated", fmt.Sprintf("the stock %q is deprecated", barcode), barcode)
}

func NotOnLibraryTerminal() *Error {
	return newError("not_on_library_terminal", "self-service borrowing is only available on a library terminal")
}
