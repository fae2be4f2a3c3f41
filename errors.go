package accounts

import (
	"github.com/goliatone/go-errors"
)

// ErrTokenNotFound covers both tokens that never existed and tokens past
// their window. The two cases are deliberately indistinguishable.
var ErrTokenNotFound = errors.New("verification token not found", errors.CategoryNotFound).
	WithTextCode("TOKEN_NOT_FOUND")

// ErrInvalidCredentials is the single rejection for sign-in: unknown
// identifier, missing hash, inactive account, and wrong password all
// look the same to the caller.
var ErrInvalidCredentials = errors.New("invalid credentials", errors.CategoryAuth).
	WithTextCode("INVALID_CREDENTIALS")

// ErrUnauthorized means no usable session accompanied the request
var ErrUnauthorized = errors.New("authentication required", errors.CategoryAuth).
	WithTextCode("UNAUTHORIZED")

// ErrForbidden means the caller is authenticated but the action is not
// theirs to take
var ErrForbidden = errors.New("forbidden", errors.CategoryAuthz).
	WithTextCode("FORBIDDEN")

// ErrEmailTaken reports an email uniqueness conflict
var ErrEmailTaken = errors.New("email already exists", errors.CategoryConflict).
	WithTextCode("EMAIL_TAKEN")

// ErrUsernameTaken reports a username uniqueness conflict
var ErrUsernameTaken = errors.New("username already exists", errors.CategoryConflict).
	WithTextCode("USERNAME_TAKEN")

// ErrPasswordInsufficient rejects passwords scoring at or below
// MinPasswordScore-1 on the zxcvbn scale
var ErrPasswordInsufficient = errors.New("password insufficient", errors.CategoryValidation).
	WithTextCode("PASSWORD_INSUFFICIENT")

// ErrPasswordMismatched rejects a confirmation that differs from the new
// password
var ErrPasswordMismatched = errors.New("password mismatched", errors.CategoryValidation).
	WithTextCode("PASSWORD_MISMATCHED")

// ErrMismatchedHashAndPassword is the fail-closed verification result.
// Malformed or empty hashes map here as well, never to a panic.
var ErrMismatchedHashAndPassword = errors.New("password does not match", errors.CategoryAuth).
	WithTextCode("PASSWORD_MISMATCH")

// ErrNoEmptyString guards hashing of empty input
var ErrNoEmptyString = errors.New("value must not be empty", errors.CategoryBadInput)
