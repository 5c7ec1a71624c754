// Package common defines shared constants and sentinel errors used across
// the authkeeper service layers. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Credential errors. Unknown account and wrong password both map to
	// ErrInvalidCredentials.
	ErrEmailInUse         = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("wrong credentials")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired          = errors.New("token expired")
	ErrInvalidRefreshToken   = errors.New("refresh token is invalid")
	ErrInvalidOrExpiredToken = errors.New("invalid link")

	// ErrIntegrity reports stored state that should be impossible, e.g. a
	// valid reset token owned by a user that no longer exists.
	ErrIntegrity = errors.New("integrity error")
)
