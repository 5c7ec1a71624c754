package refreshtokens

import (
	"context"
	"time"
)

// Repository stores at most one live refresh token per user. Tokens are
// addressed by their digest, never by the plaintext value.
type Repository interface {
	// Upsert replaces whatever token the user had with tokenHash.
	Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// FindValid returns the owner of tokenHash, or common.ErrorNotFound when
	// the token is unknown, superseded or expired at now.
	FindValid(ctx context.Context, tokenHash string, now time.Time) (string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
