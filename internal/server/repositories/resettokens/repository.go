// Package resettokens stores single-use password reset tokens.
package resettokens

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error
	// Consume deletes the token and returns its owner in one atomic step.
	// A second Consume of the same token, or one after expiry, returns
	// common.ErrorNotFound.
	Consume(ctx context.Context, tokenHash string, now time.Time) (string, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
