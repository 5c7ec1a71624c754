package models

import "time"

// RefreshToken is the single live session grant of a user. TokenHash is the
// digest of the opaque value handed to the client.
type RefreshToken struct {
	UserID    string
	TokenHash string
	ExpiresAt time.Time
	UpdatedAt time.Time
}
