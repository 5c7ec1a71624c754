package models

import "time"

// ResetToken is one pending password-reset request. A user may have several.
type ResetToken struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
