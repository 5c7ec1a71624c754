// Package models defines server-side data models persisted by the stores.
package models

import "time"

// User is an identity record. PasswordHash is never the raw password.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
