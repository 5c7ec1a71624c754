// Package users declares the credential store: persistence of user records
// keyed by id and by unique email.
package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository is the credential store contract.
type Repository interface {
	// Create inserts user and returns it with ID and timestamps filled in.
	// A duplicate email yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	// FindByEmail returns common.ErrorNotFound when no user has the email.
	FindByEmail(ctx context.Context, email string) (*models.User, error)

	// FindByID returns common.ErrorNotFound when the id is unknown.
	FindByID(ctx context.Context, id string) (*models.User, error)

	// UpdatePasswordHash replaces the stored hash. Unknown ids yield
	// common.ErrorNotFound.
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}
