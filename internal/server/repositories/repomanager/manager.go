package repomanager

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// RepositoryManager vends the credential and session stores of one backend.
type RepositoryManager interface {
	RunMigrations(ctx context.Context) error
	Users() users.Repository
	RefreshTokens() refreshtokens.Repository
	ResetTokens() resettokens.Repository
	// PurgeExpired removes refresh and reset tokens that expired before now
	// and reports how many were deleted.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
	Close() error
}
