package repomanager

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// InMemoryRepositoryManager keeps everything in process memory. It is used by
// tests and by single-node development setups.
type InMemoryRepositoryManager struct {
	users   *users.MemoryRepository
	refresh *refreshtokens.MemoryRepository
	reset   *resettokens.MemoryRepository
}

func NewInMemoryRepositoryManager() *InMemoryRepositoryManager {
	return &InMemoryRepositoryManager{
		users:   users.NewMemoryRepository(),
		refresh: refreshtokens.NewMemoryRepository(),
		reset:   resettokens.NewMemoryRepository(),
	}
}

func (m *InMemoryRepositoryManager) RunMigrations(context.Context) error { return nil }

func (m *InMemoryRepositoryManager) Users() users.Repository                 { return m.users }
func (m *InMemoryRepositoryManager) RefreshTokens() refreshtokens.Repository { return m.refresh }
func (m *InMemoryRepositoryManager) ResetTokens() resettokens.Repository     { return m.reset }

func (m *InMemoryRepositoryManager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	a, err := m.refresh.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	b, err := m.reset.DeleteExpired(ctx, now)
	if err != nil {
		return 0, err
	}
	return a + b, nil
}

func (m *InMemoryRepositoryManager) Close() error { return nil }

var _ RepositoryManager = (*InMemoryRepositoryManager)(nil)
