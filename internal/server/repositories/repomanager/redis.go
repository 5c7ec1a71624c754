package repomanager

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// RedisSessionManager keeps users in the base manager and moves refresh and
// reset tokens to Redis.
type RedisSessionManager struct {
	base    RepositoryManager
	rdb     redis.UniversalClient
	refresh *refreshtokens.RedisRepository
	reset   *resettokens.RedisRepository
}

func NewRedisSessionManager(base RepositoryManager, rdb redis.UniversalClient, prefix string) *RedisSessionManager {
	return &RedisSessionManager{
		base:    base,
		rdb:     rdb,
		refresh: refreshtokens.NewRedisRepository(rdb, prefix),
		reset:   resettokens.NewRedisRepository(rdb, prefix),
	}
}

func (m *RedisSessionManager) RunMigrations(ctx context.Context) error {
	return m.base.RunMigrations(ctx)
}

func (m *RedisSessionManager) Users() users.Repository                 { return m.base.Users() }
func (m *RedisSessionManager) RefreshTokens() refreshtokens.Repository { return m.refresh }
func (m *RedisSessionManager) ResetTokens() resettokens.Repository     { return m.reset }

// PurgeExpired only touches the base backend; Redis keys expire on their own.
func (m *RedisSessionManager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	return m.base.PurgeExpired(ctx, now)
}

func (m *RedisSessionManager) Close() error {
	return errors.Join(m.rdb.Close(), m.base.Close())
}

var _ RepositoryManager = (*RedisSessionManager)(nil)
