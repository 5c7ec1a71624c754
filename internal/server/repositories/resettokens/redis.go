package resettokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// RedisRepository stores one key per reset token and consumes it with
// GETDEL, so concurrent consumers cannot both observe the value.
type RedisRepository struct {
	rdb    redis.UniversalClient
	prefix string
}

type redisEntry struct {
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

func NewRedisRepository(rdb redis.UniversalClient, prefix string) *RedisRepository {
	return &RedisRepository{rdb: rdb, prefix: prefix}
}

func (r *RedisRepository) key(tokenHash string) string {
	return r.prefix + ":rst:" + tokenHash
}

func (r *RedisRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	payload, err := json.Marshal(redisEntry{UserID: userID, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return oops.Code("RESET_TOKEN_CREATE_FAILED").Wrapf(err, "encode reset token")
	}

	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		ttl = time.Second
	}

	ok, err := r.rdb.SetNX(ctx, r.key(tokenHash), payload, ttl).Result()
	if err != nil {
		return oops.Code("RESET_TOKEN_CREATE_FAILED").
			With("operation", "set reset token").
			With("user_id", userID).
			Wrapf(err, "redis error")
	}
	if !ok {
		return common.ErrorAlreadyExists
	}
	return nil
}

func (r *RedisRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	raw, err := r.rdb.GetDel(ctx, r.key(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrorNotFound
		}
		return "", oops.Code("RESET_TOKEN_CONSUME_FAILED").
			With("operation", "getdel reset token").
			Wrapf(err, "redis error")
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", oops.Code("RESET_TOKEN_CONSUME_FAILED").
			With("operation", "decode reset token").
			Wrapf(err, "corrupt entry")
	}
	if entry.ExpiresAt.Before(now) {
		return "", common.ErrorNotFound
	}
	return entry.UserID, nil
}

// DeleteExpired is a no-op: keys carry their own TTL.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ Repository = (*RedisRepository)(nil)
