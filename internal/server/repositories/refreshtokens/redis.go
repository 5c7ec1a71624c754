package refreshtokens

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/common"
)

// RedisRepository keeps two keys per user: one pointing from the user to
// the digest of the current token, and one per digest holding the owner and
// expiry. A digest is valid only while the user key still points at it.
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

func (r *RedisRepository) userKey(userID string) string {
	return r.prefix + ":rt:user:" + userID
}

func (r *RedisRepository) tokenKey(tokenHash string) string {
	return r.prefix + ":rt:tok:" + tokenHash
}

// keyTTL never returns a non-positive duration; expiry itself is checked
// against the stored payload.
func keyTTL(expiresAt time.Time) time.Duration {
	ttl := time.Until(expiresAt)
	if ttl < time.Second {
		return time.Second
	}
	return ttl
}

func (r *RedisRepository) Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	payload, err := json.Marshal(redisEntry{UserID: userID, ExpiresAt: expiresAt.UTC()})
	if err != nil {
		return oops.Code("REFRESH_TOKEN_UPSERT_FAILED").Wrapf(err, "encode refresh token")
	}

	ttl := keyTTL(expiresAt)
	var prev *redis.StringCmd
	var sets [2]*redis.StatusCmd
	_, err = r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		prev = pipe.Get(ctx, r.userKey(userID))
		sets[0] = pipe.Set(ctx, r.userKey(userID), tokenHash, ttl)
		sets[1] = pipe.Set(ctx, r.tokenKey(tokenHash), payload, ttl)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return upsertErr(userID, err)
	}
	// the pipeline reports only the first failure, which is the GET when
	// the user has no token yet
	for _, cmd := range sets {
		if err := cmd.Err(); err != nil {
			return upsertErr(userID, err)
		}
	}

	if old, err := prev.Result(); err == nil && old != tokenHash {
		// superseded tokens are already rejected by FindValid; this only frees memory
		_ = r.rdb.Del(ctx, r.tokenKey(old)).Err()
	}
	return nil
}

func (r *RedisRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	raw, err := r.rdb.Get(ctx, r.tokenKey(tokenHash)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrorNotFound
		}
		return "", oops.Code("REFRESH_TOKEN_SELECT_FAILED").
			With("operation", "get refresh token").
			Wrapf(err, "redis error")
	}

	var entry redisEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", oops.Code("REFRESH_TOKEN_SELECT_FAILED").
			With("operation", "decode refresh token").
			Wrapf(err, "corrupt entry")
	}
	if entry.ExpiresAt.Before(now) {
		return "", common.ErrorNotFound
	}

	current, err := r.rdb.Get(ctx, r.userKey(entry.UserID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", common.ErrorNotFound
		}
		return "", oops.Code("REFRESH_TOKEN_SELECT_FAILED").
			With("operation", "get current refresh token").
			With("user_id", entry.UserID).
			Wrapf(err, "redis error")
	}
	if current != tokenHash {
		return "", common.ErrorNotFound
	}

	return entry.UserID, nil
}

func upsertErr(userID string, err error) error {
	return oops.Code("REFRESH_TOKEN_UPSERT_FAILED").
		With("operation", "upsert refresh token").
		With("user_id", userID).
		Wrapf(err, "redis error")
}

// DeleteExpired is a no-op: keys carry their own TTL.
func (r *RedisRepository) DeleteExpired(context.Context, time.Time) (int64, error) {
	return 0, nil
}

var _ Repository = (*RedisRepository)(nil)
