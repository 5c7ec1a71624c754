package resettokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type MemoryRepository struct {
	mu     sync.Mutex
	tokens map[string]models.ResetToken
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tokens: make(map[string]models.ResetToken)}
}

func (r *MemoryRepository) Create(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[tokenHash]; ok {
		return common.ErrorAlreadyExists
	}
	r.tokens[tokenHash] = models.ResetToken{
		TokenHash: tokenHash,
		UserID:    userID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	return nil
}

func (r *MemoryRepository) Consume(_ context.Context, tokenHash string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[tokenHash]
	if !ok || t.ExpiresAt.Before(now) {
		return "", common.ErrorNotFound
	}
	delete(r.tokens, tokenHash)
	return t.UserID, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for hash, t := range r.tokens {
		if t.ExpiresAt.Before(now) {
			delete(r.tokens, hash)
			n++
		}
	}
	return n, nil
}

var _ Repository = (*MemoryRepository)(nil)
