package refreshtokens

import (
	"context"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type MemoryRepository struct {
	mu     sync.Mutex
	byUser map[string]models.RefreshToken
	byHash map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byUser: make(map[string]models.RefreshToken),
		byHash: make(map[string]string),
	}
}

func (r *MemoryRepository) Upsert(_ context.Context, userID, tokenHash string, expiresAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.byUser[userID]; ok {
		delete(r.byHash, old.TokenHash)
	}
	r.byUser[userID] = models.RefreshToken{
		UserID:    userID,
		TokenHash: tokenHash,
		ExpiresAt: expiresAt,
		UpdatedAt: time.Now().UTC(),
	}
	r.byHash[tokenHash] = userID
	return nil
}

func (r *MemoryRepository) FindValid(_ context.Context, tokenHash string, now time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byHash[tokenHash]
	if !ok {
		return "", common.ErrorNotFound
	}
	if r.byUser[userID].ExpiresAt.Before(now) {
		return "", common.ErrorNotFound
	}
	return userID, nil
}

func (r *MemoryRepository) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for userID, t := range r.byUser {
		if t.ExpiresAt.Before(now) {
			delete(r.byHash, t.TokenHash)
			delete(r.byUser, userID)
			n++
		}
	}
	return n, nil
}

var _ Repository = (*MemoryRepository)(nil)
