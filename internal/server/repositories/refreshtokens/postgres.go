// Package refreshtokens provides the stores for per-user refresh tokens
// used in the server's authentication flow.
package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
)

// PostgresRepository keeps refresh tokens in the refresh_tokens table, keyed
// by user_id so a second insert for the same user overwrites the first.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Upsert(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO refresh_tokens (user_id, token_hash, expires_at, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE
		SET token_hash = EXCLUDED.token_hash, expires_at = EXCLUDED.expires_at, updated_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, userID, tokenHash, expiresAt); err != nil {
		return oops.Code("REFRESH_TOKEN_UPSERT_FAILED").
			With("operation", "upsert refresh token").
			With("user_id", userID).
			Wrapf(err, "db error")
	}
	return nil
}

func (r *PostgresRepository) FindValid(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	query := `
		SELECT user_id
		FROM refresh_tokens
		WHERE token_hash = $1 AND expires_at >= $2
	`
	var userID string
	if err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", oops.Code("REFRESH_TOKEN_SELECT_FAILED").
			With("operation", "select refresh token").
			Wrapf(err, "db error")
	}
	return userID, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM refresh_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_PURGE_FAILED").
			With("operation", "delete expired refresh tokens").
			Wrapf(err, "db error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("REFRESH_TOKEN_PURGE_FAILED").
			With("operation", "rows affected").
			Wrapf(err, "db error")
	}
	return n, nil
}

var _ Repository = (*PostgresRepository)(nil)
