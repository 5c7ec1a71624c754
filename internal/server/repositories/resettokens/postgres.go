package resettokens

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, userID, tokenHash string, expiresAt time.Time) error {
	query := `
		INSERT INTO reset_tokens (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`
	if _, err := r.db.ExecContext(ctx, query, tokenHash, userID, expiresAt); err != nil {
		return oops.Code("RESET_TOKEN_CREATE_FAILED").
			With("operation", "insert reset token").
			With("user_id", userID).
			Wrapf(err, "db error")
	}
	return nil
}

func (r *PostgresRepository) Consume(ctx context.Context, tokenHash string, now time.Time) (string, error) {
	query := `
		DELETE FROM reset_tokens
		WHERE token_hash = $1 AND expires_at >= $2
		RETURNING user_id
	`
	var userID string
	if err := r.db.QueryRowContext(ctx, query, tokenHash, now).Scan(&userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", common.ErrorNotFound
		}
		return "", oops.Code("RESET_TOKEN_CONSUME_FAILED").
			With("operation", "consume reset token").
			Wrapf(err, "db error")
	}
	return userID, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `
		DELETE FROM reset_tokens
		WHERE expires_at < $1
	`
	res, err := r.db.ExecContext(ctx, query, now)
	if err != nil {
		return 0, oops.Code("RESET_TOKEN_PURGE_FAILED").
			With("operation", "delete expired reset tokens").
			Wrapf(err, "db error")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, oops.Code("RESET_TOKEN_PURGE_FAILED").
			With("operation", "rows affected").
			Wrapf(err, "db error")
	}
	return n, nil
}

var _ Repository = (*PostgresRepository)(nil)
