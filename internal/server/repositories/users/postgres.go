package users

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

const emailConstraint = "users_email_key"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (email, name, password_hash)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at
		 `

	err := r.db.QueryRowContext(ctx, query, user.Email, user.Name, user.PasswordHash).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		if dbx.IsUniqueViolation(err, emailConstraint) {
			return nil, oops.Code("USER_EMAIL_TAKEN").
				With("operation", "insert user").
				Wrap(common.ErrorAlreadyExists)
		}
		return nil, oops.Code("USER_CREATE_FAILED").
			With("operation", "insert user").
			Wrapf(err, "db error")
	}

	return user, nil
}

func (r *PostgresRepository) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	query :=
		`SELECT id, email, name, password_hash, created_at, updated_at FROM users
		 WHERE email = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, email), "select user by email")
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.User, error) {
	// ids are uuid columns; anything else cannot match and would only make
	// postgres fail with invalid_text_representation.
	if _, err := uuid.Parse(id); err != nil {
		return nil, common.ErrorNotFound
	}

	query :=
		`SELECT id, email, name, password_hash, created_at, updated_at FROM users
		 WHERE id = $1
		 `

	return r.scanOne(r.db.QueryRowContext(ctx, query, id), "select user by id")
}

func (r *PostgresRepository) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	if _, err := uuid.Parse(id); err != nil {
		return common.ErrorNotFound
	}

	query :=
		`UPDATE users SET password_hash = $2, updated_at = now()
		 WHERE id = $1
		 `

	res, err := r.db.ExecContext(ctx, query, id, hash)
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "update password hash").
			With("user_id", id).
			Wrapf(err, "db error")
	}

	n, err := res.RowsAffected()
	if err != nil {
		return oops.Code("USER_UPDATE_FAILED").
			With("operation", "rows affected").
			With("user_id", id).
			Wrapf(err, "db error")
	}
	if n == 0 {
		return common.ErrorNotFound
	}

	return nil
}

func (r *PostgresRepository) scanOne(row *sql.Row, operation string) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(&user.ID, &user.Email, &user.Name, &user.PasswordHash, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, oops.Code("USER_SELECT_FAILED").
			With("operation", operation).
			Wrapf(err, "db error")
	}
	return user, nil
}

var _ Repository = (*PostgresRepository)(nil)
