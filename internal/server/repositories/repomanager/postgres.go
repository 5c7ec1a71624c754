// Package repomanager wires repository constructors, database migrations
// (via goose) and housekeeping for each supported storage backend.
package repomanager

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/samber/oops"

	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/migrations"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

// PostgresRepositoryManager vends PostgreSQL-backed repositories sharing one
// connection pool.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// OpenPostgres opens a pgx-backed *sql.DB and checks connectivity.
func OpenPostgres(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, oops.Code("DB_OPEN_FAILED").Wrapf(err, "open database")
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, oops.Code("DB_OPEN_FAILED").Wrapf(err, "ping database")
	}
	return db, nil
}

// NewPostgresRepositoryManager constructs a PostgreSQL-backed RepositoryManager.
func NewPostgresRepositoryManager(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

func (m *PostgresRepositoryManager) Users() users.Repository {
	return users.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) RefreshTokens() refreshtokens.Repository {
	return refreshtokens.NewPostgresRepository(m.db)
}

func (m *PostgresRepositoryManager) ResetTokens() resettokens.Repository {
	return resettokens.NewPostgresRepository(m.db)
}

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations sets up goose with the embedded migrations and runs them
// against the manager's database.
func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return err
	}
	if err := gooseUpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

// PurgeExpired deletes expired refresh and reset tokens in one transaction.
func (m *PostgresRepositoryManager) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var total int64
	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		n, err := refreshtokens.NewPostgresRepository(tx).DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		total += n

		n, err = resettokens.NewPostgresRepository(tx).DeleteExpired(ctx, now)
		if err != nil {
			return err
		}
		total += n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}

var _ RepositoryManager = (*PostgresRepositoryManager)(nil)
