package repo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
	"github.com/Titusvirous/ToxicInfoBot/migrations"
)

// PostgresRepository stores accounts in Postgres.
type PostgresRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	schema string
}

// NewPostgres opens a new connection pool to the database with the desired search_path.
func NewPostgres(ctx context.Context, databaseURL, schema string, logger *slog.Logger) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	if cfg.ConnConfig.RuntimeParams == nil {
		cfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	if schema != "" {
		cfg.ConnConfig.RuntimeParams["search_path"] = schema
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	r := &PostgresRepository{
		pool:   pool,
		logger: logger.With("component", "repo_postgres"),
		schema: schema,
	}

	if err := r.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

// Close releases the connection pool.
func (r *PostgresRepository) Close() {
	if r.pool != nil {
		r.pool.Close()
	}
}

// Ping ensures the database is reachable.
func (r *PostgresRepository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// Migrate applies the embedded Postgres migrations.
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	return ApplyMigrations(ctx, r.pool, migrations.Files, "postgres")
}

// InsertAccountIfAbsent relies on the primary key to make concurrent first
// contacts race-free: only one INSERT returns a row.
func (r *PostgresRepository) InsertAccountIfAbsent(ctx context.Context, acc ledger.Account) (*ledger.Account, bool, error) {
	const q = `
INSERT INTO accounts (id, display_name, handle, credits, joined_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (id) DO NOTHING
RETURNING ` + accountColumns + `;
`
	row := r.pool.QueryRow(ctx, q, acc.ID, acc.DisplayName, acc.Handle, acc.Credits, acc.JoinedAt)
	inserted, err := scanAccount(row)
	if err == nil {
		return inserted, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, fmt.Errorf("insert account: %w", err)
	}

	existing, err := r.GetAccount(ctx, acc.ID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}
