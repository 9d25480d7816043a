package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/Titusvirous/ToxicInfoBot/migrations"
)

// sqlitePragmas are appended to every DSN. Debits rely on busy_timeout to
// queue concurrent writers instead of failing with SQLITE_BUSY.
var sqlitePragmas = []string{
	"_pragma=busy_timeout(10000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=foreign_keys(ON)",
	"_time_format=sqlite",
}

// SQLiteRepository stores accounts in a local SQLite file.
type SQLiteRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens the database at path, which may be a plain file path or a
// file: URI.
func NewSQLite(ctx context.Context, path string, logger *slog.Logger) (*SQLiteRepository, error) {
	dsn, err := sqliteDSN(path)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(2)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	r := &SQLiteRepository{db: db, logger: logger.With("component", "repo_sqlite")}
	r.logger.Info("sqlite store opened", "path", path)
	return r, nil
}

func sqliteDSN(path string) (string, error) {
	path = strings.TrimSpace(path)
	path = strings.TrimPrefix(path, "sqlite://")
	if path == "" {
		return "", errors.New("sqlite database path is empty")
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + strings.Join(sqlitePragmas, "&"), nil
}

func (r *SQLiteRepository) Close() {
	if err := r.db.Close(); err != nil {
		r.logger.Warn("closing sqlite failed", "error", err)
	}
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Migrate applies the embedded SQLite migrations.
func (r *SQLiteRepository) Migrate(ctx context.Context) error {
	if err := applySQLMigrations(ctx, r.db, migrations.Files, "sqlite"); err != nil {
		return fmt.Errorf("sqlite migrate: %w", err)
	}
	return nil
}
