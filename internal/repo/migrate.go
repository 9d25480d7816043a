package repo

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type migrationScript struct {
	name string
	sql  string
}

// ApplyMigrations executes the SQL files of dir against the pool in lexicographical order.
func ApplyMigrations(ctx context.Context, pool *pgxpool.Pool, filesystem fs.FS, dir string) error {
	scripts, err := readMigrations(filesystem, dir)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			_, err := tx.Exec(ctx, script.sql)
			return err
		})
		if err != nil {
			return fmt.Errorf("execute migration %s: %w", script.name, err)
		}
	}
	return nil
}

// applySQLMigrations is the database/sql counterpart of ApplyMigrations.
func applySQLMigrations(ctx context.Context, db *sql.DB, filesystem fs.FS, dir string) error {
	scripts, err := readMigrations(filesystem, dir)
	if err != nil {
		return err
	}
	for _, script := range scripts {
		if _, err := db.ExecContext(ctx, script.sql); err != nil {
			return fmt.Errorf("execute migration %s: %w", script.name, err)
		}
	}
	return nil
}

func readMigrations(filesystem fs.FS, dir string) ([]migrationScript, error) {
	entries, err := fs.ReadDir(filesystem, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var scripts []migrationScript
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		sqlBytes, err := fs.ReadFile(filesystem, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if len(sqlBytes) == 0 {
			continue
		}
		scripts = append(scripts, migrationScript{name: entry.Name(), sql: string(sqlBytes)})
	}
	return scripts, nil
}
