package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Titusvirous/ToxicInfoBot/internal/ledger"
)

var (
	_ ledger.Store = (*PostgresRepository)(nil)
	_ ledger.Store = (*SQLiteRepository)(nil)
	_ ledger.Store = (*MongoRepository)(nil)
	_ ledger.Store = (*MemoryRepository)(nil)
)

// Options selects and configures a store backend.
type Options struct {
	Driver   string // mongo, postgres, sqlite or memory
	URL      string
	Database string // Mongo database name
	Schema   string // Postgres search_path
}

// Open connects the backend named by opts.Driver.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (ledger.Store, error) {
	var (
		store ledger.Store
		err   error
	)
	switch opts.Driver {
	case "mongo":
		store, err = openAs(NewMongo(ctx, opts.URL, opts.Database, logger))
	case "postgres":
		store, err = openAs(NewPostgres(ctx, opts.URL, opts.Schema, logger))
	case "sqlite":
		store, err = openAs(NewSQLite(ctx, opts.URL, logger))
	case "memory":
		store = NewMemory()
	default:
		err = fmt.Errorf("unknown store driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}
	return store, nil
}

// openAs converts a concrete constructor result without leaking a typed nil.
func openAs[T ledger.Store](s T, err error) (ledger.Store, error) {
	if err != nil {
		return nil, err
	}
	return s, nil
}
