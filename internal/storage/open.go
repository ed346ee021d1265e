package storage

import (
	"context"
	"fmt"
	"strings"
)

// Config selects and configures a Store.
type Config struct {
	// Driver is memory, postgres, cockroach or sqlite.
	Driver string
	DSN    string
	Pool   *SQLConfig
	// Migrate creates tables on open.
	Migrate bool
}

// Open builds the Store described by cfg.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "postgres", "cockroach", "cockroachdb":
		return openSQL(ctx, DialectPostgres, cfg)
	case "sqlite":
		return openSQL(ctx, DialectSQLite, cfg)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQL(ctx context.Context, dialect Dialect, cfg Config) (Store, error) {
	store, err := NewSQLStoreFromDSN(dialect, cfg.DSN, cfg.Pool)
	if err != nil {
		return nil, err
	}
	if cfg.Migrate {
		if err := store.Migrate(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
	}
	return store, nil
}
