package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/llm-devops/llm-analytics-hub/internal/config"
)

// NewStore opens the rollup backend named by cfg.Driver. Driver "none" yields
// a nil store and no error.
func NewStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (RollupStore, error) {
	switch cfg.Driver {
	case "", "none":
		return nil, nil
	case "sqlite":
		dsn := cfg.DSN
		if dsn == "" {
			dsn = "llm-analytics.db"
		}
		store, err := NewSQLiteStore(dsn, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("store.dsn is required for postgres")
		}
		store, err := NewPostgresStore(ctx, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
