package store

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/gophid/internal/dbx"
	"github.com/dmitrijs2005/gophid/internal/logging"
	"github.com/dmitrijs2005/gophid/internal/server/config"
	"github.com/dmitrijs2005/gophid/internal/server/store/jsonstore"
	"github.com/dmitrijs2005/gophid/internal/server/store/sqlstore"
)

// Open selects and opens the backend named by cfg.StoreDriver and wraps it
// in the write guard. The choice is made once, at startup.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger, obs Observer) (*Guarded, error) {
	var (
		backend Store
		err     error
	)

	switch cfg.StoreDriver {
	case config.DriverJSON:
		backend, err = jsonstore.Open(ctx, cfg.JSONStorePath, logger)
	case config.DriverPostgres:
		backend, err = sqlstore.Open(ctx, dbx.Postgres, cfg.DatabaseDSN, cfg.CreateSchema, logger)
	case config.DriverSQLite:
		backend, err = sqlstore.Open(ctx, dbx.SQLite, cfg.DatabaseDSN, cfg.CreateSchema, logger)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreDriver, err)
	}

	logger.Info(ctx, "store opened", "driver", cfg.StoreDriver, "may_write", cfg.MayWrite)
	return NewGuarded(backend, cfg.MayWrite, obs), nil
}
