package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/cache"
	"github.com/sells-group/intake-cli/internal/store"
)

// openStore opens the configured backend and runs migrations.
func openStore(ctx context.Context) (store.Store, error) {
	var st store.Store
	var err error

	switch cfg.Store.Driver {
	case "sqlite":
		st, err = store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL)
	default:
		return nil, eris.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, eris.Wrap(err, "open store")
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	zap.L().Debug("store ready", zap.String("driver", cfg.Store.Driver))
	return st, nil
}

// openCache opens the persistent lookup cache with the configured windows.
func openCache() (*cache.Cache, error) {
	c, err := cache.New(cfg.Cache.Path, cfg.CacheWindows())
	if err != nil {
		return nil, eris.Wrap(err, "open cache")
	}
	return c, nil
}

// newEnforcer builds the budget enforcer and hydrates committed spend for
// the current periods from the store's cost ledger.
func newEnforcer(ctx context.Context, st store.Store) (*budget.Enforcer, error) {
	enf, err := budget.NewEnforcer(cfg.Budget, st)
	if err != nil {
		return nil, err
	}
	if err := enf.Hydrate(ctx); err != nil {
		return nil, eris.Wrap(err, "hydrate budget")
	}
	return enf, nil
}
