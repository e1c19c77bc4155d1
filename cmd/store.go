package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/factcheck-cli/internal/jobs"
	"github.com/sells-group/factcheck-cli/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "factcheck.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func initJobStore() (jobs.JobStore, error) {
	switch cfg.Jobs.Driver {
	case "memory":
		return jobs.NewMemoryStore(), nil
	case "badger", "":
		return jobs.OpenBadger(jobs.BadgerConfig{
			Path:       cfg.Jobs.Path,
			TTL:        time.Duration(cfg.Jobs.TTLHours) * time.Hour,
			GCInterval: 10 * time.Minute,
		})
	default:
		return nil, eris.Errorf("unsupported jobs driver: %s", cfg.Jobs.Driver)
	}
}
