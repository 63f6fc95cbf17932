// Package backend opens the gateway selected by configuration.
package backend

import (
	"context"
	"fmt"

	"petfarm/internal/config"
	"petfarm/internal/db"
	"petfarm/internal/store"
	"petfarm/internal/store/postgres"
	"petfarm/internal/store/sqlite"
)

// Closer releases the gateway's resources.
type Closer func() error

func Open(ctx context.Context, cfg config.StoreConfig) (store.Gateway, Closer, error) {
	switch cfg.Driver {
	case "memory":
		m := store.NewMemory()
		return m, m.Close, nil
	case "sqlite", "":
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.MaxConns)
		if err != nil {
			return nil, nil, err
		}
		s := postgres.New(pool)
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
