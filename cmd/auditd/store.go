package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/openfilz/openfilz-core-sub000/internal/auditchain"
	"github.com/openfilz/openfilz-core-sub000/migrations"
)

// pgStore closes the pool along with the store.
type pgStore struct {
	*auditchain.PostgresStore
	pool *pgxpool.Pool
}

func (s *pgStore) Close() error {
	s.pool.Close()
	return nil
}

// openStore builds the chain store selected by database.driver.
func openStore(ctx context.Context, logger *zap.Logger) (auditchain.Store, error) {
	switch driver := viper.GetString("database.driver"); driver {
	case "postgres":
		db, err := pgxpool.New(ctx, viper.GetString("database.url"))
		if err != nil {
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		logger.Info("connected to postgres")

		if viper.GetBool("database.auto_migrate") {
			n, err := migrations.Apply(ctx, db, logger.Sugar().Infof)
			if err != nil {
				db.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied", zap.Int("count", n))
		}
		return &pgStore{PostgresStore: auditchain.NewPostgresStore(db, logger), pool: db}, nil

	case "sqlite":
		path := viper.GetString("database.sqlite_path")
		s, err := auditchain.OpenSQLiteStore(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", path, err)
		}
		logger.Info("using sqlite audit store", zap.String("path", path))
		return s, nil

	case "memory":
		logger.Warn("using in-memory audit store: entries are lost on restart")
		return auditchain.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown database.driver %q (want postgres, sqlite or memory)", driver)
	}
}
