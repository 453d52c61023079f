// Package backend opens the configured storage driver and hands back the
// domain stores it serves.
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/Harshitk-cp/resona/internal/config"
	"github.com/Harshitk-cp/resona/internal/domain"
	"github.com/Harshitk-cp/resona/internal/store"
	"github.com/Harshitk-cp/resona/internal/store/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

var ErrDatabaseURLMissing = errors.New("DATABASE_URL is required for the postgres driver")

type Config struct {
	Driver      string
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool
}

// ConfigFromEnv reads the store settings loaded by config.Load.
func ConfigFromEnv() Config {
	return Config{
		Driver:      config.StoreDriver(),
		DatabaseURL: config.DatabaseURL(),
		SQLitePath:  config.SQLitePath(),
		AutoMigrate: config.AutoMigrate(),
	}
}

// Backend is an open store set plus the handle that owns it.
type Backend struct {
	Driver string
	Stores domain.Stores

	pool   *pgxpool.Pool
	sqlite *sqlite.Store
}

// Open connects to the configured driver. An unreachable PostgreSQL server
// is not an error: the pool reconnects lazily and the service starts
// degraded, reporting it through /health.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Backend, error) {
	switch cfg.Driver {
	case DriverPostgres, "":
		if cfg.DatabaseURL == "" {
			return nil, ErrDatabaseURLMissing
		}
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse database url: %w", err)
		}
		b := &Backend{Driver: DriverPostgres, Stores: store.NewStores(pool), pool: pool}

		if err := pool.Ping(ctx); err != nil {
			logger.Warn("database unreachable, starting degraded", zap.Error(err))
			return b, nil
		}
		logger.Info("connected to database", zap.String("driver", DriverPostgres))

		if cfg.AutoMigrate {
			if err := store.Migrate(ctx, pool); err != nil {
				logger.Warn("schema migration failed", zap.Error(err))
			}
		}
		return b, nil

	case DriverSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened database", zap.String("driver", DriverSQLite), zap.String("path", cfg.SQLitePath))
		return &Backend{Driver: DriverSQLite, Stores: s.Stores(), sqlite: s}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

// Migrate applies the schema. The sqlite schema is applied on open.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.pool != nil {
		return store.Migrate(ctx, b.pool)
	}
	return nil
}

// CheckTables logs a warning for every required table the store lacks and
// returns them.
func (b *Backend) CheckTables(ctx context.Context, logger *zap.Logger) ([]string, error) {
	missing, err := b.Stores.Health.MissingTables(ctx)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		logger.Warn("required tables missing; run `resonactl migrate` or set AUTO_MIGRATE=true",
			zap.Strings("tables", missing))
	}
	return missing, nil
}

func (b *Backend) Close() {
	if b.pool != nil {
		b.pool.Close()
	}
	if b.sqlite != nil {
		_ = b.sqlite.Close()
	}
}
