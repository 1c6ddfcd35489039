package cli

import (
	"context"
	"strings"

	"github.com/R3E-Network/karma_ledger/internal/app/services/emission"
	"github.com/R3E-Network/karma_ledger/internal/app/storage"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/memory"
	"github.com/R3E-Network/karma_ledger/internal/app/storage/sqlstore"
	"github.com/R3E-Network/karma_ledger/internal/config"
	"github.com/R3E-Network/karma_ledger/internal/platform/migrations"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// databaseDSN expands a bare SQLite path into a DSN with locking options.
func databaseDSN(db config.DatabaseConfig) string {
	if db.Driver == config.DriverSQLite && !strings.HasPrefix(db.DSN, "file:") && db.DSN != ":memory:" {
		return sqlstore.SQLiteDSN(db.DSN)
	}
	return db.DSN
}

// openStore opens the configured ledger backend, migrating first when asked.
// The returned closer is always safe to call.
func openStore(ctx context.Context, cfg config.Config, log *logger.Logger) (storage.LedgerStore, func() error, error) {
	noop := func() error { return nil }
	if cfg.Database.Driver == config.DriverMemory {
		log.Warn("using in-memory ledger; state is lost on exit")
		return memory.New(), noop, nil
	}

	dsn := databaseDSN(cfg.Database)
	if cfg.Database.MigrateOnStart {
		if err := migrations.Apply(ctx, cfg.Database.Driver, dsn); err != nil {
			return nil, noop, WrapExitError(ExitStorageError, "apply migrations", err)
		}
		log.WithField("driver", cfg.Database.Driver).Info("database schema up to date")
	}

	store, err := sqlstore.Open(ctx, cfg.Database.Driver, dsn)
	if err != nil {
		return nil, noop, WrapExitError(ExitStorageError, "open database", err)
	}
	if cfg.Database.Driver == config.DriverPostgres && cfg.Database.MaxOpenConns > 0 {
		store.DB().SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	return store, store.Close, nil
}

func emissionConfig(cfg config.Config) (emission.Config, error) {
	k, minReward, maxReward, err := cfg.Protocol.Decimals()
	if err != nil {
		return emission.Config{}, WrapExitError(ExitConfigError, "protocol config", err)
	}
	out := emission.Config{
		Interval:  cfg.Protocol.Interval(),
		Scheduled: cfg.Protocol.Scheduled,
		K:         k,
		MinReward: minReward,
		MaxReward: maxReward,
	}
	if err := out.Validate(); err != nil {
		return emission.Config{}, WrapExitError(ExitConfigError, "protocol config", err)
	}
	return out, nil
}
