package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/karma_ledger/internal/config"
	"github.com/R3E-Network/karma_ledger/internal/platform/migrations"
)

// NewMigrateCommand creates the migrate command group.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	cmd.AddCommand(
		migrateStep(rootOpts, "up", "Apply all pending migrations", migrations.Apply),
		migrateStep(rootOpts, "down", "Revert the most recent migration", migrations.Rollback),
		migrateVersion(rootOpts),
	)
	return cmd
}

func migrateStep(rootOpts *RootOptions, use, short string, fn func(ctx context.Context, driver, dsn string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := migrationTarget(rootOpts)
			if err != nil {
				return err
			}
			start := time.Now()
			if err := fn(cmd.Context(), db.Driver, databaseDSN(db)); err != nil {
				return WrapExitError(ExitStorageError, "migrate "+use, err)
			}
			Success(cmd.OutOrStdout(), fmt.Sprintf("migrate %s (%s)", use, formatDuration(time.Since(start))))
			return nil
		},
	}
}

func migrateVersion(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := migrationTarget(rootOpts)
			if err != nil {
				return err
			}
			version, dirty, err := migrations.Version(cmd.Context(), db.Driver, databaseDSN(db))
			if err != nil {
				return WrapExitError(ExitStorageError, "read schema version", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d dirty=%t\n", version, dirty)
			if dirty {
				Warning(cmd.OutOrStdout(), "a previous migration failed part way; repair the schema before migrating again")
			}
			return nil
		},
	}
}

func migrationTarget(rootOpts *RootOptions) (config.DatabaseConfig, error) {
	cfg, err := rootOpts.load()
	if err != nil {
		return config.DatabaseConfig{}, err
	}
	if cfg.Database.Driver == config.DriverMemory {
		return config.DatabaseConfig{}, WrapExitError(ExitConfigError, "migrate", fmt.Errorf("driver %q has no schema", cfg.Database.Driver))
	}
	return cfg.Database, nil
}
