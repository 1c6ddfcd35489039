// Package cli implements the karmad command line.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/R3E-Network/karma_ledger/internal/config"
	"github.com/R3E-Network/karma_ledger/pkg/logger"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigFile string
	LogLevel   string
	Verbose    bool
}

// NewRootCommand creates the karmad root command.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "karmad",
		Short: "Karma ledger service",
		Long: `karmad runs the Karma/Chiliz ledger: wallets, staking, swaps and the
protocol emission engine that mints Karma blocks from network usage.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", "", "YAML config file (defaults to $CONFIG_FILE)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override the configured log level")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEmitCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewTokenCommand(opts))
	cmd.AddCommand(NewCompletionCommand())

	return cmd
}

// load resolves the configuration named by the flags.
func (o *RootOptions) load() (config.Config, error) {
	var (
		cfg config.Config
		err error
	)
	if o.ConfigFile != "" {
		cfg, err = config.LoadFrom(o.ConfigFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return config.Config{}, WrapExitError(ExitConfigError, "load configuration", err)
	}
	return cfg, nil
}

func (o *RootOptions) logger(cfg config.Config) *logger.Logger {
	lc := logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}
	if o.LogLevel != "" {
		lc.Level = o.LogLevel
	}
	if o.Verbose {
		lc.Level = "debug"
	}
	return logger.New(lc).WithComponent("karmad")
}
