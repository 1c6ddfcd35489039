package cli

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/karma_ledger/internal/app/services/emission"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Status bool
}

// NewEmitCommand creates the emit command, a manual trigger for one
// emission cycle.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit",
		Short: "Run one protocol emission cycle",
		Long: `Run a single emission cycle against the configured database and print
the result as JSON. A run with no usage since the last block is a no-op.

Example:
  karmad emit --config karma.yaml
  karmad emit --status`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(cmd, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Status, "status", false, "print protocol status instead of emitting")
	return cmd
}

func runEmit(cmd *cobra.Command, opts *EmitOptions) error {
	cfg, err := opts.load()
	if err != nil {
		return err
	}
	log := opts.logger(cfg)
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	emCfg, err := emissionConfig(cfg)
	if err != nil {
		return err
	}
	svc := emission.New(store, emCfg, log.WithComponent("emission"))

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if opts.Status {
		status, err := svc.Status(ctx)
		if err != nil {
			return err
		}
		return enc.Encode(status)
	}
	result, err := svc.RunOnce(ctx)
	if err != nil {
		return err
	}
	return enc.Encode(result)
}
