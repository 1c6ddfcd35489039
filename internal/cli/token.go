package cli

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/karma_ledger/internal/middleware"
)

// TokenOptions holds flags for the token command.
type TokenOptions struct {
	*RootOptions
	TTL time.Duration
}

// NewTokenCommand creates the token command, which signs a wallet token
// for a handle with the configured secret.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "token <handle>",
		Short: "Issue a wallet bearer token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if cfg.Auth.JWTSecret == "" {
				return WrapExitError(ExitConfigError, "issue token", errors.New("KARMA_JWT_SECRET is not set"))
			}
			ttl := cfg.Auth.TokenTTL
			if opts.TTL > 0 {
				ttl = opts.TTL
			}
			issuer, err := middleware.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.Issuer, ttl)
			if err != nil {
				return WrapExitError(ExitConfigError, "issue token", err)
			}
			token, expires, err := issuer.Issue(args[0])
			if err != nil {
				return err
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
				"handle":     args[0],
				"token":      token,
				"expires_at": expires,
			})
		},
	}

	cmd.Flags().DurationVar(&opts.TTL, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	return cmd
}
