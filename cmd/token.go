package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/coordinator"
)

// newTokenCmd creates the `token` command, which mints engine tokens for the
// coordinator's /bridge endpoint.
func newTokenCmd() *cobra.Command {
	var subject string
	var ttl time.Duration

	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an engine token for the coordinator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			secret := cfg.Coordinator().JWTSecret
			if secret == "" {
				return errors.New("coordinator.jwt_secret is not configured (FORMPILOT_JWT_SECRET)")
			}
			if ttl <= 0 {
				ttl = cfg.Coordinator().TokenTTL
			}
			token, err := coordinator.NewTokenService(secret, ttl).Issue(subject)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	tokenCmd.Flags().StringVar(&subject, "subject", "engine", "Name recorded in the token and in the coordinator's logs.")
	tokenCmd.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default coordinator.token_ttl).")
	return tokenCmd
}
