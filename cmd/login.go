package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/backend"
)

// newLoginCmd creates the `login` command, which keeps the backend API token
// in the OS keyring so it never has to live in config.yaml.
func newLoginCmd() *cobra.Command {
	var logout bool

	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Store the backend API token in the OS keyring",
		Long: `Reads the backend API token from stdin and stores it in the OS keyring under
backend.base_url. The coordinator uses it whenever backend.token is empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			baseURL := cfg.Backend().BaseURL
			if baseURL == "" {
				return errors.New("backend.base_url is not configured")
			}
			if logout {
				if err := backend.DeleteToken(baseURL); err != nil {
					return fmt.Errorf("failed to remove token: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed the token for %s\n", baseURL)
				return nil
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "API token for %s: ", baseURL)
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("failed to read token: %w", err)
			}
			if err := backend.StoreToken(baseURL, strings.TrimSpace(line)); err != nil {
				return fmt.Errorf("failed to store token: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored the token for %s\n", baseURL)
			return nil
		},
	}
	loginCmd.Flags().String("backend-url", "", "Backend the token belongs to. (Overrides config/env)")
	loginCmd.Flags().BoolVar(&logout, "logout", false, "Remove the stored token instead.")
	return loginCmd
}
