package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/internal/backend"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/coordinator"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

// newCoordinatorCmd creates the `coordinator` command.
func newCoordinatorCmd() *cobra.Command {
	coordCmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Serve the bridge endpoint, the event stream and the run API",
		Long: `Runs the out-of-page coordinator. Engines connect to /bridge with a token from
'formpilot token'; UIs start and cancel runs over HTTP and follow them on /events.
When database.url is set, every finished run is stored.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			return runCoordinator(ctx, cfg)
		},
	}
	coordCmd.Flags().String("listen", "", "Address to listen on. (Overrides config/env)")
	coordCmd.Flags().String("backend-url", "", "Profile and question backend. (Overrides config/env)")
	return coordCmd
}

func runCoordinator(ctx context.Context, cfg config.Interface) error {
	logger := observability.GetLogger()

	client, err := backend.NewClient(cfg.Backend(), logger)
	if err != nil {
		return fmt.Errorf("failed to create backend client: %w", err)
	}

	opts := coordinator.Options{RequestTimeout: cfg.Bridge().RequestTimeout, Logger: logger}
	if url := cfg.Database().URL; url != "" {
		runStore, cleanup, err := store.Open(ctx, url, logger)
		if err != nil {
			return err
		}
		defer cleanup()
		if err := runStore.Migrate(ctx); err != nil {
			return err
		}
		opts.Store = runStore
	} else {
		logger.Info("No database configured; run history is not kept.")
	}

	coord := coordinator.New(cfg.Coordinator(), client, opts)
	if err := coord.Run(ctx); err != nil {
		return err
	}
	logger.Info("Coordinator stopped", zap.String("addr", cfg.Coordinator().ListenAddr))
	return nil
}
