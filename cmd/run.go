package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/formpilot/api/schemas"
	"github.com/xkilldash9x/formpilot/internal/adapter"
	"github.com/xkilldash9x/formpilot/internal/bridge"
	"github.com/xkilldash9x/formpilot/internal/browser"
	"github.com/xkilldash9x/formpilot/internal/config"
	"github.com/xkilldash9x/formpilot/internal/engine"
	"github.com/xkilldash9x/formpilot/internal/flow"
	"github.com/xkilldash9x/formpilot/internal/humanoid"
	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/profile"
)

const shutdownGrace = 15 * time.Second

type runOptions struct {
	serve   bool
	record  bool
	company string
	role    string
}

// newRunCmd creates the `run` command.
func newRunCmd() *cobra.Command {
	var opts runOptions

	runCmd := &cobra.Command{
		Use:   "run [url]",
		Short: "Fill the application form on the current page or at url",
		Long: `Starts Chrome (or attaches to one with --chrome-url), loads url when given and
fills the application form up to its review step. It never submits.

The profile and stored answers come from the coordinator at --bridge-url. With
--profile the run is offline: the profile is read from a YAML file and free-form
questions are left blank.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			var startURL string
			if len(args) == 1 {
				startURL = args[0]
			}
			return runFill(ctx, cmd.OutOrStdout(), cfg, startURL, opts)
		},
	}

	runCmd.Flags().Bool("headless", false, "Run Chrome without a window. (Overrides config/env)")
	runCmd.Flags().String("chrome-url", "", "DevTools URL of an already running Chrome to attach to.")
	runCmd.Flags().String("bridge-url", "", "Coordinator bridge endpoint. (Overrides config/env)")
	runCmd.Flags().String("token", "", "Engine token for the coordinator. (Overrides config/env)")
	runCmd.Flags().String("profile", "", "YAML profile file for an offline run.")
	runCmd.Flags().BoolVar(&opts.serve, "serve", false, "Stay connected and accept runs from the coordinator.")
	runCmd.Flags().BoolVar(&opts.record, "record", false, "Log the application with the backend once the review step is reached.")
	runCmd.Flags().StringVar(&opts.company, "company", "", "Company name for --record.")
	runCmd.Flags().StringVar(&opts.role, "role", "", "Role title for --record.")
	return runCmd
}

// engineComponents holds everything one engine process owns.
type engineComponents struct {
	Session *browser.Session
	Engine  *engine.Engine
	Bridge  *bridge.Bridge
	Client  *bridge.Client
}

// Shutdown stops the active run, then the bridge, then Chrome.
func (ec *engineComponents) Shutdown() {
	logger := observability.GetLogger()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	if ec.Engine != nil {
		if err := ec.Engine.Shutdown(ctx); err != nil {
			logger.Warn("Engine did not stop cleanly", zap.Error(err))
		}
	}
	if ec.Bridge != nil {
		ec.Bridge.Close()
		<-ec.Bridge.Done()
	}
	if ec.Session != nil {
		if err := ec.Session.Close(); err != nil {
			logger.Warn("Error closing browser session", zap.Error(err))
		}
	}
}

// initializeEngine wires the browser, the flow controller and, unless the
// run is offline, the coordinator bridge.
func initializeEngine(ctx context.Context, cfg config.Interface, out io.Writer, logger *zap.Logger) (*engineComponents, error) {
	ec := &engineComponents{}

	deps := flow.Dependencies{
		Registry: adapter.NewRegistry(),
		Pacer:    humanoid.NewPacer(cfg.Browser().Pacing, nil, nil),
		Logger:   logger,
	}

	if path := cfg.Bridge().ProfileFile; path != "" {
		p, err := profile.LoadFile(path)
		if err != nil {
			return nil, err
		}
		deps.Profiles = profile.Static(p)
		deps.Emitter = newProgressPrinter(out)
		logger.Info("Offline run: questions without a profile value are left blank", zap.String("profile", path))
	} else {
		conn, err := bridge.Dial(ctx, cfg.Bridge().URL, cfg.Bridge().Token)
		if err != nil {
			return nil, fmt.Errorf("failed to reach coordinator (run with --profile for an offline run): %w", err)
		}
		ec.Bridge = bridge.New(conn, bridge.Options{RequestTimeout: cfg.Bridge().RequestTimeout, Logger: logger})
		ec.Client = bridge.NewClient(ec.Bridge)
		deps.Profiles = ec.Client
		deps.Matches = ec.Client
		deps.Emitter = teeEmitter{ec.Client, newProgressPrinter(out)}
	}

	session, err := browser.NewSession(ctx, cfg.Browser(), logger)
	if err != nil {
		ec.Shutdown()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}
	ec.Session = session
	deps.Page = session
	deps.Navigator = session

	ec.Engine = engine.New(flow.New(cfg.Engine(), deps), logger)
	if ec.Bridge != nil {
		ec.Engine.Serve(ec.Bridge)
		ec.Bridge.Start()
	}
	return ec, nil
}

func runFill(ctx context.Context, out io.Writer, cfg config.Interface, startURL string, opts runOptions) error {
	logger := observability.GetLogger()

	ec, err := initializeEngine(ctx, cfg, out, logger)
	if err != nil {
		return err
	}
	defer ec.Shutdown()

	if opts.serve {
		if ec.Bridge == nil {
			return errors.New("--serve needs a coordinator; it cannot be combined with --profile")
		}
		logger.Info("Waiting for runs from the coordinator", zap.String("bridge", cfg.Bridge().URL))
		select {
		case <-ctx.Done():
			return nil
		case <-ec.Bridge.Done():
			return fmt.Errorf("coordinator connection closed: %w", ec.Bridge.Err())
		}
	}

	runID, err := ec.Engine.Start(ctx, startURL)
	if err != nil {
		return err
	}
	done, err := ec.Engine.Wait(ctx, runID)
	if err != nil {
		// Interrupted: let Shutdown cancel the run and report what it did.
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = ec.Engine.Cancel(runID)
		if done, err = ec.Engine.Wait(waitCtx, runID); err != nil {
			return err
		}
	}

	fmt.Fprintln(out, renderSummary(done))

	if opts.record && ec.Client != nil && reachedReview(done) {
		rec := schemas.ApplicationRecord{
			Company:     opts.company,
			Role:        opts.role,
			URL:         done.URL,
			AppliedAt:   time.Now().UTC().Format(time.RFC3339),
			StepReports: done.StepReports,
		}
		created, err := ec.Client.LogApplication(ctx, rec)
		if err != nil {
			return fmt.Errorf("failed to record application: %w", err)
		}
		logger.Info("Application recorded", zap.String("application_id", created.ID))
	}
	return nil
}

// reachedReview reports whether the run stopped at the review step rather
// than aborting.
func reachedReview(done schemas.FillDone) bool {
	return done.FinalState == schemas.StateDone && done.AbortReason == ""
}

// teeEmitter forwards every event to each emitter in order.
type teeEmitter []flow.Emitter

func (t teeEmitter) Progress(ev schemas.FillProgress) {
	for _, e := range t {
		e.Progress(ev)
	}
}

func (t teeEmitter) Done(ev schemas.FillDone) {
	for _, e := range t {
		e.Done(ev)
	}
}
