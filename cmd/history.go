package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/formpilot/internal/observability"
	"github.com/xkilldash9x/formpilot/internal/store"
)

// newHistoryCmd creates the `history` command.
func newHistoryCmd() *cobra.Command {
	var limit int
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List the most recently finished runs",
		Long:  `Reads the run history the coordinator stores in database.url.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			url := cfg.Database().URL
			if url == "" {
				return errors.New("database.url is not configured (FORMPILOT_DATABASE_URL)")
			}
			runStore, cleanup, err := store.Open(ctx, url, observability.GetLogger())
			if err != nil {
				return err
			}
			defer cleanup()

			runs, err := runStore.RecentRuns(ctx, limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	historyCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of runs to list.")
	return historyCmd
}

// renderHistory prints runs newest first as a table.
func renderHistory(out io.Writer, runs []store.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(out, "No runs recorded yet.")
		return
	}
	table := tablewriter.NewWriter(out)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"Finished", "Run", "Platform", "State", "Steps", "Filled", "Skipped", "URL"})
	for _, r := range runs {
		state := string(r.FinalState)
		if r.AbortReason != "" {
			state += " (" + string(r.AbortReason) + ")"
		}
		table.Append([]string{
			r.FinishedAt.UTC().Format("2006-01-02 15:04"),
			r.RunID,
			r.Platform,
			state,
			strconv.Itoa(r.Steps),
			strconv.Itoa(r.Filled),
			strconv.Itoa(r.Skipped),
			r.URL,
		})
	}
	table.Render()
}
