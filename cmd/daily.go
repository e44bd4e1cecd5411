package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lampioni/lampioni/internal/daily"
)

var dailyCmd = &cobra.Command{
	Use:   "daily",
	Short: "Fetch new street lamps and merge them into the catalog",
	Long: `Queries the configured providers in order, takes the first fresh response,
and merges it into the catalog. Incremental runs only ask for edits since the
latest known one; --full-refresh re-fetches everything since the baseline and
drops entities no longer reported.

Runs against the same data directory must not overlap.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initRunEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		fullRefresh, _ := cmd.Flags().GetBool("full-refresh")
		format, _ := cmd.Flags().GetString("format")

		engine := daily.New(env.Dir, env.Selector, env.Store, daily.Config{
			Query:    env.Query,
			Baseline: env.Baseline,
			Tags:     cfg.Query.Tags,
		})
		report, err := engine.Run(ctx, daily.Options{FullRefresh: fullRefresh})
		if err != nil {
			return err
		}

		if format == "json" {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		}
		formatDailyReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	dailyCmd.Flags().Bool("full-refresh", false, "re-fetch everything since the baseline and drop entities no longer reported")
	dailyCmd.Flags().String("format", "text", "report format (text, json)")
	rootCmd.AddCommand(dailyCmd)
}

// formatDailyReport writes the human-readable run summary to out.
func formatDailyReport(out io.Writer, r *daily.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Mode:\t%s\n", r.Mode)
	_, _ = fmt.Fprintf(w, "Provider:\t%s\n", r.Provider)
	if !r.HasContributorMetadata {
		_, _ = fmt.Fprintf(w, "Metadata:\tnone (contributors kept from previous runs)\n")
	}
	_, _ = fmt.Fprintf(w, "Fetched:\t%d\n", r.Fetched)
	_, _ = fmt.Fprintf(w, "Discovered today:\t%d\n", r.DiscoveredToday)
	if r.Dropped > 0 {
		_, _ = fmt.Fprintf(w, "Dropped:\t%d\n", r.Dropped)
	}
	_, _ = fmt.Fprintf(w, "Baseline lamps:\t%d\n", r.BaselineCount)
	_, _ = fmt.Fprintf(w, "New lamps:\t%d\n", r.NewCount)
	_ = w.Flush()

	if len(r.Leaderboard) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Top contributors:")
	formatLeaderboard(out, r.Leaderboard)
}
