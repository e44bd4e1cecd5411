package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/reconcile"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current catalog summary",
	RunE: func(cmd *cobra.Command, _ []string) error {
		format, _ := cmd.Flags().GetString("format")
		top, _ := cmd.Flags().GetInt("top")

		s, err := datadir.New(cfg.Data.Dir).LoadSummary()
		if err != nil {
			return err
		}
		if top > 0 && len(s.Leaderboard) > top {
			s.Leaderboard = s.Leaderboard[:top]
		}
		return writeSummary(cmd.OutOrStdout(), s, format)
	},
}

func init() {
	statusCmd.Flags().String("format", "table", "output format (table, json, yaml)")
	statusCmd.Flags().Int("top", 10, "number of contributors to show (0 for all)")
	rootCmd.AddCommand(statusCmd)
}

// writeSummary renders s in the requested format.
func writeSummary(out io.Writer, s *model.Summary, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(s); err != nil {
			return eris.Wrap(err, "status: encode yaml")
		}
		return enc.Close()
	case "table", "":
		formatSummary(out, s)
		return nil
	default:
		return eris.Errorf("status: unknown format %q (valid: table, json, yaml)", format)
	}
}

func formatSummary(out io.Writer, s *model.Summary) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Last updated:\t%s\n", s.LastUpdated)
	_, _ = fmt.Fprintf(w, "Baseline lamps:\t%d\n", s.BaselineCount)
	_, _ = fmt.Fprintf(w, "New lamps:\t%d\n", s.NewCount)
	_, _ = fmt.Fprintf(w, "Days with additions:\t%d\n", len(s.DailyAdditions))
	if days := reconcile.SortedDays(s.DailyAdditions); len(days) > 0 {
		last := days[len(days)-1]
		_, _ = fmt.Fprintf(w, "Latest day:\t%s (%d)\n", last, s.DailyAdditions[last])
	}
	_ = w.Flush()

	if len(s.Leaderboard) == 0 {
		return
	}
	_, _ = fmt.Fprintln(out)
	_, _ = fmt.Fprintln(out, "Top contributors:")
	formatLeaderboard(out, s.Leaderboard)
}

// formatLeaderboard writes a ranked contributor table to out.
func formatLeaderboard(out io.Writer, board []model.LeaderboardEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RANK\tUSER\tLAMPS")
	for i, e := range board {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\n", i+1, e.User, e.Count)
	}
	_ = w.Flush()
}
