package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lampioni/lampioni/internal/prune"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Drop catalog entries outside the configured boundary",
	Long: `Fetches the ids of every street lamp inside the configured area and removes
baseline ids, baseline features and new entities that are not among them.
Refuses to run when the provider returns no ids.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initRunEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dryRun, _ := cmd.Flags().GetBool("dry-run")

		report, err := prune.New(env.Dir, env.Selector, env.Store, env.Query).Run(ctx, prune.Options{DryRun: dryRun})
		if err != nil {
			return err
		}
		formatPruneReport(cmd.OutOrStdout(), report)
		return nil
	},
}

func init() {
	pruneCmd.Flags().Bool("dry-run", false, "show what would be removed without changing files")
	rootCmd.AddCommand(pruneCmd)
}

func formatPruneReport(out io.Writer, r *prune.Report) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Provider:\t%s\n", r.Provider)
	_, _ = fmt.Fprintf(w, "Valid ids:\t%d\n", r.ValidIDs)
	_, _ = fmt.Fprintf(w, "Baseline ids:\t%d -> %d (removed %d)\n", r.BaselineIDsBefore, r.BaselineCount, r.BaselineIDsRemoved)
	if r.BaselineFeaturesBefore > 0 {
		_, _ = fmt.Fprintf(w, "Baseline features:\t%d -> %d (removed %d)\n",
			r.BaselineFeaturesBefore, r.BaselineFeaturesBefore-r.BaselineFeaturesRemoved, r.BaselineFeaturesRemoved)
	}
	_, _ = fmt.Fprintf(w, "New lamps:\t%d -> %d (removed %d)\n", r.NewBefore, r.NewCount, r.NewRemoved)
	_ = w.Flush()
	if r.DryRun {
		_, _ = fmt.Fprintln(out, "\n--dry-run: no files modified")
	}
}
