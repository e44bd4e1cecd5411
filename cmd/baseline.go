package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lampioni/lampioni/internal/datadir"
)

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Manage the historical baseline",
}

var baselineSeedCmd = &cobra.Command{
	Use:   "seed <baseline.geojson>",
	Short: "Initialize the data directory from a baseline extract",
	Long: `Copies the baseline FeatureCollection into the data directory and writes the
initial id ledger, an empty new-lamp collection and the initial summary. An
existing ledger is only replaced with --force.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")

		fc, err := datadir.ReadFeatureFile(args[0])
		if err != nil {
			return err
		}
		baseline, err := cfg.BaselineTime()
		if err != nil {
			return err
		}

		s, err := datadir.New(cfg.Data.Dir).Seed(fc, baseline, force)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %s with %d baseline lamps (cutoff %s)\n",
			cfg.Data.Dir, s.BaselineCount, baseline.Format(time.RFC3339))
		return nil
	},
}

func init() {
	baselineSeedCmd.Flags().Bool("force", false, "overwrite an existing ledger")
	baselineCmd.AddCommand(baselineSeedCmd)
	rootCmd.AddCommand(baselineCmd)
}
