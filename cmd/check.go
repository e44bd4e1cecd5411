package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/monitoring"
	"github.com/lampioni/lampioni/internal/store"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate catalog health and send alerts",
	Long: `Reads the run ledger and the persisted summary, reports consecutive daily
failures, the recent failure rate and the catalog age, and posts any alert to
monitoring.webhook_url when one is configured.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		failOnAlert, _ := cmd.Flags().GetBool("fail-on-alert")

		st := initStore(ctx)
		defer st.Close() //nolint:errcheck

		checker := newChecker(st)
		snap, alerts, err := checker.Check(ctx)
		if err != nil {
			return eris.Wrap(err, "check")
		}
		checker.Notify(ctx, alerts)

		switch format {
		case "json":
			if alerts == nil {
				alerts = []monitoring.Alert{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"snapshot": snap, "alerts": alerts}); err != nil {
				return err
			}
		case "text", "":
			formatHealth(cmd.OutOrStdout(), snap, alerts)
		default:
			return eris.Errorf("check: unknown format %q (valid: text, json)", format)
		}

		if failOnAlert && len(alerts) > 0 {
			return eris.Errorf("check: %d alert(s) triggered", len(alerts))
		}
		return nil
	},
}

func init() {
	checkCmd.Flags().String("format", "text", "output format (text, json)")
	checkCmd.Flags().Bool("fail-on-alert", false, "exit non-zero when any alert is triggered")
	rootCmd.AddCommand(checkCmd)
}

// newChecker wires the health checker over the ledger and data directory.
func newChecker(st store.Store) *monitoring.Checker {
	collector := monitoring.NewCollector(st, datadir.New(cfg.Data.Dir))
	return monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
}

func formatHealth(out io.Writer, snap *monitoring.Snapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Daily runs (%dh):\t%d complete, %d failed, %d running\n",
		snap.LookbackHours, snap.DailyComplete, snap.DailyFailed, snap.DailyRunning)
	_, _ = fmt.Fprintf(w, "Consecutive failures:\t%d\n", snap.ConsecutiveFailures)
	if snap.LastSuccessAt != nil {
		_, _ = fmt.Fprintf(w, "Last success:\t%s (%s)\n", snap.LastSuccessAt.Format(time.RFC3339), snap.LastProvider)
	} else {
		_, _ = fmt.Fprintf(w, "Last success:\tnever\n")
	}
	if snap.CatalogLastUpdated != nil {
		_, _ = fmt.Fprintf(w, "Catalog updated:\t%s (%.1fh ago)\n", snap.CatalogLastUpdated.Format(time.RFC3339), snap.CatalogAgeHours)
	} else {
		_, _ = fmt.Fprintf(w, "Catalog updated:\tnot seeded\n")
	}
	_, _ = fmt.Fprintf(w, "New lamps:\t%d\n", snap.NewCount)
	_ = w.Flush()

	if len(alerts) == 0 {
		_, _ = fmt.Fprintln(out, "\nNo alerts.")
		return
	}
	_, _ = fmt.Fprintln(out, "\nAlerts:")
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SEVERITY\tTYPE\tMESSAGE")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", a.Severity, a.Type, a.Message)
	}
	_ = w.Flush()
}
