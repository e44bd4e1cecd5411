package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/config"
)

var (
	cfg        *config.Config
	dataDirArg string
)

var rootCmd = &cobra.Command{
	Use:   "lampioni",
	Short: "Street lamp catalog reconciliation",
	Long:  "Keeps a catalog of OpenStreetMap street lamps added after a fixed baseline, with stable discovery dates and contributors, fed by a fallback chain of Overpass and Postpass mirrors.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if dataDirArg != "" {
			c.Data.Dir = dataDirArg
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dataDirArg, "data-dir", "", "catalog data directory (default from config)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
