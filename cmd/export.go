package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/pgexport"
	"github.com/lampioni/lampioni/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Mirror the new lamps into a Postgres table",
	Long:  "Upserts every new lamp (EWKB point, tags, contributor, dates) into the export table and deletes rows no longer in the catalog.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		dsn, _ := cmd.Flags().GetString("database-url")
		if dsn == "" {
			dsn = cfg.Export.DatabaseURL
		}
		if dsn == "" {
			return eris.New("export: database url is required (--database-url or LAMPIONI_EXPORT_DATABASE_URL)")
		}
		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			table = cfg.Export.Table
		}

		catalog, err := datadir.New(cfg.Data.Dir).Load(ctx)
		if err != nil {
			return err
		}

		pool, err := store.NewPool(ctx, dsn, &cfg.Store.Pool, false)
		if err != nil {
			return err
		}
		defer pool.Close()

		res, err := pgexport.New(pool, table).Export(ctx, catalog)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Exported %d lamps to %s (%d stale rows deleted)\n", res.Upserted, table, res.Deleted)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("database-url", "", "Postgres connection string (default from config)")
	exportCmd.Flags().String("table", "", "target table (default from config)")
	rootCmd.AddCommand(exportCmd)
}
