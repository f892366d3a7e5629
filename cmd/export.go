package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/db"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Copy a fused table into a Postgres table",
	Long:  "Builds (or loads from cache) the fused table for --occupation and replaces --table with it, for dashboards that read Postgres directly.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		occupation, _ := cmd.Flags().GetString("occupation")
		tableName, _ := cmd.Flags().GetString("table")
		dsn, _ := cmd.Flags().GetString("dsn")
		if dsn == "" {
			dsn = cfg.Cache.DSN
		}
		if dsn == "" {
			return eris.New("export: --dsn or cache.dsn is required")
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		snap, err := env.Explorer.Snapshot(ctx, occupation)
		if err != nil {
			return err
		}

		pool, err := db.Connect(ctx, dsn, &db.PoolConfig{MaxConns: 2})
		if err != nil {
			return err
		}
		defer pool.Close()

		if tableName == "" {
			tableName = "fused_" + snapshotKey(snap.Occupation)
		}
		n, err := db.ExportTable(ctx, pool, tableName, snap.Fused)
		if err != nil {
			return err
		}
		zap.L().Info("export complete",
			zap.String("table", tableName),
			zap.String("occupation", snap.Occupation),
			zap.String("build_id", snap.BuildID),
			zap.Int64("rows", n),
		)
		return nil
	},
}

func init() {
	f := exportCmd.Flags()
	f.String("occupation", "", "occupation title (case-insensitive)")
	f.String("table", "", "destination table, optionally schema-qualified (default fused_<slug>)")
	f.String("dsn", "", "Postgres connection string (default cache.dsn)")
	rootCmd.AddCommand(exportCmd)
}
