package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var warmOccupations []string

var warmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Build and cache fused tables for several occupations in parallel",
	Long:  "Builds the listed occupations, or every occupation in the wage source when none are given, using fusion.build_concurrency workers.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Explorer.Warm(ctx, warmOccupations); err != nil {
			return err
		}
		zap.L().Info("warm complete", zap.Strings("occupations", env.Explorer.LoadedOccupations()))
		return nil
	},
}

func init() {
	warmCmd.Flags().StringSliceVar(&warmOccupations, "occupations", nil, "comma-separated occupation titles (default all)")
	rootCmd.AddCommand(warmCmd)
}
