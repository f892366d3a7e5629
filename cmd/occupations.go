package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var occupationsCmd = &cobra.Command{
	Use:   "occupations",
	Short: "List the occupation titles with wage data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		occs, err := env.Explorer.Occupations(ctx)
		if err != nil {
			return err
		}
		if len(occs) == 0 {
			fmt.Fprintln(os.Stderr, "No occupations found.")
			return nil
		}
		for _, o := range occs {
			fmt.Println(o)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(occupationsCmd)
}
