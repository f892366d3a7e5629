package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/city-explorer/internal/fusion"
)

var (
	buildOccupation string
	buildForce      bool
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build the fused city table for one occupation",
	Long:  "Loads every source, imputes missing county values and stores the fused table in the cache. A cached table is reused unless --force is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		occ, err := env.Explorer.ResolveOccupation(ctx, buildOccupation)
		if err != nil {
			return err
		}

		var opts []fusion.BuildOption
		if buildForce {
			opts = append(opts, fusion.Force())
		}
		res, err := env.Builder.Build(ctx, occ, opts...)
		if err != nil {
			return err
		}

		formatBuildResult(os.Stdout, res)
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildOccupation, "occupation", "", "occupation title (case-insensitive)")
	buildCmd.Flags().BoolVar(&buildForce, "force", false, "rebuild from sources even when cached")
	rootCmd.AddCommand(buildCmd)
}

// formatBuildResult writes a summary of one build to out.
func formatBuildResult(out io.Writer, res *fusion.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Occupation:\t%s\n", res.Occupation)
	_, _ = fmt.Fprintf(w, "Build ID:\t%s\n", res.BuildID)
	_, _ = fmt.Fprintf(w, "Cache key:\t%s\n", res.CacheKey)
	_, _ = fmt.Fprintf(w, "Cache hit:\t%t\n", res.CacheHit)
	_, _ = fmt.Fprintf(w, "Cities:\t%d\n", res.Table.Len())
	_, _ = fmt.Fprintf(w, "Columns:\t%d\n", res.Table.Width())
	_, _ = fmt.Fprintf(w, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))

	if len(res.Imputed) > 0 {
		names := make([]string, 0, len(res.Imputed))
		for name := range res.Imputed {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			_, _ = fmt.Fprintf(w, "Imputed %s:\t%d counties\n", name, res.Imputed[name])
		}
	}
	for _, name := range res.Dropped {
		_, _ = fmt.Fprintf(w, "Dropped:\t%s\n", name)
	}
	_ = w.Flush()
}
