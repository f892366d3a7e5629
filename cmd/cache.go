package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/city-explorer/internal/cache"
	"github.com/sells-group/city-explorer/internal/fusion"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect the fused-table cache",
}

var cacheSlugCmd = &cobra.Command{
	Use:   "slug <occupation>",
	Short: "Print the cache key for an occupation title",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, err := fmt.Fprintln(cmd.OutOrStdout(), snapshotKey(args[0]))
		return err
	},
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cached occupation keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, err := cache.Open(ctx, cfg.Cache)
		if err != nil {
			return eris.Wrap(err, "open cache")
		}
		defer store.Close() //nolint:errcheck

		lister, ok := store.(cache.Lister)
		if !ok {
			return eris.Errorf("cache driver %q cannot list keys", cfg.Cache.Driver)
		}
		keys, err := lister.Keys(ctx)
		if err != nil {
			return err
		}
		if len(keys) == 0 {
			fmt.Fprintln(os.Stderr, "Cache is empty.")
			return nil
		}
		for _, k := range keys {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), k)
		}
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheSlugCmd, cacheListCmd)
	rootCmd.AddCommand(cacheCmd)
}

func snapshotKey(occupation string) string {
	return fusion.CacheKey(occupation)
}
