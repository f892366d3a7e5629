package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/city-explorer/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "city-explorer",
	Short: "Find US cities similar to a reference city",
	Long:  "Fuses city, wage and county attribute sources into one feature table per occupation and ranks cities by weighted distance to a reference city.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if err := applyOverrides(c, cmd.Flags()); err != nil {
			return err
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

// applyOverrides lets the persistent flags beat config.yaml and EXPLORER_*
// variables. Only flags set on the command line apply.
func applyOverrides(c *config.Config, flags *pflag.FlagSet) error {
	overrides := []struct {
		flag string
		dst  *string
	}{
		{"data-dir", &c.Data.Dir},
		{"catalog", &c.Data.CatalogPath},
		{"cache-driver", &c.Cache.Driver},
		{"cache-dir", &c.Cache.Dir},
		{"log-level", &c.Log.Level},
	}
	changed := false
	for _, o := range overrides {
		f := flags.Lookup(o.flag)
		if f == nil || !f.Changed {
			continue
		}
		*o.dst = f.Value.String()
		changed = true
	}
	if !changed {
		return nil
	}
	return eris.Wrap(c.Validate(), "flags")
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("data-dir", "", "directory holding the source files (overrides data.dir)")
	pf.String("catalog", "", "source catalog YAML (overrides data.catalog_path)")
	pf.String("cache-driver", "", "fused-table cache: file, sqlite, postgres or none")
	pf.String("cache-dir", "", "directory for the file and sqlite caches")
	pf.String("log-level", "", "debug, info, warn or error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
