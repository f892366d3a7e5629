package main

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/city-explorer/internal/explorer"
	"github.com/sells-group/city-explorer/internal/rank"
)

var similarCmd = &cobra.Command{
	Use:   "similar",
	Short: "Rank cities by similarity to a reference city",
	Long:  "Scores every city of the occupation's fused table by weighted distance to --city. Slider weights default to the catalog defaults; pass --weight slider=value to override.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cityID, _ := cmd.Flags().GetInt64("city")
		occupation, _ := cmd.Flags().GetString("occupation")
		weightArgs, _ := cmd.Flags().GetStringArray("weight")
		limit, _ := cmd.Flags().GetInt("limit")
		metricName, _ := cmd.Flags().GetString("metric")
		excludeSelf, _ := cmd.Flags().GetBool("exclude-self")
		format, _ := cmd.Flags().GetString("format")

		if !cmd.Flags().Changed("limit") {
			limit = cfg.Ranking.DefaultLimit
		}
		sliders, err := parseWeights(weightArgs)
		if err != nil {
			return err
		}

		var opts []explorer.QueryOption
		if metricName != "" {
			m, err := rank.ParseMetric(metricName)
			if err != nil {
				return err
			}
			opts = append(opts, explorer.WithMetric(m))
		}
		if excludeSelf {
			opts = append(opts, explorer.WithExcludeSelf())
		}

		env, err := initEnv(ctx, cfg)
		if err != nil {
			return err
		}
		defer env.Close()

		matches, err := env.Explorer.Similar(ctx, cityID, occupation, sliders, limit, opts...)
		if err != nil {
			return err
		}
		return writeMatches(os.Stdout, matches, format)
	},
}

func init() {
	f := similarCmd.Flags()
	f.Int64("city", 0, "reference city id")
	f.String("occupation", "", "occupation title (case-insensitive)")
	f.StringArray("weight", nil, "slider weight as name=value (repeatable)")
	f.Int("limit", 0, "maximum results, 0 for all (default from config)")
	f.String("metric", "", "euclidean or manhattan (default from config)")
	f.Bool("exclude-self", false, "leave the reference city out")
	f.String("format", "table", "output format: table, csv or json")
	_ = similarCmd.MarkFlagRequired("city")
	rootCmd.AddCommand(similarCmd)
}

// parseWeights turns name=value pairs into slider weights.
func parseWeights(args []string) (map[string]float64, error) {
	out := make(map[string]float64, len(args))
	for _, a := range args {
		name, raw, ok := strings.Cut(a, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, eris.Errorf("weight %q must be name=value", a)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, eris.Wrapf(err, "weight %q", a)
		}
		out[strings.TrimSpace(name)] = v
	}
	return out, nil
}

// writeMatches renders ranked cities in the requested format.
func writeMatches(out io.Writer, matches []explorer.Match, format string) error {
	switch strings.ToLower(format) {
	case "", "table":
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "RANK\tCITY_ID\tCITY\tSTATE\tCOUNTY\tSCORE")
		_, _ = fmt.Fprintln(w, "----\t-------\t----\t-----\t------\t-----")
		for i, m := range matches {
			_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%.6f\n", i+1, m.CityID, m.City, m.State, m.CountyFIPS, m.Score)
		}
		return w.Flush()
	case "csv":
		w := csv.NewWriter(out)
		_ = w.Write([]string{"rank", "city_id", "city", "state", "county_fips", "score"})
		for i, m := range matches {
			_ = w.Write([]string{
				strconv.Itoa(i + 1),
				strconv.FormatInt(m.CityID, 10),
				m.City,
				m.State,
				m.CountyFIPS,
				strconv.FormatFloat(m.Score, 'g', -1, 64),
			})
		}
		w.Flush()
		return w.Error()
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(matches)
	default:
		return eris.Errorf("unknown format %q (table, csv or json)", format)
	}
}
