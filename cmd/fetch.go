package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/city-explorer/internal/catalog"
	"github.com/sells-group/city-explorer/internal/config"
	"github.com/sells-group/city-explorer/internal/fetcher"
	"github.com/sells-group/city-explorer/internal/resilience"
)

var fetchForce bool

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download catalog sources into the data directory",
	Long:  "Downloads every catalog source that declares an http(s) or ftp url. Zip archives are unpacked to the declared file. Existing files are kept unless --force is set.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		cat, err := loadCatalog(cfg)
		if err != nil {
			return err
		}

		f := newSourceFetcher(cfg.Fetch)

		n, err := fetchSources(ctx, f, cfg.Data.Dir, cat.Files(), fetchForce)
		if err != nil {
			return err
		}
		zap.L().Info("fetch complete", zap.Int("downloaded", n))
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchForce, "force", false, "download even when the file exists")
	rootCmd.AddCommand(fetchCmd)
}

// newSourceFetcher routes http(s) sources through the rate-limited retrying
// client and ftp:// sources through an anonymous FTP session.
func newSourceFetcher(c config.FetchConfig) *fetcher.Router {
	timeout := time.Duration(c.TimeoutSecs) * time.Second
	httpF := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:         c.UserAgent,
		Timeout:           timeout,
		MaxRetries:        c.MaxRetries,
		RequestsPerSecond: c.RequestsPerSecond,
		Retry: resilience.RetryConfig{
			MaxAttempts:    c.MaxRetries,
			InitialBackoff: time.Second,
			OnRetry: func(attempt int, err error) {
				zap.L().Warn("retrying download", zap.Int("attempt", attempt), zap.Error(err))
			},
		},
	})
	return &fetcher.Router{HTTP: httpF, FTP: fetcher.NewFTPFetcher(timeout)}
}

// fetchSources downloads each file with a URL into dir and returns how many
// were downloaded.
func fetchSources(ctx context.Context, f fetcher.Fetcher, dir string, files []catalog.File, force bool) (int, error) {
	seen := make(map[string]bool)
	var todo []catalog.File
	for _, file := range files {
		if file.URL == "" || seen[file.Path] {
			continue
		}
		seen[file.Path] = true
		dest := filepath.Join(dir, file.Path)
		if _, err := os.Stat(dest); err == nil && !force {
			zap.L().Debug("source present, skipping", zap.String("file", file.Path))
			continue
		}
		todo = append(todo, file)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, file := range todo {
		g.Go(func() error {
			return fetchOne(gctx, f, filepath.Join(dir, file.Path), file)
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}
	return len(todo), nil
}

func fetchOne(ctx context.Context, f fetcher.Fetcher, dest string, file catalog.File) error {
	log := zap.L().With(zap.String("file", file.Path), zap.String("url", file.URL))

	if !isArchive(file) {
		n, err := f.DownloadToFile(ctx, file.URL, dest)
		if err != nil {
			return eris.Wrapf(err, "fetch %s", file.Path)
		}
		log.Info("downloaded", zap.Int64("bytes", n))
		return nil
	}

	archive := dest + ".zip"
	defer os.Remove(archive) //nolint:errcheck
	n, err := f.DownloadToFile(ctx, file.URL, archive)
	if err != nil {
		return eris.Wrapf(err, "fetch %s", file.Path)
	}
	if err := fetcher.ExtractZIPMember(archive, file.ArchiveMember, dest); err != nil {
		return eris.Wrapf(err, "fetch %s", file.Path)
	}
	log.Info("downloaded and extracted", zap.Int64("bytes", n), zap.String("member", file.ArchiveMember))
	return nil
}

func isArchive(file catalog.File) bool {
	if file.ArchiveMember != "" {
		return true
	}
	u := strings.ToLower(file.URL)
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".zip") && !strings.HasSuffix(strings.ToLower(file.Path), ".zip")
}
