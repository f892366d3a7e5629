package fetcher

import (
	"archive/zip"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/rotisserie/eris"
)

// ExtractZIPMember copies the first archive member whose base name matches
// the glob pattern to destPath. An empty pattern requires the archive to
// hold exactly one file.
func ExtractZIPMember(zipPath, pattern, destPath string) error {
	r, err := zip.OpenReader(zipPath)
	if err != nil {
		return eris.Wrap(err, "zip: open archive")
	}
	defer r.Close() //nolint:errcheck

	var files []*zip.File
	for _, f := range r.File {
		if !f.FileInfo().IsDir() {
			files = append(files, f)
		}
	}

	if pattern == "" {
		if len(files) != 1 {
			return eris.Errorf("zip: expected exactly 1 file, got %d", len(files))
		}
		return extractTo(files[0], destPath)
	}
	for _, f := range files {
		ok, err := path.Match(pattern, path.Base(f.Name))
		if err != nil {
			return eris.Wrapf(err, "zip: bad member pattern %q", pattern)
		}
		if ok {
			return extractTo(f, destPath)
		}
	}
	return eris.Errorf("zip: no member matches %q", pattern)
}

func extractTo(f *zip.File, destPath string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return eris.Wrap(err, "zip: create parent directory")
	}

	rc, err := f.Open()
	if err != nil {
		return eris.Wrap(err, "zip: open entry")
	}
	defer rc.Close() //nolint:errcheck

	out, err := os.Create(destPath)
	if err != nil {
		return eris.Wrap(err, "zip: create file")
	}
	if _, err := io.Copy(out, rc); err != nil {
		_ = out.Close()
		return eris.Wrap(err, "zip: write file")
	}
	return eris.Wrap(out.Close(), "zip: close file")
}
