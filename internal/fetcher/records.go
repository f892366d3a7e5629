package fetcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// ReadRecords reads a local CSV, TXT or XLSX file into its header and rows.
// sheet selects an XLSX sheet by name and is ignored for text files.
func ReadRecords(ctx context.Context, path, sheet string) ([]string, [][]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx":
		return ReadXLSX(path, XLSXOptions{SheetName: sheet})
	case ".csv", ".txt", "":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "fetcher: open %s", path)
		}
		defer f.Close() //nolint:errcheck
		header, rows, err := ReadCSV(ctx, f)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "fetcher: read %s", path)
		}
		return header, rows, nil
	default:
		return nil, nil, eris.Errorf("fetcher: unsupported file type %q", filepath.Ext(path))
	}
}

// ColumnIndex maps lower-cased, trimmed header names to their positions.
func ColumnIndex(header []string) map[string]int {
	m := make(map[string]int, len(header))
	for i, col := range header {
		m[strings.ToLower(strings.TrimSpace(col))] = i
	}
	return m
}

// Field returns the named field of record, or "" when the column is absent
// or the record is short.
func Field(record []string, colIdx map[string]int, name string) string {
	idx, ok := colIdx[strings.ToLower(strings.TrimSpace(name))]
	if !ok || idx >= len(record) {
		return ""
	}
	return record[idx]
}
