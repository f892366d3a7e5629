package db

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/city-explorer/internal/table"
)

// CopyFrom bulk-inserts rows using the PostgreSQL COPY protocol. The table
// name may be schema-qualified ("explorer.city_features").
func CopyFrom(ctx context.Context, pool Pool, tableName string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, identifier(tableName), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY INTO %s", tableName)
	}
	return n, nil
}

// ExportTable replaces tableName with the contents of t in one transaction:
// drop, create with a column per table column, then COPY. Missing floats and
// strings are written as NULL.
func ExportTable(ctx context.Context, pool Pool, tableName string, t *table.Table) (int64, error) {
	if t.Width() == 0 {
		return 0, eris.Errorf("db: export %s: table has no columns", tableName)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: export: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, "DROP TABLE IF EXISTS "+sanitizeTable(tableName)); err != nil {
		return 0, eris.Wrapf(err, "db: export: drop %s", tableName)
	}
	if _, err := tx.Exec(ctx, createTableSQL(tableName, t)); err != nil {
		return 0, eris.Wrapf(err, "db: export: create %s", tableName)
	}

	n, err := tx.CopyFrom(ctx, identifier(tableName), t.Names(), pgx.CopyFromRows(exportRows(t)))
	if err != nil {
		return 0, eris.Wrapf(err, "db: export: COPY INTO %s", tableName)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: export: commit tx")
	}
	return n, nil
}

func createTableSQL(tableName string, t *table.Table) string {
	defs := make([]string, 0, t.Width())
	for _, c := range t.Columns() {
		defs = append(defs, fmt.Sprintf("%s %s", pgx.Identifier{c.Name}.Sanitize(), columnType(c.Kind)))
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", sanitizeTable(tableName), strings.Join(defs, ", "))
}

func columnType(k table.Kind) string {
	switch k {
	case table.Int:
		return "BIGINT"
	case table.Float:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

func exportRows(t *table.Table) [][]any {
	cols := t.Columns()
	rows := make([][]any, t.Len())
	for i := range rows {
		row := make([]any, len(cols))
		for j, c := range cols {
			switch c.Kind {
			case table.Int:
				row[j] = c.Ints[i]
			case table.Float:
				if math.IsNaN(c.Floats[i]) {
					row[j] = nil
				} else {
					row[j] = c.Floats[i]
				}
			case table.String:
				if c.Strings[i] == "" {
					row[j] = nil
				} else {
					row[j] = c.Strings[i]
				}
			}
		}
		rows[i] = row
	}
	return rows
}

func identifier(tableName string) pgx.Identifier {
	parts := strings.SplitN(tableName, ".", 2)
	return pgx.Identifier(parts)
}

// sanitizeTable handles schema-qualified table names like "explorer.city_features".
func sanitizeTable(tableName string) string {
	return identifier(tableName).Sanitize()
}
