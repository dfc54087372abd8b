package archive

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// upsertSQL builds "INSERT ... ON CONFLICT(pk) DO UPDATE SET col =
// excluded.col" from a column descriptor list. The primary key columns come
// first in the VALUES order.
func upsertSQL(table string, pk []string, cols []string) string {
	all := append(append([]string{}, pk...), cols...)

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(table)
	b.WriteString(" (")
	b.WriteString(strings.Join(all, ", "))
	b.WriteString(") VALUES (")
	b.WriteString(strings.TrimSuffix(strings.Repeat("?, ", len(all)), ", "))
	b.WriteString(") ON CONFLICT(")
	b.WriteString(strings.Join(pk, ", "))
	b.WriteString(") DO UPDATE SET ")
	for i, c := range cols {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(c)
		b.WriteString(" = excluded.")
		b.WriteString(c)
	}
	return b.String()
}

// placeholders returns "?, ?, ..., ?" of length n.
func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func countTable(ctx context.Context, db *sql.DB, table string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("archive: count %s: %w", table, err)
	}
	return n, nil
}
