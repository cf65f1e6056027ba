package sandbox

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
)

// Describe re-reads the sandbox's table/column catalog and row counts and
// renders the textual schema used both for generator prompts and as the
// result-cache key component.
func Describe(ctx context.Context, dbPath string) (string, []string, error) {
	// Opening a missing path would create an empty database file.
	if _, err := os.Stat(dbPath); err != nil {
		return "", nil, fmt.Errorf("stat database: %w", err)
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return "", nil, fmt.Errorf("open sandbox database: %w", err)
	}
	defer func() { _ = db.Close() }()

	tables, err := listTables(ctx, db)
	if err != nil {
		return "", nil, err
	}

	var builder strings.Builder
	for _, table := range tables {
		columns, err := tableColumns(ctx, db, table)
		if err != nil {
			return "", nil, err
		}

		var rowCount int64
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(table)).Scan(&rowCount); err != nil {
			return "", nil, fmt.Errorf("count rows of %q: %w", table, err)
		}

		fmt.Fprintf(&builder, "Table: %s (%d rows)\n", table, rowCount)
		builder.WriteString("Columns: " + strings.Join(columns, ", ") + "\n\n")
	}

	return builder.String(), tables, nil
}

func listTables(ctx context.Context, db *sql.DB) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

func tableColumns(ctx context.Context, db *sql.DB, table string) ([]string, error) {
	rows, err := db.QueryContext(ctx, "SELECT name, type FROM pragma_table_info(?)", table)
	if err != nil {
		return nil, fmt.Errorf("table info for %q: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var name, columnType string
		if err := rows.Scan(&name, &columnType); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		if columnType == "" {
			columnType = "TEXT"
		}
		columns = append(columns, fmt.Sprintf("%s: %s", name, columnType))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}
