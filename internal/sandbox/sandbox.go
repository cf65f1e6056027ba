// Package sandbox materializes per-session databases from uploaded files.
// Table and column names go through identifier sanitation; the sandbox file
// on disk always has a fixed name, never one derived from user input.
package sandbox

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
	_ "modernc.org/sqlite"

	"github.com/datapulse/datapulse/internal/observability"
	"github.com/datapulse/datapulse/internal/session"
)

// FileName is the fixed sandbox database filename inside a session dir.
const FileName = "user_database.db"

type File struct {
	Name    string
	Content []byte
}

type Manager struct {
	registry       *session.Registry
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewManager(registry *session.Registry, maxUploadBytes int64, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Manager{registry: registry, maxUploadBytes: maxUploadBytes, logger: logger}
}

// UploadTabular loads CSV/XLSX files into a fresh sandbox database, one
// table per file, and swaps the session over to it. On any failure the
// session state is left unchanged and partial files are removed.
func (m *Manager) UploadTabular(ctx context.Context, sessionID string, files []File) (string, error) {
	if len(files) == 0 {
		observability.ObserveUpload("tabular", false)
		return "", fmt.Errorf("no files provided")
	}
	for _, file := range files {
		if !hasTabularExtension(file.Name) {
			observability.ObserveUpload("tabular", false)
			return "", fmt.Errorf("unsupported file extension: %s", SecureFilename(file.Name))
		}
	}
	if err := m.checkSize(files); err != nil {
		observability.ObserveUpload("tabular", false)
		return "", err
	}

	dir, err := m.registry.SessionDir(sessionID)
	if err != nil {
		observability.ObserveUpload("tabular", false)
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		observability.ObserveUpload("tabular", false)
		return "", fmt.Errorf("create session dir: %w", err)
	}

	dbPath := filepath.Join(dir, FileName)
	tables, err := m.buildDatabase(ctx, dbPath, files)
	if err != nil {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("tabular", false)
		return "", err
	}

	schema, tables, err := Describe(ctx, dbPath)
	if err != nil {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("tabular", false)
		return "", err
	}
	if err := m.registry.SetCustomDatabase(sessionID, dbPath, schema, tables); err != nil {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("tabular", false)
		return "", err
	}

	observability.ObserveUpload("tabular", true)
	m.logger.Info("tabular upload accepted",
		slog.String("session", sessionID[:8]),
		slog.Int("tables", len(tables)),
	)
	return fmt.Sprintf("database created with %d tables: %s", len(tables), strings.Join(tables, ", ")), nil
}

// UploadDatabaseFile persists an uploaded SQLite file as the session's
// sandbox after verifying it contains at least one table. The user-provided
// filename decides nothing but the extension check.
func (m *Manager) UploadDatabaseFile(ctx context.Context, sessionID, filename string, content []byte) (string, error) {
	if !hasDatabaseExtension(filename) {
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("unsupported file extension: %s", SecureFilename(filename))
	}
	if int64(len(content)) > m.maxUploadBytes {
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("upload exceeds %d bytes", m.maxUploadBytes)
	}

	dir, err := m.registry.SessionDir(sessionID)
	if err != nil {
		observability.ObserveUpload("database", false)
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("create session dir: %w", err)
	}

	dbPath := filepath.Join(dir, FileName)
	if err := os.WriteFile(dbPath, content, 0o644); err != nil {
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("persist database file: %w", err)
	}

	schema, tables, err := Describe(ctx, dbPath)
	if err != nil {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("not a readable SQLite database: %w", err)
	}
	if len(tables) == 0 {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("database", false)
		return "", fmt.Errorf("database contains no tables")
	}

	if err := m.registry.SetCustomDatabase(sessionID, dbPath, schema, tables); err != nil {
		_ = os.Remove(dbPath)
		observability.ObserveUpload("database", false)
		return "", err
	}

	observability.ObserveUpload("database", true)
	m.logger.Info("database upload accepted",
		slog.String("session", sessionID[:8]),
		slog.Int("tables", len(tables)),
	)
	return fmt.Sprintf("database loaded with %d tables: %s", len(tables), strings.Join(tables, ", ")), nil
}

func (m *Manager) checkSize(files []File) error {
	var total int64
	for _, file := range files {
		total += int64(len(file.Content))
	}
	if total > m.maxUploadBytes {
		return fmt.Errorf("upload exceeds %d bytes", m.maxUploadBytes)
	}
	return nil
}

func (m *Manager) buildDatabase(ctx context.Context, dbPath string, files []File) ([]string, error) {
	// Start from a clean file so a re-upload fully replaces the old dataset.
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("reset sandbox file: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sandbox database: %w", err)
	}
	defer func() { _ = db.Close() }()

	var tables []string
	for _, file := range files {
		header, rows, err := parseTabular(file)
		if err != nil {
			return nil, fmt.Errorf("read file %s: %w", SecureFilename(file.Name), err)
		}
		table := TableName(SecureFilename(file.Name))
		if err := loadTable(ctx, db, table, header, rows); err != nil {
			return nil, fmt.Errorf("load table %s: %w", table, err)
		}
		tables = append(tables, table)
	}
	return tables, nil
}

func parseTabular(file File) ([]string, [][]string, error) {
	lower := strings.ToLower(file.Name)
	if strings.HasSuffix(lower, ".xlsx") || strings.HasSuffix(lower, ".xls") {
		return parseWorkbook(file.Content)
	}
	return parseCSV(file.Content)
}

func parseCSV(content []byte) ([]string, [][]string, error) {
	content = bytes.TrimPrefix(content, []byte{0xEF, 0xBB, 0xBF})
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("read header: %w", err)
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("read record: %w", err)
		}
		rows = append(rows, record)
	}
	return header, rows, nil
}

func parseWorkbook(content []byte) ([]string, [][]string, error) {
	workbook, err := excelize.OpenReader(bytes.NewReader(content))
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer func() { _ = workbook.Close() }()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("workbook has no sheets")
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return nil, nil, fmt.Errorf("sheet %q is empty", sheets[0])
	}
	return rows[0], rows[1:], nil
}

func loadTable(ctx context.Context, db *sql.DB, table string, header []string, rows [][]string) error {
	if len(header) == 0 {
		return fmt.Errorf("no columns")
	}
	columns := make([]string, len(header))
	for i, raw := range header {
		columns[i] = ColumnName(raw)
	}

	columnDefs := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, column := range columns {
		columnDefs[i] = quoteIdent(column) + " TEXT"
		placeholders[i] = "?"
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(table))); err != nil {
		return fmt.Errorf("drop existing table: %w", err)
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(table), strings.Join(columnDefs, ", "))); err != nil {
		return fmt.Errorf("create table: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(table), strings.Join(placeholders, ", ")))
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	for _, row := range rows {
		values := make([]any, len(columns))
		for i := range columns {
			if i < len(row) {
				values[i] = row[i]
			} else {
				values[i] = nil
			}
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			_ = stmt.Close()
			_ = tx.Rollback()
			return fmt.Errorf("insert row: %w", err)
		}
	}
	if err := stmt.Close(); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("close insert statement: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit inserts: %w", err)
	}
	return nil
}

func hasTabularExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv", ".xlsx", ".xls":
		return true
	default:
		return false
	}
}

func hasDatabaseExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".db", ".sqlite", ".sqlite3":
		return true
	default:
		return false
	}
}
