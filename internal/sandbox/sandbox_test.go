package sandbox

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/datapulse/datapulse/internal/session"
)

func newTestSetup(t *testing.T) (*Manager, *session.Registry, string) {
	t.Helper()
	registry, err := session.NewRegistry(session.Config{
		TTL:        4 * time.Hour,
		UploadsDir: t.TempDir(),
		DemoDBPath: "data/database.db",
		DemoSchema: "Table: customers",
		DemoTables: []string{"customers"},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	manager := NewManager(registry, 1024*1024, nil)
	created := registry.Create()
	return manager, registry, created.ID
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"data.csv":             "data.csv",
		"../../etc/passwd":     "passwd",
		"a/b/c.csv":            "c.csv",
		"bad\x00name.csv":      "badname.csv",
		"we!rd (name).csv":     "we_rd__name_.csv",
		"":                     "unnamed",
		strings.Repeat("x", 200) + ".csv": strings.Repeat("x", 100),
	}
	for input, want := range cases {
		if got := SecureFilename(input); got != want {
			t.Fatalf("SecureFilename(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTableAndColumnNames(t *testing.T) {
	if got := TableName("2024-sales.csv"); got != "table_2024_sales" {
		t.Fatalf("TableName = %q", got)
	}
	if got := TableName("Orders.CSV"); got != "orders" {
		t.Fatalf("TableName = %q", got)
	}
	if got := ColumnName("1st Col"); got != "col_1st_col" {
		t.Fatalf("ColumnName = %q", got)
	}
	if got := ColumnName("Name!"); got != "name_" {
		t.Fatalf("ColumnName = %q", got)
	}
	if got := ColumnName(""); got != "column" {
		t.Fatalf("ColumnName = %q", got)
	}
}

func TestUploadTabularRoundTrip(t *testing.T) {
	manager, registry, sessionID := newTestSetup(t)

	csvContent := []byte("1st Col,Name!\n1,Ada\n2,Grace\n")
	message, err := manager.UploadTabular(context.Background(), sessionID, []File{{Name: "People List.csv", Content: csvContent}})
	if err != nil {
		t.Fatalf("UploadTabular() error = %v", err)
	}
	if !strings.Contains(message, "people_list") {
		t.Fatalf("message = %q", message)
	}

	found, ok := registry.Get(sessionID)
	if !ok {
		t.Fatal("session missing after upload")
	}
	if found.Kind != session.KindCustom {
		t.Fatalf("Kind = %q, want custom", found.Kind)
	}
	if len(found.Tables) != 1 || found.Tables[0] != "people_list" {
		t.Fatalf("Tables = %v", found.Tables)
	}
	if !strings.Contains(found.Schema, "Table: people_list (2 rows)") {
		t.Fatalf("Schema = %q", found.Schema)
	}
	if !strings.Contains(found.Schema, "col_1st_col") || !strings.Contains(found.Schema, "name_") {
		t.Fatalf("Schema columns not sanitized: %q", found.Schema)
	}

	db, err := sql.Open("sqlite", found.DBPath)
	if err != nil {
		t.Fatalf("open sandbox: %v", err)
	}
	defer db.Close()
	var name string
	if err := db.QueryRow(`SELECT name_ FROM people_list WHERE col_1st_col = '2'`).Scan(&name); err != nil {
		t.Fatalf("query back: %v", err)
	}
	if name != "Grace" {
		t.Fatalf("name = %q, want Grace", name)
	}
}

func TestUploadTabularRejectsOversized(t *testing.T) {
	manager, _, sessionID := newTestSetup(t)
	manager.maxUploadBytes = 10

	_, err := manager.UploadTabular(context.Background(), sessionID, []File{{Name: "big.csv", Content: []byte("a,b\n1,2\n3,4\n")}})
	if err == nil {
		t.Fatal("oversized upload accepted")
	}
}

func TestUploadTabularRejectsWrongExtension(t *testing.T) {
	manager, registry, sessionID := newTestSetup(t)

	for _, name := range []string{"payload.exe", "data.json", "noext"} {
		_, err := manager.UploadTabular(context.Background(), sessionID, []File{{Name: name, Content: []byte("a,b\n1,2\n")}})
		if err == nil {
			t.Fatalf("extension of %q accepted", name)
		}
	}

	found, _ := registry.Get(sessionID)
	if found.Kind != session.KindDemo {
		t.Fatal("session state changed by rejected upload")
	}
}

func TestUploadTabularRejectsInvalidSession(t *testing.T) {
	manager, _, _ := newTestSetup(t)
	_, err := manager.UploadTabular(context.Background(), "../../etc", []File{{Name: "a.csv", Content: []byte("a\n1\n")}})
	if err == nil {
		t.Fatal("traversal session id accepted")
	}
}

func TestUploadDatabaseFile(t *testing.T) {
	manager, registry, sessionID := newTestSetup(t)

	sourcePath := filepath.Join(t.TempDir(), "source.db")
	source, err := sql.Open("sqlite", sourcePath)
	if err != nil {
		t.Fatalf("open source: %v", err)
	}
	if _, err := source.Exec(`CREATE TABLE metrics (k TEXT, v REAL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := source.Exec(`INSERT INTO metrics VALUES ('uptime', 0.99)`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	source.Close()

	content, err := os.ReadFile(sourcePath)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}

	message, err := manager.UploadDatabaseFile(context.Background(), sessionID, "metrics.sqlite", content)
	if err != nil {
		t.Fatalf("UploadDatabaseFile() error = %v", err)
	}
	if !strings.Contains(message, "metrics") {
		t.Fatalf("message = %q", message)
	}

	found, _ := registry.Get(sessionID)
	if found.Kind != session.KindCustom || len(found.Tables) != 1 {
		t.Fatalf("session = %+v", found)
	}
}

func TestUploadDatabaseFileRejectsWrongExtension(t *testing.T) {
	manager, _, sessionID := newTestSetup(t)
	if _, err := manager.UploadDatabaseFile(context.Background(), sessionID, "notes.txt", []byte("hello")); err == nil {
		t.Fatal("wrong extension accepted")
	}
}

func TestUploadDatabaseFileRejectsGarbageAndDeletesPartial(t *testing.T) {
	manager, registry, sessionID := newTestSetup(t)

	_, err := manager.UploadDatabaseFile(context.Background(), sessionID, "fake.db", []byte("this is not sqlite"))
	if err == nil {
		t.Fatal("garbage database accepted")
	}

	dir, err := registry.SessionDir(sessionID)
	if err != nil {
		t.Fatalf("SessionDir() error = %v", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, FileName)); !os.IsNotExist(statErr) {
		t.Fatal("partial file survived rejection")
	}

	found, _ := registry.Get(sessionID)
	if found.Kind != session.KindDemo {
		t.Fatal("session state changed by rejected upload")
	}
}

func TestUploadTabularMultipleFiles(t *testing.T) {
	manager, registry, sessionID := newTestSetup(t)

	files := []File{
		{Name: "alpha.csv", Content: []byte("id,v\n1,a\n")},
		{Name: "beta.csv", Content: []byte("id,v\n1,b\n2,c\n")},
	}
	if _, err := manager.UploadTabular(context.Background(), sessionID, files); err != nil {
		t.Fatalf("UploadTabular() error = %v", err)
	}

	found, _ := registry.Get(sessionID)
	if len(found.Tables) != 2 {
		t.Fatalf("Tables = %v", found.Tables)
	}
}
