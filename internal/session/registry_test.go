package session

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func newTestRegistry(t *testing.T) (*Registry, *time.Time) {
	t.Helper()
	registry, err := NewRegistry(Config{
		TTL:           4 * time.Hour,
		SweepInterval: time.Minute,
		UploadsDir:    t.TempDir(),
		DemoDBPath:    "data/database.db",
		DemoSchema:    "Table: customers",
		DemoTables:    []string{"customers", "orders"},
	}, nil)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	now := time.Unix(9000, 0)
	registry.clock = func() time.Time { return now }
	return registry, &now
}

func TestValidID(t *testing.T) {
	cases := map[string]bool{
		"550e8400-e29b-41d4-a716-446655440000": true,
		"550e8400-e29b-41d4-a716":              false,
		"../../etc/passwd":                     false,
		"":                                     false,
		"550E8400-E29B-41D4-A716-446655440000": false, // grammar is lower-case hex
		"550e8400-e29b-11d4-a716-446655440000": false, // wrong version nibble
		"550e8400-e29b-41d4-c716-446655440000": false, // wrong variant nibble
	}
	for id, want := range cases {
		if got := ValidID(id); got != want {
			t.Fatalf("ValidID(%q) = %v, want %v", id, got, want)
		}
	}
}

func TestCreateAndGet(t *testing.T) {
	registry, _ := newTestRegistry(t)

	created := registry.Create()
	if !ValidID(created.ID) {
		t.Fatalf("Create() id %q fails UUID v4 grammar", created.ID)
	}
	if created.Kind != KindDemo {
		t.Fatalf("Kind = %q, want demo", created.Kind)
	}

	found, ok := registry.Get(created.ID)
	if !ok {
		t.Fatal("Get() after Create() = not found")
	}
	if found.Schema != "Table: customers" || len(found.Tables) != 2 {
		t.Fatalf("session = %+v", found)
	}
}

func TestGetTouchesLastAccess(t *testing.T) {
	registry, now := newTestRegistry(t)
	created := registry.Create()

	*now = now.Add(time.Hour)
	found, ok := registry.Get(created.ID)
	if !ok {
		t.Fatal("Get() = not found")
	}
	if !found.LastAccess.Equal(*now) {
		t.Fatalf("LastAccess = %v, want %v", found.LastAccess, *now)
	}
}

func TestGetExpiredBehavesLikeNotFound(t *testing.T) {
	registry, now := newTestRegistry(t)
	created := registry.Create()

	*now = now.Add(4 * time.Hour)
	if _, ok := registry.Get(created.ID); ok {
		t.Fatal("Get() on expired session = found")
	}
}

func TestGetRejectsMalformedID(t *testing.T) {
	registry, _ := newTestRegistry(t)
	if _, ok := registry.Get("../../etc/passwd"); ok {
		t.Fatal("Get() accepted a traversal id")
	}
}

func TestDeleteRemovesCustomDirectory(t *testing.T) {
	registry, _ := newTestRegistry(t)
	created := registry.Create()

	dir, err := registry.SessionDir(created.ID)
	if err != nil {
		t.Fatalf("SessionDir() error = %v", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	dbPath := filepath.Join(dir, "user_database.db")
	if err := os.WriteFile(dbPath, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := registry.SetCustomDatabase(created.ID, dbPath, "Table: t", []string{"t"}); err != nil {
		t.Fatalf("SetCustomDatabase() error = %v", err)
	}

	registry.Delete(created.ID)
	if _, ok := registry.Get(created.ID); ok {
		t.Fatal("session survived Delete()")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatalf("session dir survived Delete(): %v", err)
	}
}

func TestResetToDemo(t *testing.T) {
	registry, _ := newTestRegistry(t)
	created := registry.Create()

	dir, _ := registry.SessionDir(created.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := registry.SetCustomDatabase(created.ID, filepath.Join(dir, "user_database.db"), "Table: t", []string{"t"}); err != nil {
		t.Fatalf("SetCustomDatabase() error = %v", err)
	}

	ok, message := registry.ResetToDemo(created.ID)
	if !ok {
		t.Fatalf("ResetToDemo() = false, %q", message)
	}
	found, _ := registry.Get(created.ID)
	if found.Kind != KindDemo || found.DBPath != "data/database.db" {
		t.Fatalf("session after reset = %+v", found)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Fatal("custom dir survived reset")
	}

	if ok, _ := registry.ResetToDemo("not-a-uuid"); ok {
		t.Fatal("ResetToDemo() accepted malformed id")
	}
}

func TestSweepOnceRemovesExpiredAndOrphans(t *testing.T) {
	registry, now := newTestRegistry(t)
	stale := registry.Create()
	*now = now.Add(2 * time.Hour)
	fresh := registry.Create()

	orphan := filepath.Join(registry.cfg.UploadsDir, "beefcafe-dead-4bad-8bad-000000000000")
	if err := os.MkdirAll(orphan, 0o755); err != nil {
		t.Fatalf("mkdir orphan: %v", err)
	}

	*now = now.Add(2 * time.Hour)
	registry.SweepOnce()

	if _, ok := registry.Get(stale.ID); ok {
		t.Fatal("expired session survived sweep")
	}
	if _, ok := registry.Get(fresh.ID); !ok {
		t.Fatal("live session removed by sweep")
	}
	if _, err := os.Stat(orphan); !os.IsNotExist(err) {
		t.Fatal("orphan dir survived sweep")
	}
}

func TestConcurrentCreateYieldsDistinctSessions(t *testing.T) {
	registry, _ := newTestRegistry(t)

	const n = 50
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids <- registry.Create().ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool, n)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
		if _, ok := registry.Get(id); !ok {
			t.Fatalf("session %s not retrievable", id)
		}
	}
	if registry.Count() != n {
		t.Fatalf("Count() = %d, want %d", registry.Count(), n)
	}
}
