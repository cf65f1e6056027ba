// Package session holds the thread-safe registry of per-user database
// sandboxes. Every identifier is checked against the UUID v4 grammar before
// it is ever used to build a filesystem path; that check is the sole defense
// against path traversal via a crafted session id.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datapulse/datapulse/internal/observability"
)

type Kind string

const (
	// KindDemo sessions share the read-only demo database and never own a
	// private file on disk.
	KindDemo Kind = "demo"
	// KindCustom sessions own exactly one sandbox file under a directory
	// named after the session id.
	KindCustom Kind = "custom"
)

type Session struct {
	ID         string
	DBPath     string
	Kind       Kind
	Schema     string
	Tables     []string
	CreatedAt  time.Time
	LastAccess time.Time
}

var uuidV4Pattern = regexp.MustCompile(`^[a-f0-9]{8}-[a-f0-9]{4}-4[a-f0-9]{3}-[89ab][a-f0-9]{3}-[a-f0-9]{12}$`)

// ValidID reports whether id matches the UUID v4 textual grammar exactly,
// including the fixed version nibble and constrained variant nibble.
func ValidID(id string) bool {
	return uuidV4Pattern.MatchString(id)
}

type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
	UploadsDir    string
	DemoDBPath    string
	DemoSchema    string
	DemoTables    []string
}

type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	cfg      Config
	logger   *slog.Logger
	clock    func() time.Time
}

func NewRegistry(cfg Config, logger *slog.Logger) (*Registry, error) {
	if cfg.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be > 0")
	}
	if cfg.UploadsDir == "" {
		return nil, fmt.Errorf("uploads dir is required")
	}
	if err := os.MkdirAll(cfg.UploadsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		clock:    time.Now,
	}, nil
}

// Create registers a new demo session and returns a copy of it.
func (r *Registry) Create() Session {
	now := r.clock()
	created := &Session{
		ID:         uuid.NewString(),
		DBPath:     r.cfg.DemoDBPath,
		Kind:       KindDemo,
		Schema:     r.cfg.DemoSchema,
		Tables:     append([]string(nil), r.cfg.DemoTables...),
		CreatedAt:  now,
		LastAccess: now,
	}

	r.mu.Lock()
	r.sessions[created.ID] = created
	count := len(r.sessions)
	r.mu.Unlock()

	observability.SetSessionsActive(count)
	r.logger.Info("session created", slog.String("session", idPrefix(created.ID)))
	return *created
}

// Get returns a copy of the session and touches its last access time. An
// expired session behaves exactly like a missing one; its cleanup happens
// asynchronously so the caller is never blocked on disk I/O.
func (r *Registry) Get(id string) (Session, bool) {
	if !ValidID(id) {
		return Session{}, false
	}

	r.mu.Lock()
	found, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	now := r.clock()
	if now.Sub(found.CreatedAt) >= r.cfg.TTL {
		r.mu.Unlock()
		go r.Delete(id)
		return Session{}, false
	}
	found.LastAccess = now
	copied := *found
	copied.Tables = append([]string(nil), found.Tables...)
	r.mu.Unlock()
	return copied, true
}

// Delete removes the session and, for custom sessions, its directory.
// Directory removal happens outside the lock.
func (r *Registry) Delete(id string) {
	if !ValidID(id) {
		return
	}

	r.mu.Lock()
	removed, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	count := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return
	}
	observability.SetSessionsActive(count)

	if removed.Kind != KindDemo {
		r.removeSessionDir(id)
	}
	r.logger.Info("session deleted", slog.String("session", idPrefix(id)))
}

// ResetToDemo discards the session's custom sandbox and points it back at
// the shared demo database.
func (r *Registry) ResetToDemo(id string) (bool, string) {
	if !ValidID(id) {
		return false, "invalid session id"
	}

	r.mu.Lock()
	found, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return false, "session not found"
	}
	wasCustom := found.Kind != KindDemo
	r.mu.Unlock()

	if wasCustom {
		r.removeSessionDir(id)
	}

	r.mu.Lock()
	if found, ok := r.sessions[id]; ok {
		found.DBPath = r.cfg.DemoDBPath
		found.Kind = KindDemo
		found.Schema = r.cfg.DemoSchema
		found.Tables = append([]string(nil), r.cfg.DemoTables...)
		found.LastAccess = r.clock()
	}
	r.mu.Unlock()

	return true, "database reset to demo"
}

// SetCustomDatabase points the session at a freshly materialized sandbox.
func (r *Registry) SetCustomDatabase(id, dbPath, schema string, tables []string) error {
	if !ValidID(id) {
		return fmt.Errorf("invalid session id")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	found, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session not found")
	}
	found.DBPath = dbPath
	found.Kind = KindCustom
	found.Schema = schema
	found.Tables = append([]string(nil), tables...)
	found.LastAccess = r.clock()
	return nil
}

// SessionDir returns the per-session directory path. The id must already be
// registered; the UUID grammar check makes the join safe.
func (r *Registry) SessionDir(id string) (string, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("invalid session id")
	}
	r.mu.Lock()
	_, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("session not found")
	}
	return filepath.Join(r.cfg.UploadsDir, id), nil
}

func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// RunSweeper removes expired sessions and orphaned per-session directories
// on a fixed interval until ctx is cancelled. It is owned by the registry's
// lifecycle and shares state with request handlers only through the map lock.
func (r *Registry) RunSweeper(ctx context.Context) {
	interval := r.cfg.SweepInterval
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.SweepOnce()
		}
	}
}

// SweepOnce performs one cleanup pass.
func (r *Registry) SweepOnce() {
	now := r.clock()

	r.mu.Lock()
	expired := make([]string, 0)
	for id, found := range r.sessions {
		if now.Sub(found.CreatedAt) >= r.cfg.TTL {
			expired = append(expired, id)
		}
	}
	r.mu.Unlock()

	for _, id := range expired {
		r.Delete(id)
	}

	entries, err := os.ReadDir(r.cfg.UploadsDir)
	if err != nil {
		r.logger.Error("sweep: read uploads dir", slog.Any("error", err))
		return
	}
	r.mu.Lock()
	orphans := make([]string, 0)
	for _, dirEntry := range entries {
		if !dirEntry.IsDir() {
			continue
		}
		if _, ok := r.sessions[dirEntry.Name()]; !ok {
			orphans = append(orphans, dirEntry.Name())
		}
	}
	r.mu.Unlock()

	for _, name := range orphans {
		if err := os.RemoveAll(filepath.Join(r.cfg.UploadsDir, name)); err != nil {
			r.logger.Error("sweep: remove orphan dir", slog.String("dir", idPrefix(name)), slog.Any("error", err))
			continue
		}
		r.logger.Info("sweep: orphan dir removed", slog.String("dir", idPrefix(name)))
	}

	if len(expired) > 0 {
		r.logger.Info("sweep completed", slog.Int("expired", len(expired)), slog.Int("orphans", len(orphans)))
	}
}

func (r *Registry) removeSessionDir(id string) {
	dir := filepath.Join(r.cfg.UploadsDir, id)
	if err := os.RemoveAll(dir); err != nil {
		r.logger.Error("remove session dir", slog.String("session", idPrefix(id)), slog.Any("error", err))
	}
}

func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
