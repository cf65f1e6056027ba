// Package sqlcache maps (question, schema) pairs to previously validated SQL
// so repeat questions skip the external generator round trip. Only SQL that
// has already passed the safety validator may be stored; the cache is never a
// safety boundary itself.
package sqlcache

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

type entry struct {
	sql       string
	createdAt time.Time
}

type Cache struct {
	mu         sync.Mutex
	entries    map[string]entry
	maxEntries int
	ttl        time.Duration
	clock      func() time.Time
}

type Stats struct {
	Size       int           `json:"size"`
	MaxEntries int           `json:"max_entries"`
	TTL        time.Duration `json:"ttl"`
}

func New(maxEntries int, ttl time.Duration) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		clock:      time.Now,
	}
}

// key is case- and whitespace-insensitive on the question but exact on the
// schema text, so a re-uploaded dataset naturally misses old entries.
func key(question, schema string) string {
	digest := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(question)) + "\x00" + schema))
	return hex.EncodeToString(digest[:])
}

// Get returns the cached SQL for the pair, treating expired entries as
// absent and removing them lazily.
func (c *Cache) Get(question, schema string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	k := key(question, schema)
	found, ok := c.entries[k]
	if !ok {
		return "", false
	}
	if c.clock().Sub(found.createdAt) >= c.ttl {
		delete(c.entries, k)
		return "", false
	}
	return found.sql, true
}

// Put stores validated SQL. At capacity it first purges expired entries and,
// if still full, evicts the oldest half by creation time. Approximate LRU is
// acceptable here: a miss costs one generator round trip, not correctness.
func (c *Cache) Put(question, schema, sql string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.cleanup()
	}
	c.entries[key(question, schema)] = entry{sql: sql, createdAt: c.clock()}
}

func (c *Cache) cleanup() {
	now := c.clock()
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}

	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].createdAt.Before(c.entries[keys[j]].createdAt)
	})
	for _, k := range keys[:len(keys)/2] {
		delete(c.entries, k)
	}
}

func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry)
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: len(c.entries), MaxEntries: c.maxEntries, TTL: c.ttl}
}
