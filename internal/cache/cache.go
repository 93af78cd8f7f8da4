// Package cache implements a bounded in-memory cache with TTL and
// stale-while-revalidate semantics. It is process-wide state: constructed once
// at startup and shared by reference, never serialized.
package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries is the default item-count ceiling.
	DefaultMaxEntries = 512
	// DefaultMaxBytes is the default total-payload ceiling.
	DefaultMaxBytes = 32 << 20 // 32 MiB
	// DefaultStaleWindow is the default stale-while-revalidate window.
	DefaultStaleWindow = 5 * time.Minute
)

// Config configures a Cache.
type Config struct {
	// MaxEntries is the item-count ceiling. Zero uses the default.
	MaxEntries int
	// MaxBytes is the total-payload-size ceiling. Zero uses the default.
	MaxBytes int64
	// StaleWindow is how long past its TTL an entry may still be served
	// (marked stale) before it is evicted on read.
	StaleWindow time.Duration
	// OnEvict, when set, is called once per evicted entry.
	OnEvict func()
}

// entry is one cached payload with its insertion metadata.
type entry struct {
	key         string
	payload     []byte
	ttl         time.Duration
	insertedAt  time.Time
	fingerprint string
	elem        *list.Element
}

// Cache holds the most recent payload per logical key, bounded by both item
// count and total payload size. Eviction is oldest-insertion-first.
type Cache struct {
	mu          sync.Mutex
	entries     map[string]*entry
	order       *list.List // front = oldest insertion
	totalBytes  int64
	maxEntries  int
	maxBytes    int64
	staleWindow time.Duration
	onEvict     func()
	evictions   int64

	now func() time.Time // overridable in tests
}

// New creates a Cache with the given bounds.
func New(cfg Config) *Cache {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = DefaultStaleWindow
	}

	return &Cache{
		entries:     make(map[string]*entry),
		order:       list.New(),
		maxEntries:  cfg.MaxEntries,
		maxBytes:    cfg.MaxBytes,
		staleWindow: cfg.StaleWindow,
		onEvict:     cfg.OnEvict,
		now:         time.Now,
	}
}

// Set inserts or overwrites the payload for key. The content fingerprint is
// computed for cache validation and observability; it plays no part in
// eviction. Entries that would exceed either ceiling push out the oldest
// insertions first.
func (c *Cache) Set(key string, payload []byte, ttl time.Duration) {
	sum := sha256.Sum256(payload)

	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.entries[key]; ok {
		c.removeLocked(old)
	}

	// Evict oldest-first until both ceilings hold, or the cache is empty.
	for c.order.Len() > 0 &&
		(c.order.Len()+1 > c.maxEntries || c.totalBytes+int64(len(payload)) > c.maxBytes) {
		oldest := c.order.Front().Value.(*entry)
		c.evictLocked(oldest)
	}

	e := &entry{
		key:         key,
		payload:     payload,
		ttl:         ttl,
		insertedAt:  c.now(),
		fingerprint: hex.EncodeToString(sum[:]),
	}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
	c.totalBytes += int64(len(payload))
}

// Get returns the payload for key. stale is true when the entry has outlived
// its TTL but is still inside the stale-while-revalidate window; callers may
// serve it and refresh out of band. Entries beyond the window are evicted as
// a side effect and reported as absent.
func (c *Cache) Get(key string) (payload []byte, stale, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		return nil, false, false
	}

	age := c.now().Sub(e.insertedAt)
	switch {
	case age <= e.ttl:
		return e.payload, false, true
	case age <= e.ttl+c.staleWindow:
		return e.payload, true, true
	default:
		c.evictLocked(e)
		return nil, false, false
	}
}

// Fingerprint returns the content fingerprint for key, if present.
func (c *Cache) Fingerprint(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	return e.fingerprint, true
}

// evictLocked removes e and accounts for the eviction. Callers must hold c.mu.
func (c *Cache) evictLocked(e *entry) {
	c.removeLocked(e)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict()
	}
}

// removeLocked deletes e from both the map and the insertion-order list.
// Callers must hold c.mu.
func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
	c.totalBytes -= int64(len(e.payload))
}

// Stats describes the current cache occupancy.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
	Evictions  int64 `json:"evictions"`
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Entries:    len(c.entries),
		TotalBytes: c.totalBytes,
		Evictions:  c.evictions,
	}
}
