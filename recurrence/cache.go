package recurrence

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"hash"
	"slices"
	"sync"
	"time"
)

// CacheEntry represents a cached recurrence result
type CacheEntry struct {
	Result     any // []Occurrence for expansions, bool for range checks
	ExpiresAt  time.Time
	AccessedAt time.Time
}

// RecurrenceCache caches expansion and lookup results keyed by a
// fingerprint of the master event and the queried range.
type RecurrenceCache struct {
	entries         map[string]*CacheEntry
	mutex           sync.RWMutex
	ttl             time.Duration
	maxEntries      int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// CacheConfig holds configuration for the recurrence cache
type CacheConfig struct {
	TTL             time.Duration `yaml:"ttl"`
	MaxEntries      int           `yaml:"max_entries"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultCacheConfig provides sensible defaults for recurrence caching
var DefaultCacheConfig = CacheConfig{
	TTL:             15 * time.Minute,
	MaxEntries:      1000,
	CleanupInterval: 5 * time.Minute,
}

// NewRecurrenceCache creates a cache and starts its cleanup goroutine.
// Close stops it.
func NewRecurrenceCache(config CacheConfig) *RecurrenceCache {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCacheConfig.CleanupInterval
	}
	cache := &RecurrenceCache{
		entries:         make(map[string]*CacheEntry),
		ttl:             config.TTL,
		maxEntries:      config.MaxEntries,
		cleanupInterval: config.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}

	go cache.cleanupLoop()

	return cache
}

// generateCacheKey hashes everything that influences a result: the
// operation, the master's times, rule, dates, overrides and component
// handles, and the queried range.
func generateCacheKey(operation string, m *MasterEvent, rangeStart, rangeEnd time.Time) string {
	hasher := sha256.New()

	writeString(hasher, operation)
	writeTime(hasher, m.Start)
	writeInt(hasher, int64(m.duration()))
	if m.AllDay {
		writeInt(hasher, 1)
	} else {
		writeInt(hasher, 0)
	}
	writeTime(hasher, rangeStart)
	writeTime(hasher, rangeEnd)

	if m.Rule != nil {
		writeString(hasher, m.Rule.String())
	} else {
		writeString(hasher, "")
	}

	writeInt(hasher, int64(len(m.RDates)))
	for _, rdate := range m.RDates {
		writeTime(hasher, rdate)
	}
	writeInt(hasher, int64(len(m.ExDates)))
	for _, exdate := range m.ExDates {
		writeTime(hasher, exdate)
	}

	writeInt(hasher, int64(len(m.Overrides)))
	for _, ov := range m.Overrides {
		writeTime(hasher, ov.RecurrenceID)
		writeTime(hasher, ov.start())
		writeInt(hasher, int64(ov.duration(m.duration())))
		writeString(hasher, fmt.Sprintf("%p", ov.Component))
	}
	writeString(hasher, fmt.Sprintf("%p", m.Component))

	return hex.EncodeToString(hasher.Sum(nil))
}

func writeInt(h hash.Hash, v int64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	h.Write(buf[:])
}

func writeString(h hash.Hash, s string) {
	writeInt(h, int64(len(s)))
	h.Write([]byte(s))
}

func writeTime(h hash.Hash, t time.Time) {
	writeInt(h, t.Unix())
	writeInt(h, int64(t.Nanosecond()))
	writeString(h, t.Location().String())
}

// Get retrieves a cached result if it exists and hasn't expired
func (c *RecurrenceCache) Get(operation string, m *MasterEvent, rangeStart, rangeEnd time.Time) (any, bool) {
	key := generateCacheKey(operation, m, rangeStart, rangeEnd)

	c.mutex.RLock()
	entry, exists := c.entries[key]
	c.mutex.RUnlock()

	if !exists {
		return nil, false
	}

	now := time.Now()
	if now.After(entry.ExpiresAt) {
		c.mutex.Lock()
		delete(c.entries, key)
		c.mutex.Unlock()
		return nil, false
	}

	c.mutex.Lock()
	entry.AccessedAt = now
	c.mutex.Unlock()

	return entry.Result, true
}

// Set stores a result in the cache
func (c *RecurrenceCache) Set(operation string, m *MasterEvent, rangeStart, rangeEnd time.Time, result any) {
	key := generateCacheKey(operation, m, rangeStart, rangeEnd)
	now := time.Now()

	entry := &CacheEntry{
		Result:     result,
		ExpiresAt:  now.Add(c.ttl),
		AccessedAt: now,
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.entries[key] = entry

	if len(c.entries) > c.maxEntries {
		c.cleanup()
	}
}

// cleanup removes expired entries, then the least recently accessed ones
// while the cache is over its limit. The caller holds the write lock.
func (c *RecurrenceCache) cleanup() {
	now := time.Now()

	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
		}
	}

	if len(c.entries) <= c.maxEntries {
		return
	}

	type keyAccess struct {
		key        string
		accessedAt time.Time
	}
	keys := make([]keyAccess, 0, len(c.entries))
	for key, entry := range c.entries {
		keys = append(keys, keyAccess{key: key, accessedAt: entry.AccessedAt})
	}
	slices.SortFunc(keys, func(a, b keyAccess) int { return a.accessedAt.Compare(b.accessedAt) })

	for _, k := range keys[:len(c.entries)-c.maxEntries] {
		delete(c.entries, k.key)
	}
}

func (c *RecurrenceCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mutex.Lock()
			c.cleanup()
			c.mutex.Unlock()
		case <-c.stopCleanup:
			return
		}
	}
}

// Close stops the cleanup goroutine and clears the cache. It is safe to
// call more than once.
func (c *RecurrenceCache) Close() {
	c.closeOnce.Do(func() { close(c.stopCleanup) })
	c.mutex.Lock()
	c.entries = make(map[string]*CacheEntry)
	c.mutex.Unlock()
}

// Stats returns cache statistics
func (c *RecurrenceCache) Stats() CacheStats {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entryCount := len(c.entries)
	expiredCount := 0
	now := time.Now()

	for _, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			expiredCount++
		}
	}

	return CacheStats{
		TotalEntries:   entryCount,
		ExpiredEntries: expiredCount,
		ActiveEntries:  entryCount - expiredCount,
	}
}

// CacheStats provides information about cache performance
type CacheStats struct {
	TotalEntries   int
	ExpiredEntries int
	ActiveEntries  int
}
