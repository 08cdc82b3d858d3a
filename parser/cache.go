package parser

import (
	"sync"
	"time"

	"github.com/hadi77ir/go-mongosh/command"
)

// cacheEntry represents a cached parse result
type cacheEntry struct {
	cmd         command.Command
	err         error
	accessCount int64
	lastAccess  time.Time
	addedAt     time.Time
}

// ParserCache is a thread-safe cache for parsed commands.
// It prioritizes keeping most frequently used and recently added commands.
// Commands whose parse generated values (ObjectId(), new Date(), UUID())
// are never cached.
type ParserCache struct {
	mu      sync.RWMutex
	cache   map[string]*cacheEntry
	maxSize int
	hits    int64
	misses  int64
	now     func() time.Time // For testing
}

// NewParserCache creates a new parser cache
// maxSize: maximum number of entries to cache. 0 means no caching (all calls go directly to parser)
func NewParserCache(maxSize int) *ParserCache {
	return &ParserCache{
		cache:   make(map[string]*cacheEntry),
		maxSize: maxSize,
		now:     time.Now,
	}
}

// Parse parses the command text, checking the cache first
func (c *ParserCache) Parse(text string) (command.Command, error) {
	// If caching is disabled, parse directly
	if c.maxSize <= 0 {
		cmd, _, err := parseDirect(text)
		return cmd, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.cache[text]; exists {
		entry.accessCount++
		entry.lastAccess = c.now()
		c.hits++
		return entry.cmd, entry.err
	}
	c.misses++

	cmd, volatile, err := parseDirect(text)
	if !volatile {
		c.addToCache(text, cmd, err)
	}
	return cmd, err
}

// parseDirect parses text without using the cache
func parseDirect(text string) (command.Command, bool, error) {
	p, err := NewParser(text)
	if err != nil {
		return nil, false, err
	}
	cmd, err := p.Parse()
	return cmd, p.Volatile(), err
}

// addToCache adds an entry to the cache, evicting if necessary
func (c *ParserCache) addToCache(text string, cmd command.Command, err error) {
	if len(c.cache) >= c.maxSize {
		c.evict()
	}

	now := c.now()
	c.cache[text] = &cacheEntry{
		cmd:         cmd,
		err:         err,
		accessCount: 1,
		lastAccess:  now,
		addedAt:     now,
	}
}

// evict removes the least valuable entry from the cache.
// Access frequency weighs ten times more than recency of addition and access.
func (c *ParserCache) evict() {
	if len(c.cache) == 0 {
		return
	}

	var worstKey string
	var worstScore float64
	first := true

	now := c.now()
	for key, entry := range c.cache {
		ageSinceAdded := now.Sub(entry.addedAt).Seconds()
		ageSinceAccess := now.Sub(entry.lastAccess).Seconds()

		recencyScore := 1.0/(ageSinceAdded+1.0) + 1.0/(ageSinceAccess+1.0)
		score := float64(entry.accessCount)*10.0 + recencyScore

		if first || score < worstScore {
			worstScore = score
			worstKey = key
			first = false
		}
	}

	delete(c.cache, worstKey)
}

// Clear clears all entries from the cache
func (c *ParserCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]*cacheEntry)
	c.hits = 0
	c.misses = 0
}

// Size returns the current number of cached entries
func (c *ParserCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// CacheStats holds cache statistics
type CacheStats struct {
	Size        int
	TotalAccess int64
	Hits        int64
	Misses      int64
	HitRate     float64
}

// GetStats returns current cache statistics
func (c *ParserCache) GetStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var totalAccess int64
	for _, entry := range c.cache {
		totalAccess += entry.accessCount
	}

	stats := CacheStats{
		Size:        len(c.cache),
		TotalAccess: totalAccess,
		Hits:        c.hits,
		Misses:      c.misses,
	}
	if lookups := c.hits + c.misses; lookups > 0 {
		stats.HitRate = float64(c.hits) / float64(lookups)
	}
	return stats
}
