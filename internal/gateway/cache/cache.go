package cache

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Eviction policies
const (
	PolicyLRU  = "lru"  // evict the least recently used entry
	PolicyFIFO = "fifo" // evict the entry inserted longest ago
)

const (
	DefaultTTL     = 24 * time.Hour
	DefaultMaxSize = 10000
)

// Config holds cache settings
type Config struct {
	TTL     time.Duration
	MaxSize int
	Policy  string
}

// Stats represents cache statistics
type Stats struct {
	Hits      uint64  `json:"hits"`
	Misses    uint64  `json:"misses"`
	Sets      uint64  `json:"sets"`
	Evictions uint64  `json:"evictions"`
	HitRate   float64 `json:"hit_rate"` // percent
	Size      int     `json:"size"`
	MaxSize   int     `json:"max_size"`
	Policy    string  `json:"policy"`
}

// entry is a single cached response
type entry struct {
	key       string
	value     string
	createdAt time.Time
	expiresAt time.Time
	element   *list.Element
}

// Cache is a bounded in-memory response cache with TTL expiry.
// Thread-safe; every operation takes the single cache mutex.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	order     *list.List // front = next to keep, back = next to evict
	ttl       time.Duration
	maxSize   int
	policy    string
	hits      uint64
	misses    uint64
	sets      uint64
	evictions uint64
	logger    *zap.Logger
	now       func() time.Time
}

// keyPayload fixes the field order of the hashed document
type keyPayload struct {
	Context string `json:"context"`
	Prompt  string `json:"prompt"`
}

// Key returns the SHA-256 hex digest of the normalized prompt and context
func Key(prompt, context string) string {
	data, err := json.Marshal(keyPayload{
		Context: normalize(context),
		Prompt:  normalize(prompt),
	})
	if err != nil {
		// Marshalling two strings cannot fail
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// New creates a cache; zero values fall back to a 24h TTL, 10000 entries and LRU
func New(cfg Config, logger *zap.Logger) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.Policy != PolicyFIFO {
		cfg.Policy = PolicyLRU
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Cache{
		entries: make(map[string]*entry),
		order:   list.New(),
		ttl:     cfg.TTL,
		maxSize: cfg.MaxSize,
		policy:  cfg.Policy,
		logger:  logger,
		now:     time.Now,
	}
}

// Key computes the cache key for a prompt and context
func (c *Cache) Key(prompt, context string) string {
	return Key(prompt, context)
}

// Get returns the cached response, or false when absent or expired.
// An expired entry is removed and counted as a miss.
func (c *Cache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.misses++
		return "", false
	}

	if !c.now().Before(e.expiresAt) {
		c.misses++
		c.removeEntry(e)
		return "", false
	}

	if c.policy == PolicyLRU {
		c.order.MoveToFront(e.element)
	}
	c.hits++

	return e.value, true
}

// Set stores a response. When a new key arrives at capacity exactly one entry is evicted first.
func (c *Cache) Set(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.sets++

	if e, ok := c.entries[key]; ok {
		e.value = value
		e.createdAt = now
		e.expiresAt = now.Add(c.ttl)
		if c.policy == PolicyLRU {
			c.order.MoveToFront(e.element)
		}
		return
	}

	if c.order.Len() >= c.maxSize {
		c.evict()
	}

	e := &entry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(c.ttl),
	}
	e.element = c.order.PushFront(e)
	c.entries[key] = e
}

// Stats returns cache statistics
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:      c.hits,
		Misses:    c.misses,
		Sets:      c.sets,
		Evictions: c.evictions,
		Size:      c.order.Len(),
		MaxSize:   c.maxSize,
		Policy:    c.policy,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = math.Round(float64(c.hits)/float64(total)*10000) / 100
	}
	return s
}

// Clear removes all entries; counters are kept
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)
	c.order.Init()
}

// CleanupExpired removes all expired entries and returns how many were dropped
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for el := c.order.Back(); el != nil; {
		prev := el.Prev()
		if e := el.Value.(*entry); !now.Before(e.expiresAt) {
			c.removeEntry(e)
			removed++
		}
		el = prev
	}
	return removed
}

// StartCleanupWorker sweeps expired entries every interval until ctx is done
func (c *Cache) StartCleanupWorker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := c.CleanupExpired(); n > 0 {
				c.logger.Debug("Removed expired cache entries", zap.Int("count", n))
			}
		case <-ctx.Done():
			return
		}
	}
}

// removeEntry drops an entry (must be called with lock held)
func (c *Cache) removeEntry(e *entry) {
	c.order.Remove(e.element)
	delete(c.entries, e.key)
}

// evict drops the entry at the back of the order list (must be called with lock held)
func (c *Cache) evict() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.removeEntry(back.Value.(*entry))
	c.evictions++
}
