package usage

import (
	"math"
	"sync"
	"time"
)

// Tracker counts requests, provider outcomes and cache lookups for the
// lifetime of the process. It is safe for concurrent use.
type Tracker struct {
	mu               sync.Mutex
	totalRequests    int
	cacheHits        int
	cacheMisses      int
	providerRequests map[string]int
	providerFailures map[string]int
	startTime        time.Time
	now              func() time.Time
}

// Snapshot is a read-only copy of the tracker counters plus derived rates
type Snapshot struct {
	TotalRequests     int            `json:"total_requests"`
	CacheHits         int            `json:"cache_hits"`
	CacheMisses       int            `json:"cache_misses"`
	ProviderRequests  map[string]int `json:"provider_requests"`
	ProviderFailures  map[string]int `json:"provider_failures"`
	StartTime         time.Time      `json:"start_time"`
	CacheHitRate      float64        `json:"cache_hit_rate"`
	RequestsPerMinute float64        `json:"requests_per_minute"`
	RuntimeSeconds    float64        `json:"runtime_seconds"`
}

// NewTracker creates a tracker whose runtime clock starts now
func NewTracker() *Tracker {
	t := &Tracker{now: time.Now}
	t.reset()
	return t
}

// LogRequest records one provider call and its outcome
func (t *Tracker) LogRequest(provider string, success bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.totalRequests++
	t.providerRequests[provider]++
	if !success {
		t.providerFailures[provider]++
	}
}

// LogCacheHit records a cache hit
func (t *Tracker) LogCacheHit() {
	t.mu.Lock()
	t.cacheHits++
	t.mu.Unlock()
}

// LogCacheMiss records a cache miss
func (t *Tracker) LogCacheMiss() {
	t.mu.Lock()
	t.cacheMisses++
	t.mu.Unlock()
}

// Stats returns a snapshot; derived values are computed here, never stored
func (t *Tracker) Stats() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := Snapshot{
		TotalRequests:    t.totalRequests,
		CacheHits:        t.cacheHits,
		CacheMisses:      t.cacheMisses,
		ProviderRequests: make(map[string]int, len(t.providerRequests)),
		ProviderFailures: make(map[string]int, len(t.providerFailures)),
		StartTime:        t.startTime,
	}
	for k, v := range t.providerRequests {
		s.ProviderRequests[k] = v
	}
	for k, v := range t.providerFailures {
		s.ProviderFailures[k] = v
	}

	if lookups := t.cacheHits + t.cacheMisses; lookups > 0 {
		s.CacheHitRate = round2(float64(t.cacheHits) / float64(lookups) * 100)
	}

	elapsed := t.now().Sub(t.startTime).Seconds()
	if elapsed > 0 {
		s.RequestsPerMinute = round2(float64(t.totalRequests) / elapsed * 60)
		s.RuntimeSeconds = round2(elapsed)
	}

	return s
}

// Reset zeroes all counters and restarts the runtime clock
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reset()
}

func (t *Tracker) reset() {
	t.totalRequests = 0
	t.cacheHits = 0
	t.cacheMisses = 0
	t.providerRequests = make(map[string]int)
	t.providerFailures = make(map[string]int)
	t.startTime = t.now()
}

// Successes returns the successful request count for a provider
func (s Snapshot) Successes(provider string) int {
	return s.ProviderRequests[provider] - s.ProviderFailures[provider]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
