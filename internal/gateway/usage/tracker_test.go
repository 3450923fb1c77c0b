package usage

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	tr := &Tracker{now: clock.Now}
	tr.reset()
	return tr, clock
}

func TestTracker_LogRequest(t *testing.T) {
	tr, _ := newTestTracker()

	tr.LogRequest("huggingface", false)
	tr.LogRequest("groq", true)
	tr.LogRequest("groq", true)

	s := tr.Stats()
	assert.Equal(t, 3, s.TotalRequests)
	assert.Equal(t, 1, s.ProviderRequests["huggingface"])
	assert.Equal(t, 1, s.ProviderFailures["huggingface"])
	assert.Equal(t, 0, s.Successes("huggingface"))
	assert.Equal(t, 2, s.Successes("groq"))
	assert.Equal(t, 0, s.ProviderFailures["groq"])
	assert.Equal(t, 0, s.Successes("unknown"))
}

func TestTracker_DerivedRates(t *testing.T) {
	tr, clock := newTestTracker()

	s := tr.Stats()
	assert.Zero(t, s.CacheHitRate, "no lookups yet")
	assert.Zero(t, s.RequestsPerMinute, "no elapsed time yet")

	tr.LogCacheHit()
	tr.LogCacheMiss()
	tr.LogCacheMiss()
	for i := 0; i < 30; i++ {
		tr.LogRequest("groq", true)
	}
	clock.Advance(2 * time.Minute)

	s = tr.Stats()
	assert.Equal(t, 33.33, s.CacheHitRate)
	assert.Equal(t, 15.0, s.RequestsPerMinute)
	assert.Equal(t, 120.0, s.RuntimeSeconds)
}

func TestTracker_SnapshotIsACopy(t *testing.T) {
	tr, _ := newTestTracker()
	tr.LogRequest("groq", true)

	s := tr.Stats()
	s.ProviderRequests["groq"] = 100

	assert.Equal(t, 1, tr.Stats().ProviderRequests["groq"])
}

func TestTracker_Reset(t *testing.T) {
	tr, clock := newTestTracker()
	tr.LogRequest("groq", false)
	tr.LogCacheHit()
	clock.Advance(time.Hour)

	tr.Reset()

	s := tr.Stats()
	assert.Zero(t, s.TotalRequests)
	assert.Zero(t, s.CacheHits)
	assert.Empty(t, s.ProviderRequests)
	assert.Empty(t, s.ProviderFailures)
	assert.Equal(t, clock.Now(), s.StartTime)
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tr := NewTracker()

	const workers, perWorker = 16, 250
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				tr.LogRequest("groq", i%5 != 0)
				if i%2 == 0 {
					tr.LogCacheHit()
				} else {
					tr.LogCacheMiss()
				}
				_ = tr.Stats()
			}
		}(w)
	}
	wg.Wait()

	s := tr.Stats()
	require.Equal(t, workers*perWorker, s.TotalRequests)
	assert.Equal(t, workers*perWorker/5, s.ProviderFailures["groq"])
	assert.Equal(t, workers*perWorker, s.CacheHits+s.CacheMisses)
}
