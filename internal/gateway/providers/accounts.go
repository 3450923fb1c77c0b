package providers

import (
	"sync"
	"time"
)

// quotaWindow is the rolling window after which per-account usage resets
const quotaWindow = 24 * time.Hour

// AccountPool rotates requests across the credentials of one provider.
// With a daily limit it hands out the least-used account and reserves one unit
// of quota per lease; without one it round-robins.
type AccountPool struct {
	mu           sync.Mutex
	keys         []string
	usage        []int
	dailyLimit   int // per account, 0 = unlimited
	requestCount int
	next         int    // round-robin cursor
	epoch        uint64 // bumped on every daily reset
	lastReset    time.Time
	now          func() time.Time
}

// Lease is one reserved use of an account
type Lease struct {
	Index    int
	Key      string
	epoch    uint64
	reserved bool
}

// PoolSnapshot is a copy of the pool counters
type PoolSnapshot struct {
	Accounts        int
	DailyLimit      int
	Used            int
	RequestCount    int
	Remaining       int // -1 when unlimited
	UsagePercentage float64
	PerAccount      []int
	LastReset       time.Time
}

// NewAccountPool creates a pool over a fixed credential list
func NewAccountPool(keys []string, dailyLimit int) *AccountPool {
	if dailyLimit < 0 {
		dailyLimit = 0
	}
	return &AccountPool{
		keys:       append([]string(nil), keys...),
		usage:      make([]int, len(keys)),
		dailyLimit: dailyLimit,
		lastReset:  time.Now(),
		now:        time.Now,
	}
}

// Len returns the number of accounts
func (p *AccountPool) Len() int {
	return len(p.keys)
}

// Unlimited reports whether the pool has no daily cap
func (p *AccountPool) Unlimited() bool {
	return p.dailyLimit == 0
}

// HasQuota reports whether at least one account can take another request
func (p *AccountPool) HasQuota() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkReset()

	if len(p.keys) == 0 {
		return false
	}
	if p.dailyLimit == 0 {
		return true
	}
	for _, used := range p.usage {
		if used < p.dailyLimit {
			return true
		}
	}
	return false
}

// Acquire picks the account for the next attempt. Accounts in avoid are skipped
// while any other account is eligible.
func (p *AccountPool) Acquire(avoid map[int]bool) (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkReset()

	n := len(p.keys)
	if n == 0 {
		return Lease{}, ErrQuotaExhausted
	}

	if p.dailyLimit == 0 {
		idx := p.next % n
		for i := 0; i < n; i++ {
			candidate := (p.next + i) % n
			if !avoid[candidate] {
				idx = candidate
				break
			}
		}
		p.next = (idx + 1) % n
		return Lease{Index: idx, Key: p.keys[idx], epoch: p.epoch}, nil
	}

	idx := p.leastUsed(avoid)
	if idx < 0 {
		idx = p.leastUsed(nil)
	}
	if idx < 0 {
		return Lease{}, ErrQuotaExhausted
	}

	p.usage[idx]++
	return Lease{Index: idx, Key: p.keys[idx], epoch: p.epoch, reserved: true}, nil
}

// Commit records a successful request made with the lease
func (p *AccountPool) Commit(l Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if l.epoch != p.epoch {
		return
	}
	if !l.reserved {
		p.usage[l.Index]++
	}
	p.requestCount++
}

// Release returns the quota reserved by a failed attempt
func (p *AccountPool) Release(l Lease) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !l.reserved || l.epoch != p.epoch {
		return
	}
	if p.usage[l.Index] > 0 {
		p.usage[l.Index]--
	}
}

// Snapshot returns the current counters
func (p *AccountPool) Snapshot() PoolSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.checkReset()

	used := 0
	for _, u := range p.usage {
		used += u
	}

	s := PoolSnapshot{
		Accounts:     len(p.keys),
		DailyLimit:   p.dailyLimit,
		Used:         used,
		RequestCount: p.requestCount,
		Remaining:    -1,
		PerAccount:   append([]int(nil), p.usage...),
		LastReset:    p.lastReset,
	}
	if p.dailyLimit > 0 {
		capacity := p.dailyLimit * len(p.keys)
		s.Remaining = capacity - used
		if capacity > 0 {
			s.UsagePercentage = roundTo2(float64(used) / float64(capacity) * 100)
		}
	}
	return s
}

// checkReset zeroes the counters once the window has elapsed (must be called with lock held)
func (p *AccountPool) checkReset() {
	now := p.now()
	if now.Sub(p.lastReset) <= quotaWindow {
		return
	}
	for i := range p.usage {
		p.usage[i] = 0
	}
	p.requestCount = 0
	p.lastReset = now
	p.epoch++
}

// leastUsed returns the eligible account with the lowest usage, or -1 (must be called with lock held)
func (p *AccountPool) leastUsed(avoid map[int]bool) int {
	best := -1
	for i, used := range p.usage {
		if used >= p.dailyLimit || avoid[i] {
			continue
		}
		if best < 0 || used < p.usage[best] {
			best = i
		}
	}
	return best
}

func roundTo2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
