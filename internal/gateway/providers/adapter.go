package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// callFunc performs one upstream request with the leased credential
type callFunc func(ctx context.Context, lease Lease, model string, req GenerateRequest) (string, error)

// adapter holds what every provider shares: credential rotation, the retry loop
// and the model list. Concrete providers only supply the wire call.
type adapter struct {
	name       string
	pool       *AccountPool
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
	call       callFunc

	mu      sync.RWMutex
	models  []string
	current int
}

func newAdapter(name string, keys []string, dailyLimit int, models []string, maxRetries int, retryDelay time.Duration, logger *zap.Logger) *adapter {
	if maxRetries < 1 {
		maxRetries = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &adapter{
		name:       name,
		pool:       NewAccountPool(keys, dailyLimit),
		maxRetries: maxRetries,
		retryDelay: retryDelay,
		logger:     logger.With(zap.String("provider", name)),
		models:     append([]string(nil), models...),
	}
}

// Name returns the provider name
func (a *adapter) Name() string {
	return a.name
}

// HasQuota reports whether any credential can take another request
func (a *adapter) HasQuota() bool {
	return a.pool.HasQuota()
}

// Pool exposes the credential pool
func (a *adapter) Pool() *AccountPool {
	return a.pool
}

// Generate sends the request, rotating credentials on rate limits and backing off
// linearly on other failures
func (a *adapter) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	model := a.Model()
	avoid := make(map[int]bool)
	var lastErr *ProviderError

	for attempt := 1; attempt <= a.maxRetries; attempt++ {
		lease, err := a.pool.Acquire(avoid)
		if err != nil {
			if lastErr != nil {
				return "", lastErr
			}
			return "", NewProviderError(a.name, KindQuotaExhausted, 0, "all accounts at daily limit", err)
		}

		text, err := a.call(ctx, lease, model, req)
		if err == nil && strings.TrimSpace(text) == "" {
			err = NewProviderError(a.name, KindMalformed, 0, "empty response", nil)
		}
		if err == nil {
			a.pool.Commit(lease)
			return text, nil
		}

		a.pool.Release(lease)
		lastErr = classifyError(a.name, err)

		if ctx.Err() != nil {
			return "", lastErr
		}

		switch lastErr.Kind {
		case KindRateLimited:
			avoid[lease.Index] = true
			a.logger.Info("Rate limited, rotating account",
				zap.Int("account", lease.Index+1),
				zap.Int("attempt", attempt),
			)
			continue
		case KindAuth:
			avoid[lease.Index] = true
		}

		a.logger.Warn("Attempt failed",
			zap.Int("account", lease.Index+1),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", a.maxRetries),
			zap.Error(lastErr),
		)

		if attempt < a.maxRetries {
			if err := sleepContext(ctx, a.retryDelay*time.Duration(attempt)); err != nil {
				return "", lastErr
			}
		}
	}

	return "", lastErr
}

// Model returns the model currently used for requests
func (a *adapter) Model() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(a.models) == 0 {
		return ""
	}
	return a.models[a.current]
}

// Models returns the configured model list
func (a *adapter) Models() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.models...)
}

// SwitchModel selects model, or the next one in the list when model is empty
func (a *adapter) SwitchModel(model string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.models) == 0 {
		return "", fmt.Errorf("%s has no models configured: %w", a.name, ErrUnknownModel)
	}

	if model == "" {
		a.current = (a.current + 1) % len(a.models)
		return a.models[a.current], nil
	}

	for i, m := range a.models {
		if m == model {
			a.current = i
			return m, nil
		}
	}
	return "", fmt.Errorf("%s does not serve %q: %w", a.name, model, ErrUnknownModel)
}

// Status describes the credential pool and current model
func (a *adapter) Status() ProviderStatus {
	s := a.pool.Snapshot()
	return ProviderStatus{
		Name:            a.name,
		Available:       s.Accounts > 0 && (s.DailyLimit == 0 || s.Remaining > 0),
		Model:           a.Model(),
		Accounts:        s.Accounts,
		DailyLimit:      s.DailyLimit,
		RequestsToday:   s.RequestCount,
		Remaining:       s.Remaining,
		UsagePercentage: s.UsagePercentage,
		PerAccountUsage: s.PerAccount,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
