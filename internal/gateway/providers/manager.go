package providers

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/config"
)

// ResponseCache is the cache the manager consults before any provider
type ResponseCache interface {
	Key(prompt, context string) string
	Get(key string) (string, bool)
	Set(key, response string)
}

// Result describes how a request was served
type Result struct {
	Text      string
	Provider  string
	CacheHit  bool
	Failover  bool     // served by a provider other than the first one attempted
	Attempted []string // providers whose Generate was called, in order
	Latency   time.Duration
}

// Manager routes requests across providers in a fixed priority order
type Manager struct {
	mu        sync.RWMutex
	priority  []string
	providers map[string]Provider
	cache     ResponseCache
	tracker   *usage.Tracker
	logger    *zap.Logger
}

// New creates an empty manager; providers are added with RegisterProvider.
// Repeated names in priority keep their first position only.
func New(priority []string, tracker *usage.Tracker, logger *zap.Logger) *Manager {
	if tracker == nil {
		tracker = usage.NewTracker()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		priority:  dedupe(priority),
		providers: make(map[string]Provider),
		tracker:   tracker,
		logger:    logger,
	}
}

// NewManager creates a manager with every configured provider registered
func NewManager(cfg *config.Config, tracker *usage.Tracker, logger *zap.Logger) *Manager {
	m := New(cfg.ProviderPriority, tracker, logger)

	for name, pc := range cfg.Providers {
		m.RegisterProvider(name, NewFromConfig(pc, m.logger))
	}

	return m
}

// NewFromConfig builds the adapter matching a provider config
func NewFromConfig(pc config.ProviderConfig, logger *zap.Logger) Provider {
	if pc.Name == "gemini" {
		return NewGeminiProvider(pc, logger)
	}
	return NewOpenAICompatProvider(pc, logger)
}

// RegisterProvider adds or replaces the provider registered under name
func (m *Manager) RegisterProvider(name string, p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.providers[name] = p
	m.logger.Info("Registered provider", zap.String("provider", name))
}

// SetCache configures the response cache; nil disables caching
func (m *Manager) SetCache(c ResponseCache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cache = c
}

// Tracker returns the usage tracker
func (m *Manager) Tracker() *usage.Tracker {
	return m.tracker
}

// Stats returns a usage snapshot
func (m *Manager) Stats() usage.Snapshot {
	return m.tracker.Stats()
}

// Priority returns the configured priority list
func (m *Manager) Priority() []string {
	return append([]string(nil), m.priority...)
}

// Provider returns the provider registered under name
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.providers[name]
	return p, ok
}

// GetResponse returns generated text for the prompt, failing only with ErrAllProvidersExhausted
func (m *Manager) GetResponse(ctx context.Context, prompt, systemContext string, maxTokens int, temperature float32) (string, error) {
	res, err := m.Generate(ctx, GenerateRequest{
		Prompt:      prompt,
		Context:     systemContext,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

// Generate checks the cache and then tries providers strictly in priority order.
// Each provider is called at most once; retries happen inside the adapter.
func (m *Manager) Generate(ctx context.Context, req GenerateRequest) (*Result, error) {
	start := time.Now()

	m.mu.RLock()
	c := m.cache
	m.mu.RUnlock()

	var key string
	if c != nil {
		key = c.Key(req.Prompt, req.Context)
		if text, ok := c.Get(key); ok {
			m.tracker.LogCacheHit()
			m.logger.Debug("Cache hit", zap.String("key", key))
			return &Result{Text: text, CacheHit: true, Latency: time.Since(start)}, nil
		}
		m.tracker.LogCacheMiss()
	}

	exhausted := &ExhaustedError{}

	for _, name := range m.priority {
		if err := ctx.Err(); err != nil {
			exhausted.LastErr = err
			break
		}

		p, ok := m.Provider(name)
		if !ok {
			continue
		}

		if !p.HasQuota() {
			m.logger.Warn("Provider quota exhausted, skipping", zap.String("provider", name))
			continue
		}

		m.logger.Info("Trying provider", zap.String("provider", name))
		text, err := p.Generate(ctx, req)
		if err != nil && errors.Is(err, ErrQuotaExhausted) {
			m.logger.Warn("Provider ran out of quota, skipping", zap.String("provider", name))
			continue
		}

		exhausted.Attempted = append(exhausted.Attempted, name)

		if err != nil {
			m.tracker.LogRequest(name, false)
			m.logger.Error("Provider failed", zap.String("provider", name), zap.Error(err))
			exhausted.LastProvider = name
			exhausted.LastErr = err
			continue
		}

		m.tracker.LogRequest(name, true)
		if c != nil {
			c.Set(key, text)
		}

		latency := time.Since(start)
		m.logger.Info("Provider succeeded",
			zap.String("provider", name),
			zap.Duration("latency", latency),
		)

		return &Result{
			Text:      text,
			Provider:  name,
			Failover:  len(exhausted.Attempted) > 1,
			Attempted: exhausted.Attempted,
			Latency:   latency,
		}, nil
	}

	m.logger.Error("All providers exhausted",
		zap.Strings("attempted", exhausted.Attempted),
		zap.Error(exhausted.LastErr),
	)
	return nil, exhausted
}

// ProviderStatus reports every registered provider, priority order first
func (m *Manager) ProviderStatus() []ProviderStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	statuses := make([]ProviderStatus, 0, len(m.providers))
	seen := make(map[string]bool, len(m.providers))

	for _, name := range m.priority {
		p, ok := m.providers[name]
		if !ok || seen[name] {
			continue
		}
		seen[name] = true
		s := statusOf(name, p)
		s.InPriority = true
		statuses = append(statuses, s)
	}

	var extra []string
	for name := range m.providers {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		statuses = append(statuses, statusOf(name, m.providers[name]))
	}

	return statuses
}

// SwitchModel changes the model of a provider; an empty model selects the next one
func (m *Manager) SwitchModel(provider, model string) (string, error) {
	p, ok := m.Provider(provider)
	if !ok {
		return "", fmt.Errorf("%q: %w", provider, ErrUnknownProvider)
	}

	switcher, ok := p.(ModelSwitcher)
	if !ok {
		return "", fmt.Errorf("%s does not support model switching: %w", provider, ErrUnknownModel)
	}

	current, err := switcher.SwitchModel(model)
	if err != nil {
		return "", err
	}

	m.logger.Info("Switched model", zap.String("provider", provider), zap.String("model", current))
	return current, nil
}

func statusOf(name string, p Provider) ProviderStatus {
	if r, ok := p.(StatusReporter); ok {
		s := r.Status()
		s.Name = name
		return s
	}
	return ProviderStatus{Name: name, Available: p.HasQuota(), Remaining: -1}
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		out = append(out, name)
	}
	return out
}
