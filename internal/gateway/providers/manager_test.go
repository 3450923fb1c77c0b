package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/config"
)

// stubProvider is a scripted Provider
type stubProvider struct {
	name     string
	quota    bool
	text     string
	err      error
	calls    int32
	generate func(ctx context.Context) (string, error)
}

func (s *stubProvider) Name() string   { return s.name }
func (s *stubProvider) HasQuota() bool { return s.quota }

func (s *stubProvider) Generate(ctx context.Context, req GenerateRequest) (string, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.generate != nil {
		return s.generate(ctx)
	}
	return s.text, s.err
}

func (s *stubProvider) Calls() int {
	return int(atomic.LoadInt32(&s.calls))
}

func newTestManager(priority ...string) *Manager {
	return New(priority, usage.NewTracker(), nil)
}

func TestManager_SkipsProviderWithoutQuota(t *testing.T) {
	a := &stubProvider{name: "a", quota: false, text: "from a"}
	b := &stubProvider{name: "b", quota: true, text: "from b"}

	m := newTestManager("a", "b")
	m.RegisterProvider("a", a)
	m.RegisterProvider("b", b)

	text, err := m.GetResponse(context.Background(), "hi", "", 50, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "from b", text)
	assert.Equal(t, 0, a.Calls())
	assert.Equal(t, 1, b.Calls())

	s := m.Stats()
	assert.Equal(t, 1, s.TotalRequests)
	assert.Zero(t, s.ProviderRequests["a"])
}

func TestManager_ExhaustionCarriesLastError(t *testing.T) {
	errA := NewProviderError("a", KindTransport, 502, "bad gateway", nil)
	errB := NewProviderError("b", KindTransport, 0, "connection refused", nil)
	a := &stubProvider{name: "a", quota: true, err: errA}
	b := &stubProvider{name: "b", quota: true, err: errB}

	m := newTestManager("a", "b")
	m.RegisterProvider("a", a)
	m.RegisterProvider("b", b)

	_, err := m.GetResponse(context.Background(), "hi", "", 50, 0.7)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.ErrorIs(t, err, errB)
	assert.NotErrorIs(t, err, errA)
	assert.Contains(t, err.Error(), "connection refused")

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "b", exhausted.LastProvider)
	assert.Equal(t, []string{"a", "b"}, exhausted.Attempted)

	assert.Equal(t, 1, a.Calls(), "a provider is never retried by the router")
	assert.Equal(t, 1, b.Calls())

	s := m.Stats()
	assert.Equal(t, 1, s.ProviderFailures["a"])
	assert.Equal(t, 1, s.ProviderFailures["b"])
}

func TestManager_NoProviderWithQuota(t *testing.T) {
	m := newTestManager("a")
	m.RegisterProvider("a", &stubProvider{name: "a", quota: false})

	_, err := m.GetResponse(context.Background(), "hi", "", 50, 0.7)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Contains(t, err.Error(), "no provider had quota")
}

func TestManager_IgnoresUnlistedAndUnregistered(t *testing.T) {
	unlisted := &stubProvider{name: "x", quota: true, text: "from x"}
	b := &stubProvider{name: "b", quota: true, text: "from b"}

	m := newTestManager("missing", "b")
	m.RegisterProvider("x", unlisted)
	m.RegisterProvider("b", b)

	res, err := m.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.False(t, res.Failover)
	assert.Equal(t, 0, unlisted.Calls())
}

func TestManager_RegisterProviderLastWins(t *testing.T) {
	first := &stubProvider{name: "a", quota: true, text: "first"}
	second := &stubProvider{name: "a", quota: true, text: "second"}

	m := newTestManager("a")
	m.RegisterProvider("a", first)
	m.RegisterProvider("a", second)

	text, err := m.GetResponse(context.Background(), "hi", "", 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
	assert.Equal(t, 0, first.Calls())
}

func TestManager_CacheShortCircuit(t *testing.T) {
	a := &stubProvider{name: "a", quota: true, text: "cached answer"}

	m := newTestManager("a")
	m.RegisterProvider("a", a)
	c := cache.New(cache.Config{}, nil)
	m.SetCache(c)

	first, err := m.Generate(context.Background(), GenerateRequest{Prompt: "What is Go?"})
	require.NoError(t, err)
	assert.False(t, first.CacheHit)

	second, err := m.Generate(context.Background(), GenerateRequest{Prompt: "  what is go?  "})
	require.NoError(t, err)
	assert.True(t, second.CacheHit)
	assert.Equal(t, "cached answer", second.Text)
	assert.Empty(t, second.Provider)

	assert.Equal(t, 1, a.Calls())

	s := m.Stats()
	assert.Equal(t, 1, s.CacheHits)
	assert.Equal(t, 1, s.CacheMisses)
	cs := c.Stats()
	assert.Equal(t, uint64(1), cs.Hits)
	assert.Equal(t, uint64(1), cs.Misses)
}

func TestManager_FailuresAreNotCached(t *testing.T) {
	a := &stubProvider{name: "a", quota: true, err: errors.New("down")}

	m := newTestManager("a")
	m.RegisterProvider("a", a)
	c := cache.New(cache.Config{}, nil)
	m.SetCache(c)

	for i := 0; i < 2; i++ {
		_, err := m.GetResponse(context.Background(), "hi", "", 0, 0)
		require.Error(t, err)
	}
	assert.Equal(t, 2, a.Calls())
	assert.Equal(t, 0, c.Stats().Size)
}

func TestManager_QuotaAccountingFallsThrough(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeCompletion(w, "from groq")
	}))
	defer srv.Close()

	const n = 3
	cfg := testProviderConfig("groq", srv.URL, "only-key")
	cfg.DailyLimit = n
	groq := NewOpenAICompatProvider(cfg, nil)
	backup := &stubProvider{name: "backup", quota: true, text: "from backup"}

	m := newTestManager("groq", "backup")
	m.RegisterProvider("groq", groq)
	m.RegisterProvider("backup", backup)

	for i := 0; i < n; i++ {
		res, err := m.Generate(context.Background(), GenerateRequest{Prompt: fmt.Sprintf("q%d", i)})
		require.NoError(t, err)
		assert.Equal(t, "groq", res.Provider)
	}
	assert.False(t, groq.HasQuota())

	res, err := m.Generate(context.Background(), GenerateRequest{Prompt: "one more"})
	require.NoError(t, err)
	assert.Equal(t, "backup", res.Provider)
	assert.Equal(t, int32(n), atomic.LoadInt32(&calls))
}

func TestManager_LostQuotaRaceIsSkippedNotFailed(t *testing.T) {
	racer := &stubProvider{name: "a", quota: true, err: NewProviderError("a", KindQuotaExhausted, 0, "", ErrQuotaExhausted)}
	b := &stubProvider{name: "b", quota: true, text: "ok"}

	m := newTestManager("a", "b")
	m.RegisterProvider("a", racer)
	m.RegisterProvider("b", b)

	res, err := m.Generate(context.Background(), GenerateRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "b", res.Provider)
	assert.False(t, res.Failover)
	assert.Equal(t, []string{"b"}, res.Attempted)
	assert.Zero(t, m.Stats().ProviderFailures["a"])
}

func TestManager_HuggingFaceFailsGroqAnswers(t *testing.T) {
	hf := &stubProvider{name: "huggingface", quota: true, err: NewProviderError("huggingface", KindTransport, 503, "model loading", nil)}
	groq := &stubProvider{name: "groq", quota: true, text: "ack"}

	m := newTestManager("huggingface", "groq")
	m.RegisterProvider("huggingface", hf)
	m.RegisterProvider("groq", groq)

	res, err := m.Generate(context.Background(), GenerateRequest{Prompt: "ping", MaxTokens: 50, Temperature: 0.7})
	require.NoError(t, err)
	assert.Equal(t, "ack", res.Text)
	assert.Equal(t, "groq", res.Provider)
	assert.True(t, res.Failover)
	assert.Equal(t, []string{"huggingface", "groq"}, res.Attempted)

	s := m.Stats()
	assert.Equal(t, 1, s.ProviderFailures["huggingface"])
	assert.Equal(t, 1, s.Successes("groq"))
	assert.Equal(t, 0, s.Successes("huggingface"))
}

func TestManager_StopsWhenCallerGoesAway(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	a := &stubProvider{name: "a", quota: true, generate: func(ctx context.Context) (string, error) {
		cancel()
		return "", NewProviderError("a", KindTransport, 0, "", ctx.Err())
	}}
	b := &stubProvider{name: "b", quota: true, text: "too late"}

	m := newTestManager("a", "b")
	m.RegisterProvider("a", a)
	m.RegisterProvider("b", b)

	_, err := m.GetResponse(ctx, "hi", "", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, b.Calls())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, "a", exhausted.LastProvider)
	assert.Equal(t, []string{"a"}, exhausted.Attempted)
}

func TestManager_DuplicatePriorityCallsProviderOnce(t *testing.T) {
	groq := &stubProvider{name: "groq", quota: true, err: NewProviderError("groq", KindTransport, 0, "boom", nil)}

	m := newTestManager("groq", "gemini", "groq")
	m.RegisterProvider("groq", groq)

	_, err := m.GetResponse(context.Background(), "ping", "", 0, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)
	assert.Equal(t, 1, groq.Calls())
	assert.Equal(t, []string{"groq", "gemini"}, m.Priority())

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, []string{"groq"}, exhausted.Attempted)
}

func TestManager_ProviderStatus(t *testing.T) {
	cfg := &config.Config{
		ProviderPriority: []string{"groq", "huggingface"},
		Providers: map[string]config.ProviderConfig{
			"groq":        testProviderConfig("groq", "http://127.0.0.1:1", "k1", "k2"),
			"huggingface": testProviderConfig("huggingface", "http://127.0.0.1:1", "hf"),
			"gemini":      testProviderConfig("gemini", "http://127.0.0.1:1", "g"),
		},
	}
	m := NewManager(cfg, nil, nil)

	statuses := m.ProviderStatus()
	require.Len(t, statuses, 3)
	assert.Equal(t, "groq", statuses[0].Name)
	assert.True(t, statuses[0].InPriority)
	assert.Equal(t, 2, statuses[0].Accounts)
	assert.Equal(t, 200, statuses[0].Remaining)
	assert.Equal(t, "model-a", statuses[0].Model)
	assert.Equal(t, "huggingface", statuses[1].Name)
	assert.Equal(t, "gemini", statuses[2].Name)
	assert.False(t, statuses[2].InPriority)

	p, ok := m.Provider("gemini")
	require.True(t, ok)
	assert.IsType(t, &GeminiProvider{}, p)
}

func TestManager_SwitchModel(t *testing.T) {
	m := newTestManager("groq")
	m.RegisterProvider("groq", NewOpenAICompatProvider(testProviderConfig("groq", "http://127.0.0.1:1", "k"), nil))
	m.RegisterProvider("stub", &stubProvider{name: "stub", quota: true})

	model, err := m.SwitchModel("groq", "model-b")
	require.NoError(t, err)
	assert.Equal(t, "model-b", model)

	_, err = m.SwitchModel("nope", "x")
	assert.ErrorIs(t, err, ErrUnknownProvider)

	_, err = m.SwitchModel("stub", "x")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestManager_ConcurrentRequests(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeCompletion(w, "ok")
	}))
	defer srv.Close()

	cfg := testProviderConfig("groq", srv.URL, "k1", "k2")
	cfg.DailyLimit = 40
	groq := NewOpenAICompatProvider(cfg, nil)
	backup := &stubProvider{name: "backup", quota: true, text: "backup"}

	m := newTestManager("groq", "backup")
	m.RegisterProvider("groq", groq)
	m.RegisterProvider("backup", backup)
	m.SetCache(cache.New(cache.Config{MaxSize: 16}, nil))

	const workers, perWorker = 10, 20
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				_, err := m.GetResponse(context.Background(), fmt.Sprintf("w%d-q%d", w, i), "", 0, 0)
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, int32(80), atomic.LoadInt32(&calls), "groq serves exactly its capacity")
	assert.Equal(t, workers*perWorker-80, backup.Calls())

	s := m.Stats()
	assert.Equal(t, workers*perWorker, s.TotalRequests)
	assert.Equal(t, workers*perWorker, s.CacheMisses)
}
