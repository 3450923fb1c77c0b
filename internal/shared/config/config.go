package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the gateway
type Config struct {
	// Server
	Port     string `validate:"required,numeric"`
	Env      string `validate:"required"`
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`

	// Request log (optional)
	DatabaseURL string

	// Inbound rate limiting (optional)
	RedisURL           string
	RateLimitPerMinute int `validate:"min=0"`

	// Providers, tried in ProviderPriority order
	ProviderPriority []string                  `validate:"required,min=1,unique,dive,required"`
	Providers        map[string]ProviderConfig `validate:"dive"`

	// Caching
	Cache CacheConfig
}

// ProviderConfig holds the settings of one upstream provider
type ProviderConfig struct {
	Name       string   `validate:"required"`
	APIKeys    []string `validate:"required,min=1"`
	DailyLimit int      `validate:"min=0"` // per account, 0 = unlimited
	Models     []string `validate:"required,min=1,dive,required"`
	BaseURL    string   `validate:"required,url"`
	Timeout    time.Duration
	MaxRetries int `validate:"min=1,max=10"`
	RetryDelay time.Duration
}

// CacheConfig holds response cache settings
type CacheConfig struct {
	Enabled         bool
	TTL             time.Duration `validate:"min=1s"`
	MaxSize         int           `validate:"min=1"`
	EvictionPolicy  string        `validate:"oneof=lru fifo"`
	CleanupInterval time.Duration
}

// providerDefaults describes the free tiers known to the gateway
type providerDefaults struct {
	name        string
	envPrefix   string
	aliases     []string
	maxAccounts int
	dailyLimit  int
	baseURL     string
	models      []string
	retryDelay  time.Duration
	keyless     bool
}

var knownProviders = []providerDefaults{
	{
		name:        "huggingface",
		envPrefix:   "HF",
		aliases:     []string{"HUGGINGFACE_API_KEY"},
		maxAccounts: 20,
		dailyLimit:  0, // rate limited upstream, no hard daily cap
		baseURL:     "https://router.huggingface.co/v1",
		models: []string{
			"meta-llama/Meta-Llama-3.1-8B-Instruct",
			"mistralai/Mistral-7B-Instruct-v0.3",
			"microsoft/Phi-3-mini-4k-instruct",
			"google/gemma-7b-it",
		},
		retryDelay: time.Second,
	},
	{
		name:        "groq",
		envPrefix:   "GROQ",
		maxAccounts: 10,
		dailyLimit:  14400,
		baseURL:     "https://api.groq.com/openai/v1",
		models: []string{
			"llama-3.3-70b-versatile",
			"llama-3.1-8b-instant",
			"mixtral-8x7b-32768",
		},
		retryDelay: 500 * time.Millisecond,
	},
	{
		name:        "gemini",
		envPrefix:   "GEMINI",
		maxAccounts: 10,
		dailyLimit:  1500,
		baseURL:     "https://generativelanguage.googleapis.com/v1beta",
		models:      []string{"gemini-2.0-flash", "gemini-2.5-flash"},
		retryDelay:  500 * time.Millisecond,
	},
	{
		name:        "together",
		envPrefix:   "TOGETHER",
		maxAccounts: 10,
		baseURL:     "https://api.together.xyz/v1",
		models:      []string{"meta-llama/Llama-3.3-70B-Instruct-Turbo-Free"},
		retryDelay:  500 * time.Millisecond,
	},
	{
		name:        "local",
		envPrefix:   "LOCAL",
		maxAccounts: 1,
		models:      []string{"llama3.1"},
		retryDelay:  500 * time.Millisecond,
		keyless:     true,
	},
}

// DefaultPriority is the order providers are tried in when PROVIDER_PRIORITY is unset
var DefaultPriority = []string{"huggingface", "groq", "gemini", "together", "local"}

var validate = validator.New()

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		RedisURL:           getEnv("REDIS_URL", ""),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 60),
		ProviderPriority:   getEnvList("PROVIDER_PRIORITY", DefaultPriority),
		Providers:          make(map[string]ProviderConfig),
		Cache: CacheConfig{
			Enabled:         getEnvBool("CACHE_ENABLED", true),
			TTL:             getEnvSeconds("CACHE_TTL_SECONDS", 24*time.Hour),
			MaxSize:         getEnvInt("CACHE_MAX_SIZE", 10000),
			EvictionPolicy:  strings.ToLower(getEnv("CACHE_EVICTION_POLICY", "lru")),
			CleanupInterval: getEnvSeconds("CACHE_CLEANUP_INTERVAL_SECONDS", 0),
		},
	}

	for _, d := range knownProviders {
		if pc, ok := loadProvider(d); ok {
			cfg.Providers[d.name] = pc
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks struct constraints and the cross-field rules
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid config: %w", err)
	}

	// At least one provider must be usable
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider is required (set HF_API_KEY, GROQ_API_KEY, GEMINI_API_KEY, TOGETHER_API_KEY or LOCAL_BASE_URL)")
	}

	listed := false
	for _, name := range c.ProviderPriority {
		if _, ok := c.Providers[name]; ok {
			listed = true
			break
		}
	}
	if !listed {
		return fmt.Errorf("none of the configured providers appear in PROVIDER_PRIORITY %v", c.ProviderPriority)
	}

	return nil
}

// loadProvider reads <PREFIX>_API_KEY_1..N, falling back to the single key variables
func loadProvider(d providerDefaults) (ProviderConfig, bool) {
	p := d.envPrefix
	maxAccounts := getEnvInt(p+"_MAX_ACCOUNTS", d.maxAccounts)

	var keys []string
	for i := 1; i <= maxAccounts; i++ {
		if key := os.Getenv(fmt.Sprintf("%s_API_KEY_%d", p, i)); key != "" {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		for _, name := range append([]string{p + "_API_KEY"}, d.aliases...) {
			if key := os.Getenv(name); key != "" {
				keys = append(keys, key)
				break
			}
		}
	}

	baseURL := getEnv(p+"_BASE_URL", d.baseURL)
	if d.keyless {
		// A local server is opt-in through its URL and needs no credential
		if os.Getenv(p+"_BASE_URL") == "" {
			return ProviderConfig{}, false
		}
		if len(keys) == 0 {
			keys = []string{""}
		}
	}
	if len(keys) == 0 {
		return ProviderConfig{}, false
	}

	return ProviderConfig{
		Name:       d.name,
		APIKeys:    keys,
		DailyLimit: getEnvInt(p+"_DAILY_LIMIT", d.dailyLimit),
		Models:     getEnvList(p+"_MODELS", d.models),
		BaseURL:    baseURL,
		Timeout:    getEnvSeconds(p+"_TIMEOUT_SECONDS", 30*time.Second),
		MaxRetries: getEnvInt(p+"_MAX_RETRIES", 3),
		RetryDelay: time.Duration(getEnvInt(p+"_RETRY_DELAY_MS", int(d.retryDelay/time.Millisecond))) * time.Millisecond,
	}, true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvSeconds(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return append([]string(nil), defaultValue...)
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
