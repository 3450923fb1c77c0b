package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/cache"
	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/providers"
	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/usage"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/config"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/logging"
)

var version = "dev"

func main() {
	var logLevel string

	serve := newServeCmd(&logLevel)

	root := &cobra.Command{
		Use:           "gateway",
		Short:         "Free-tier LLM router with credential rotation, failover and response caching",
		Version:       version,
		RunE:          serve.RunE,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")

	root.AddCommand(
		serve,
		newAskCmd(&logLevel),
		newStatusCmd(&logLevel),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads configuration and builds the logger every command starts from
func setup(logLevel, fallbackLevel string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if fallbackLevel != "" {
		level = fallbackLevel
	}
	if logLevel != "" {
		level = logLevel
	}

	logger, err := logging.New(cfg.Env, level)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// newRouter builds the provider manager and, when enabled, its response cache
func newRouter(cfg *config.Config, logger *zap.Logger) (*providers.Manager, *cache.Cache) {
	manager := providers.NewManager(cfg, usage.NewTracker(), logger)

	if !cfg.Cache.Enabled {
		return manager, nil
	}

	c := cache.New(cache.Config{
		TTL:     cfg.Cache.TTL,
		MaxSize: cfg.Cache.MaxSize,
		Policy:  cfg.Cache.EvictionPolicy,
	}, logger)
	manager.SetCache(c)

	return manager, c
}
