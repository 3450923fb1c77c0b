package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mrmushfiq/llm0-freetier-router/internal/gateway/handlers"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/database"
	"github.com/mrmushfiq/llm0-freetier-router/internal/shared/redis"
)

func newServeCmd(logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*logLevel, "")
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			logger.Info("Starting free-tier router",
				zap.String("port", cfg.Port),
				zap.String("env", cfg.Env),
				zap.Strings("priority", cfg.ProviderPriority),
			)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			manager, responseCache := newRouter(cfg, logger)

			checks := make(map[string]handlers.Pinger)
			var cacheAdmin handlers.CacheAdmin
			if responseCache != nil {
				cacheAdmin = responseCache
				if cfg.Cache.CleanupInterval > 0 {
					go responseCache.StartCleanupWorker(ctx, cfg.Cache.CleanupInterval)
				}
				logger.Info("Initialized response cache",
					zap.String("policy", cfg.Cache.EvictionPolicy),
					zap.Int("max_size", cfg.Cache.MaxSize),
					zap.Duration("ttl", cfg.Cache.TTL),
				)
			}

			// Request log (optional)
			var requestLog handlers.RequestLogger
			var history handlers.HistorySource
			if cfg.DatabaseURL != "" {
				db, err := database.New(cfg.DatabaseURL)
				if err != nil {
					return err
				}
				defer db.Close()

				if err := db.Migrate(ctx); err != nil {
					return err
				}
				requestLog = db
				history = db
				checks["database"] = db.Ping
				logger.Info("Connected to request log", zap.String("dialect", string(db.Dialect())))
			}

			// Inbound rate limiting (optional)
			var limiter handlers.RateLimiter
			if cfg.RedisURL != "" {
				redisClient, err := redis.New(ctx, cfg.RedisURL)
				if err != nil {
					return err
				}
				defer redisClient.Close()

				limiter = redisClient
				checks["redis"] = redisClient.Ping
				logger.Info("Connected to Redis", zap.Int("rate_limit_per_minute", cfg.RateLimitPerMinute))
			}

			router := handlers.NewRouter(handlers.Routes{
				Chat:       handlers.NewChatHandler(manager, requestLog, logger),
				Status:     handlers.NewStatusHandler(manager, cacheAdmin, history, checks, logger),
				Middleware: handlers.NewMiddleware(limiter, cfg.RateLimitPerMinute, logger),
			})

			srv := &http.Server{
				Addr:         ":" + cfg.Port,
				Handler:      router,
				ReadTimeout:  60 * time.Second,
				WriteTimeout: 90 * time.Second,
				IdleTimeout:  120 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				logger.Info("Server listening", zap.String("addr", "http://localhost:"+cfg.Port))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("failed to start server: %w", err)
				}
			case <-ctx.Done():
			}

			logger.Info("Shutting down gracefully")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("Server shutdown error", zap.Error(err))
			}

			logger.Info("Server stopped", zap.Any("usage", manager.Stats()))
			return nil
		},
	}
}
