package handlers

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RateLimiter counts requests per client in fixed windows
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, clientID string, limit int) (exceeded bool, remaining int, reset time.Duration, err error)
}

type Middleware struct {
	limiter RateLimiter
	limit   int
	logger  *zap.Logger
}

func NewMiddleware(limiter RateLimiter, limit int, logger *zap.Logger) *Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Middleware{
		limiter: limiter,
		limit:   limit,
		logger:  logger,
	}
}

// RateLimitMiddleware enforces the per-client request limit. A limiter failure lets the request through.
func (m *Middleware) RateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limiter == nil || m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		client := clientIP(r)
		exceeded, remaining, reset, err := m.limiter.CheckRateLimit(r.Context(), client, m.limit)
		if err != nil {
			m.logger.Warn("Rate limit check failed", zap.String("client", client), zap.Error(err))
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", m.limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))

		if exceeded {
			w.Header().Set("Retry-After", fmt.Sprintf("%d", int(math.Ceil(reset.Seconds()))))
			respondError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP strips the port from RemoteAddr, which chi's RealIP has already resolved
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
