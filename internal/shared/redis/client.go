package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// rateWindow is the fixed window used by CheckRateLimit
const rateWindow = time.Minute

type Client struct {
	client *redis.Client
}

// New creates a new Redis client
func New(ctx context.Context, redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis ping failed: %w", err)
	}

	return &Client{client: client}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.client.Close()
}

// Ping checks the connection
func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// CheckRateLimit counts one request for clientID in the current one-minute window.
// It returns whether the limit is exceeded, the remaining allowance and the time
// until the window resets.
func (c *Client) CheckRateLimit(ctx context.Context, clientID string, limit int) (bool, int, time.Duration, error) {
	key := rateLimitKey(clientID, time.Now())

	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, rateWindow)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	count := int(incr.Val())
	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	return count > limit, remaining, untilNextWindow(time.Now()), nil
}

// rateLimitKey buckets requests by client and minute
func rateLimitKey(clientID string, now time.Time) string {
	return fmt.Sprintf("ratelimit:%s:%d", clientID, now.Unix()/int64(rateWindow/time.Second))
}

func untilNextWindow(now time.Time) time.Duration {
	return now.Truncate(rateWindow).Add(rateWindow).Sub(now)
}
