package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrRedisNotReady = errors.New("redis: not ready")

// ConnectConfig controls how Connect dials and retries.
type ConnectConfig struct {
	URL            string        // e.g. "redis://:password@localhost:6379/0"
	RetryAttempts  int           // attempts before giving up (min 1)
	RetryInterval  time.Duration // pause between attempts
	ConnectTimeout time.Duration // overall deadline
}

// Connect parses cfg.URL and pings the server until it answers, retrying
// RetryAttempts times.
func Connect(ctx context.Context, cfg ConnectConfig) (*redis.Client, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	attempts := max(cfg.RetryAttempts, 1)
	var lastErr error
	for attempt := range attempts {
		client := redis.NewClient(opts)
		if lastErr = client.Ping(ctx).Err(); lastErr == nil {
			return client, nil
		}

		// Close the failed client
		_ = client.Close()

		if attempt == attempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return nil, errors.Join(ErrRedisNotReady, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errors.Join(ErrRedisNotReady, lastErr)
}
