package server

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// attemptCounter tracks credential attempts in Redis with a fixed window per
// key. Counting in Redis keeps the throttle accurate when the gateway runs as
// several replicas behind one load balancer.
type attemptCounter struct {
	client  *redis.Client
	timeout time.Duration
}

func newAttemptCounter(addr, password string, timeout time.Duration) *attemptCounter {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	return &attemptCounter{client: client, timeout: timeout}
}

func (c *attemptCounter) Allow(key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("increment attempt counter: %w", err)
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return false, 0, fmt.Errorf("set attempt window: %w", err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("read attempt window: %w", err)
	}
	if ttl < 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (c *attemptCounter) Close() error {
	return c.client.Close()
}
