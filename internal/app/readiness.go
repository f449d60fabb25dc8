package app

import (
	"context"
	"fmt"
)

// RedisPinger is the minimal Redis surface readiness needs.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to RedisPinger.
type PingFunc func(ctx context.Context) error

// Ping calls f.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// BuildRedisCheck returns the Redis readiness check, or nil when Redis is not
// configured so /readyz reports it as skipped instead of failing.
func BuildRedisCheck(rdb RedisPinger) func(ctx context.Context) error {
	if rdb == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := rdb.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		return nil
	}
}
