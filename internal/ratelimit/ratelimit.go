// Package ratelimit throttles MCP traffic on the HTTP transport.
//
// A search loop issues many small tool calls in quick succession, so the
// limit is a token bucket per client: bursts are fine, sustained floods
// are not. The stdio transport serves a single local client and is never
// rate limited.
package ratelimit

import "context"

// Limiter decides whether a request identified by key should be allowed.
// Implementations must be safe for concurrent use.
type Limiter interface {
	// Allow returns true if the request should proceed.
	// The key is opaque; callers construct it (e.g. "client:<id>" or "ip:<addr>").
	// Returning an error signals a limiter malfunction; callers treat
	// errors as fail-open and permit the request.
	Allow(ctx context.Context, key string) (bool, error)

	// Close releases resources (cleanup goroutines).
	Close() error
}

// NoopLimiter permits every request. Used when rate limiting is disabled.
type NoopLimiter struct{}

// Allow always returns true.
func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }

// Close is a no-op.
func (NoopLimiter) Close() error { return nil }
