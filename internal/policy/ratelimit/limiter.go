// Package ratelimit implements fixed-window admission control for the API,
// counted in Redis so every instance of the process shares one budget.
package ratelimit

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/spider-orchestrator/internal/apperrors"
)

const keyPrefix = "rate_limit:"

// Limiter counts requests per client in fixed windows. The first request of
// a window creates the counter and arms its expiry; requests past the
// ceiling are rejected until the window lapses. Bursts straddling a window
// edge can briefly exceed the ceiling, which is accepted for admission
// control.
type Limiter struct {
	client  *goredis.Client
	ceiling int
	window  time.Duration
	logger  *zap.Logger
}

// Config holds rate limiter configuration.
type Config struct {
	Ceiling int
	Window  time.Duration
}

// New creates a new Limiter.
func New(client *goredis.Client, cfg Config, logger *zap.Logger) *Limiter {
	return &Limiter{
		client:  client,
		ceiling: cfg.Ceiling,
		window:  cfg.Window,
		logger:  logger,
	}
}

// Allow admits or rejects one request for the given client key. Redis
// being unreachable fails open: admission control must not take the API
// down with it.
func (l *Limiter) Allow(ctx context.Context, clientKey string) error {
	key := keyPrefix + clientKey

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("rate limiter unavailable, admitting request",
			zap.String("client", clientKey),
			zap.Error(err))
		return nil
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Warn("failed to arm rate limit window",
				zap.String("client", clientKey),
				zap.Error(err))
		}
	}

	if count > int64(l.ceiling) {
		retryAfter, err := l.client.TTL(ctx, key).Result()
		if err != nil || retryAfter <= 0 {
			retryAfter = l.window
		}
		return apperrors.RateLimited(retryAfter)
	}
	return nil
}

// ClientKey derives the limiter key for a request. The first hop of
// X-Forwarded-For wins so proxied deployments bucket by origin address.
func ClientKey(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		if trimmed := strings.TrimSpace(fwd); trimmed != "" {
			return trimmed
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// RetryAfterSeconds renders a retry hint for the Retry-After header,
// rounding up so clients never retry early.
func RetryAfterSeconds(d time.Duration) string {
	secs := int64((d + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d", secs)
}
