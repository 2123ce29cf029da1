package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/gatherly/gatherly/pkg/httputil"
	"github.com/gatherly/gatherly/pkg/observability"
)

// RateLimitConfig defines a fixed-window rate limit.
type RateLimitConfig struct {
	// Requests is the max requests allowed per window.
	Requests int
	// Window is the limit window.
	Window time.Duration
}

// LoginRateLimitConfig is the default limit for credential endpoints.
func LoginRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{Requests: 10, Window: time.Minute}
}

// RateLimiter is a Redis-backed fixed-window rate limiter, shared
// across instances.
type RateLimiter struct {
	redis  *redis.Client
	config RateLimitConfig
	prefix string
	logger *observability.Logger
}

// NewRateLimiter builds a Redis-backed rate limiter. The prefix
// namespaces the limiter's keys so multiple limiters can share one
// Redis database.
func NewRateLimiter(client *redis.Client, config RateLimitConfig, prefix string, logger *observability.Logger) *RateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RateLimiter{redis: client, config: config, prefix: prefix, logger: logger}
}

// Allow reports whether a request under key fits the window, and how
// many requests remain.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, int, error) {
	window := time.Now().Unix() / int64(rl.config.Window.Seconds())
	redisKey := fmt.Sprintf("%s:%s:%d", rl.prefix, key, window)

	pipe := rl.redis.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.config.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, 0, fmt.Errorf("rate limit check: %w", err)
	}

	count := int(incr.Val())
	remaining := rl.config.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= rl.config.Requests, remaining, nil
}

// Handler limits requests per client IP. Redis outages fail open so a
// cache incident cannot lock everyone out.
func (rl *RateLimiter) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		allowed, remaining, err := rl.Allow(r.Context(), clientIP(r))
		if err != nil {
			rl.logger.WithError(err).Warn("rate limiter unavailable")
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.config.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.config.Window.Seconds())))
			httputil.WriteErrorMessage(w, http.StatusTooManyRequests, "too many requests, slow down")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
