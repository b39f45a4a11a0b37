package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	apperrors "github.com/swotplanner/backend/internal/errors"
	"github.com/swotplanner/backend/internal/logger"
	"github.com/swotplanner/backend/internal/metrics"
)

const defaultRateLimitPrefix = "ratelimit:auth"

// RateLimiter is a fixed-window request counter shared through Redis, keyed
// by client IP. Redis failures let the request through.
type RateLimiter struct {
	client     redis.Cmdable
	limit      int
	window     time.Duration
	prefix     string
	log        *logger.Logger
	metrics    *metrics.Metrics
	trustProxy bool
}

func NewRateLimiter(client redis.Cmdable, limit int, window time.Duration, log *logger.Logger, m *metrics.Metrics) *RateLimiter {
	if log == nil {
		log = logger.Default()
	}
	return &RateLimiter{
		client:  client,
		limit:   limit,
		window:  window,
		prefix:  defaultRateLimitPrefix,
		log:     log,
		metrics: m,
	}
}

// Allow counts one request for key and reports whether it is within the
// limit, how many remain, and when the window resets.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (allowed bool, remaining int, resetIn time.Duration, err error) {
	redisKey := fmt.Sprintf("%s:%s", rl.prefix, key)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, rl.limit, 0, fmt.Errorf("redis error: %w", err)
	}

	resetIn = ttl.Val()
	if resetIn < 0 {
		// First hit in this window.
		if err := rl.client.Expire(ctx, redisKey, rl.window).Err(); err != nil {
			return true, rl.limit, 0, fmt.Errorf("redis error: %w", err)
		}
		resetIn = rl.window
	}

	count := incr.Val()
	remaining = rl.limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return count <= int64(rl.limit), remaining, resetIn, nil
}

// TrustProxyHeaders makes the limiter key on X-Forwarded-For / X-Real-IP.
// Only enable it behind a proxy that overwrites those headers; otherwise a
// client picks its own key.
func (rl *RateLimiter) TrustProxyHeaders(trust bool) *RateLimiter {
	rl.trustProxy = trust
	return rl
}

func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.client == nil || rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		allowed, remaining, resetIn, err := rl.Allow(ctx, "ip:"+clientIP(r, rl.trustProxy))
		if err != nil {
			rl.log.Warn(ctx, "rate limiter unavailable, allowing request", map[string]interface{}{
				"error": err.Error(),
			})
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			retryAfter := int(resetIn.Round(time.Second).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			rl.metrics.RecordRateLimited(r.URL.Path)
			apperrors.WriteError(w, apperrors.GetRequestID(ctx), apperrors.RateLimited())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// clientIP is the connection address without its port. With trustProxy it
// prefers the first X-Forwarded-For hop, then X-Real-IP.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			first, _, _ := strings.Cut(forwarded, ",")
			if ip := strings.TrimSpace(first); ip != "" {
				return ip
			}
		}

		if realIP := strings.TrimSpace(r.Header.Get("X-Real-IP")); realIP != "" {
			return realIP
		}
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
