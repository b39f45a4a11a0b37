package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/swotplanner/backend/internal/errors"
	"github.com/swotplanner/backend/internal/logger"
	"github.com/swotplanner/backend/internal/metrics"
)

func okHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRateLimiter_Allow(t *testing.T) {
	mr, client := newRedis(t)
	rl := NewRateLimiter(client, 2, time.Minute, logger.New(&bytes.Buffer{}, logger.LevelError, ""), nil)
	ctx := context.Background()

	allowed, remaining, resetIn, err := rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, 1, remaining)
	assert.Equal(t, time.Minute, resetIn)
	assert.Equal(t, time.Minute, mr.TTL("ratelimit:auth:ip:1.2.3.4"))

	allowed, _, _, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, remaining, _, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	// Other clients have their own window.
	allowed, _, _, err = rl.Allow(ctx, "ip:5.6.7.8")
	require.NoError(t, err)
	assert.True(t, allowed)

	// The window does not slide with each hit.
	mr.FastForward(time.Minute)
	allowed, _, _, err = rl.Allow(ctx, "ip:1.2.3.4")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiter_Middleware(t *testing.T) {
	_, client := newRedis(t)
	m := metrics.New()
	rl := NewRateLimiter(client, 1, time.Minute, logger.New(&bytes.Buffer{}, logger.LevelError, ""), m)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w
	}

	first := send()
	assert.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := send()
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))

	var env apperrors.Envelope
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &env))
	assert.False(t, env.Success)
	assert.Equal(t, apperrors.CodeRateLimited, env.Code)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RateLimitedTotal.WithLabelValues("/api/auth/login")))
}

func TestRateLimiter_FailsOpen(t *testing.T) {
	mr, client := newRedis(t)
	rl := NewRateLimiter(client, 1, time.Minute, logger.New(&bytes.Buffer{}, logger.LevelError, ""), nil)
	handler := rl.Middleware(http.HandlerFunc(okHandler))
	mr.Close()

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/auth/login", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimiter_NilPassesThrough(t *testing.T) {
	var rl *RateLimiter
	w := httptest.NewRecorder()
	rl.Middleware(http.HandlerFunc(okHandler)).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remote     string
		trustProxy bool
		want       string
	}{
		{"remote addr", nil, "192.168.1.1:1234", false, "192.168.1.1"},
		{"forwarded ignored by default", map[string]string{"X-Forwarded-For": "203.0.113.5"}, "10.0.0.1:80", false, "10.0.0.1"},
		{"real ip ignored by default", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:80", false, "10.0.0.1"},
		{"trusted forwarded chain", map[string]string{"X-Forwarded-For": "203.0.113.5, 10.0.0.1"}, "10.0.0.1:80", true, "203.0.113.5"},
		{"trusted real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "10.0.0.1:80", true, "198.51.100.7"},
		{"trusted without headers", nil, "10.0.0.1:80", true, "10.0.0.1"},
		{"no port", nil, "unix-socket", false, "unix-socket"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req, tt.trustProxy))
		})
	}
}

func TestRateLimiter_SpoofedForwardedForStillLimited(t *testing.T) {
	_, client := newRedis(t)
	rl := NewRateLimiter(client, 2, time.Minute, logger.New(&bytes.Buffer{}, logger.LevelError, ""), nil)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	var codes []int
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:4000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	assert.Equal(t, []int{200, 200, 429, 429}, codes)
}

func TestRateLimiter_TrustedProxyKeysOnForwardedFor(t *testing.T) {
	_, client := newRedis(t)
	rl := NewRateLimiter(client, 1, time.Minute, logger.New(&bytes.Buffer{}, logger.LevelError, ""), nil).
		TrustProxyHeaders(true)
	handler := rl.Middleware(http.HandlerFunc(okHandler))

	send := func(forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:80"
		req.Header.Set("X-Forwarded-For", forwarded)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.5"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.5"))
	assert.Equal(t, http.StatusOK, send("203.0.113.6"))
}

func TestRecoverer(t *testing.T) {
	var buf bytes.Buffer
	handler := Recoverer(logger.New(&buf, logger.LevelInfo, ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var env apperrors.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	assert.Equal(t, "An unexpected error occurred", env.Message)
	assert.Contains(t, buf.String(), "panic recovered")
}

func TestLogging(t *testing.T) {
	var buf bytes.Buffer
	handler := Logging(logger.New(&buf, logger.LevelInfo, ""))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte("nope"))
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "request completed with client error", entry["message"])
	assert.Equal(t, float64(404), entry["status"])
	assert.Equal(t, float64(4), entry["bytes"])
}

func TestCORS(t *testing.T) {
	handler := CORS([]string{"http://localhost:3000"})(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	Chain(http.HandlerFunc(okHandler), mark("a"), mark("b"), mark("c")).
		ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, []string{"a", "b", "c"}, order)
}
