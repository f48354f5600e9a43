package ratelimit_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sendas-app/recorridos/internal/model"
	"github.com/sendas-app/recorridos/internal/ratelimit"
	"github.com/sendas-app/recorridos/internal/testutil"
)

var testRedis *redis.Client

func TestMain(m *testing.M) {
	ctx := context.Background()
	tc := testutil.MustStartRedis()

	opts, err := redis.ParseURL(tc.DSN)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to parse redis url: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}
	testRedis = redis.NewClient(opts)

	if err := testRedis.Ping(ctx).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to ping redis: %v\n", err)
		tc.Terminate()
		os.Exit(1)
	}

	code := m.Run()

	_ = testRedis.Close()
	tc.Terminate()
	os.Exit(code)
}

// newTestLimiter shares testRedis; Close on it is a no-op.
func newTestLimiter(t *testing.T) *ratelimit.RedisLimiter {
	t.Helper()
	return ratelimit.NewRedisLimiter(testRedis, testutil.TestLogger())
}

func uniqueRule(name string, limit int, window time.Duration) ratelimit.Rule {
	return ratelimit.Rule{
		Prefix: fmt.Sprintf("%s-%d", name, time.Now().UnixNano()),
		Limit:  limit,
		Window: window,
	}
}

func TestLimiterAllow(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	rule := uniqueRule("allow", 5, time.Minute)

	for i := 0; i < 5; i++ {
		result := limiter.Allow(ctx, rule, "alumna-1")
		assert.True(t, result.Allowed, "request %d should be allowed", i+1)
		assert.Equal(t, 5, result.Limit)
		assert.Equal(t, 5-i-1, result.Remaining, "remaining after request %d", i+1)
	}

	result := limiter.Allow(ctx, rule, "alumna-1")
	assert.False(t, result.Allowed, "6th request should be denied")
	assert.Equal(t, 0, result.Remaining)
	assert.True(t, result.ResetAt.After(time.Now()), "ResetAt should be in the future")
}

func TestLimiterMultipleKeys(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	rule := uniqueRule("keys", 2, time.Minute)

	for i := 0; i < 2; i++ {
		require.True(t, limiter.Allow(ctx, rule, "alumna-a").Allowed)
	}
	assert.False(t, limiter.Allow(ctx, rule, "alumna-a").Allowed)
	assert.True(t, limiter.Allow(ctx, rule, "alumna-b").Allowed, "other keys keep their own window")
}

func TestLimiterRejectedRequestsDoNotCount(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	rule := uniqueRule("rejected", 1, time.Minute)

	require.True(t, limiter.Allow(ctx, rule, "k").Allowed)
	for i := 0; i < 5; i++ {
		require.False(t, limiter.Allow(ctx, rule, "k").Allowed)
	}

	card, err := testRedis.ZCard(ctx, "recorridos:ratelimit:"+rule.Prefix+":k").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), card)
}

func TestLimiterSlidingWindow(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	rule := uniqueRule("window", 2, 500*time.Millisecond)

	assert.True(t, limiter.Allow(ctx, rule, "k").Allowed)
	assert.True(t, limiter.Allow(ctx, rule, "k").Allowed)
	assert.False(t, limiter.Allow(ctx, rule, "k").Allowed)

	time.Sleep(600 * time.Millisecond)
	assert.True(t, limiter.Allow(ctx, rule, "k").Allowed, "request after window should be allowed")
}

func TestLimiterNilClient(t *testing.T) {
	limiter := ratelimit.NewRedisLimiter(nil, testutil.TestLogger())
	rule := ratelimit.Rule{Prefix: "noop", Limit: 1, Window: time.Minute}

	for i := 0; i < 100; i++ {
		result := limiter.Allow(context.Background(), rule, "k")
		require.True(t, result.Allowed)
		assert.Equal(t, 1, result.Remaining)
	}
}

func TestLimiterFailsOpen(t *testing.T) {
	broken := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	defer broken.Close()
	limiter := ratelimit.NewRedisLimiter(broken, testutil.TestLogger())

	result := limiter.Allow(context.Background(), ratelimit.Rule{Prefix: "down", Limit: 1, Window: time.Minute}, "k")
	assert.True(t, result.Allowed)
}

func TestResultFormatHeaders(t *testing.T) {
	resetAt := time.Date(2026, 2, 5, 12, 0, 0, 0, time.UTC)
	result := ratelimit.Result{Allowed: true, Limit: 100, Remaining: 42, ResetAt: resetAt}

	headers := result.FormatHeaders()
	assert.Equal(t, "100", headers["X-RateLimit-Limit"])
	assert.Equal(t, "42", headers["X-RateLimit-Remaining"])
	assert.Equal(t, fmt.Sprintf("%d", resetAt.Unix()), headers["X-RateLimit-Reset"])
}

func TestLimiterConcurrent(t *testing.T) {
	ctx := context.Background()
	limiter := newTestLimiter(t)
	rule := uniqueRule("concurrent", 100, time.Minute)

	results := make(chan ratelimit.Result, 200)
	for i := 0; i < 200; i++ {
		go func() {
			results <- limiter.Allow(ctx, rule, "shared")
		}()
	}

	allowed := 0
	for i := 0; i < 200; i++ {
		if (<-results).Allowed {
			allowed++
		}
	}
	// Each transaction sees every earlier one, so the count is exact.
	assert.Equal(t, 100, allowed)
}

func TestMiddleware(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter()
	defer limiter.Close()
	rule := ratelimit.Rule{Prefix: "mw", Limit: 1, Window: time.Minute}

	keyFunc := func(r *http.Request) string { return r.Header.Get("X-User") }
	reqID := func(*http.Request) string { return "req-1" }
	h := ratelimit.Middleware(limiter, rule, keyFunc, reqID)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	do := func(user string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/v1/runs", nil)
		if user != "" {
			req.Header.Set("X-User", user)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	first := do("alumna")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))

	second := do("alumna")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	var body model.APIError
	require.NoError(t, json.NewDecoder(second.Body).Decode(&body))
	assert.Equal(t, model.ErrCodeRateLimited, body.Error.Code)
	assert.Equal(t, "req-1", body.Meta.RequestID)

	assert.Equal(t, http.StatusNoContent, do("").Code, "requests without a key are not limited")
}

func TestMiddlewareNilLimiter(t *testing.T) {
	h := ratelimit.Middleware(nil, ratelimit.Rule{Limit: 1, Window: time.Minute}, func(*http.Request) string { return "k" }, nil)(
		http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }))
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
