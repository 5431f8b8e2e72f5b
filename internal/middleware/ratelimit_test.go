package middleware

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if ok, _ := rl.Allow(ctx, "key", 5, time.Minute); !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	if ok, _ := rl.Allow(ctx, "key", 5, time.Minute); ok {
		t.Error("6th request should be denied")
	}
}

func TestRateLimiterWindowReset(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	// Use a very short window
	for i := 0; i < 3; i++ {
		rl.Allow(ctx, "key", 3, 10*time.Millisecond)
	}

	if ok, _ := rl.Allow(ctx, "key", 3, 10*time.Millisecond); ok {
		t.Error("should be blocked within window")
	}

	time.Sleep(15 * time.Millisecond)

	if ok, _ := rl.Allow(ctx, "key", 3, 10*time.Millisecond); !ok {
		t.Error("should be allowed after window expires")
	}
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter()
	ctx := context.Background()

	rl.Allow(ctx, "expired", 5, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)

	rl.Allow(ctx, "active", 5, time.Minute)

	rl.Cleanup()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["expired"]; ok {
		t.Error("expired entry should have been cleaned up")
	}
	if _, ok := rl.entries["active"]; !ok {
		t.Error("active entry should still exist")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := NewRateLimiter()
	keyFunc := func(r *http.Request) string { return "test" }

	handler := RateLimit(rl, keyFunc, 2, time.Minute, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// First 2 requests should pass
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
	}

	// 3rd request should be rate limited
	req := httptest.NewRequest("POST", "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After = %q, want 60", rec.Header().Get("Retry-After"))
	}
}

type brokenLimiter struct{}

func (brokenLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return false, errors.New("connection refused")
}

func TestRateLimitFailsOpen(t *testing.T) {
	handler := RateLimit(brokenLimiter{}, ByIP("auth"), 1, time.Minute, discard)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/auth/login", nil))
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"cloudflare", map[string]string{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"forwarded chain", map[string]string{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"}, "3.3.3.3:1", "2.2.2.2"},
		{"remote addr", nil, "3.3.3.3:1234", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			if got := RealIP(r); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}

func setupRedisLimiter(t *testing.T) (*RedisLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRedisLimiter(rdb, "rl:"), mr
}

func TestRedisLimiterAllow(t *testing.T) {
	rl, mr := setupRedisLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "otp:1.2.3.4", 3, time.Minute)
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !ok {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if ok, _ := rl.Allow(ctx, "otp:1.2.3.4", 3, time.Minute); ok {
		t.Error("4th request should be denied")
	}
	if ok, _ := rl.Allow(ctx, "otp:5.6.7.8", 3, time.Minute); !ok {
		t.Error("other key should be allowed")
	}

	if ttl := mr.TTL("rl:otp:1.2.3.4"); ttl <= 0 || ttl > time.Minute {
		t.Errorf("ttl = %v, want within one minute", ttl)
	}

	mr.FastForward(time.Minute + time.Second)
	if ok, _ := rl.Allow(ctx, "otp:1.2.3.4", 3, time.Minute); !ok {
		t.Error("should be allowed after window expires")
	}
}

func TestRedisLimiterRepairsMissingExpiry(t *testing.T) {
	rl, mr := setupRedisLimiter(t)
	mr.Set("rl:stuck", "10")

	ok, err := rl.Allow(context.Background(), "stuck", 3, time.Minute)
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if ok {
		t.Error("over-limit key should be denied")
	}
	if mr.TTL("rl:stuck") <= 0 {
		t.Error("expected expiry to be set")
	}
}

func TestRedisLimiterError(t *testing.T) {
	rl, mr := setupRedisLimiter(t)
	mr.Close()

	if _, err := rl.Allow(context.Background(), "k", 1, time.Minute); err == nil {
		t.Error("expected error with redis down")
	}
}
