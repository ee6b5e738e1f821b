package httpapi

import (
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/erauner12/productsync/internal/auth"
	"github.com/erauner12/productsync/internal/service/productservice"
	"github.com/erauner12/productsync/internal/store"
)

func TestRateLimiting_429Response(t *testing.T) {
	srv := &Server{
		Products: productservice.NewService(store.NewMemory(), nil),
		RateLimitConfig: RateLimitInfo{
			WindowSeconds: 60,
			MaxRequests:   10, // Very low for testing
			Burst:         2,  // Allow only 2 requests in burst
		},
	}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	// Burst is 2, so first 2 should succeed, 3rd should fail with 429
	for i := 1; i <= 3; i++ {
		req := httptest.NewRequest("GET", "/product", nil)
		req.Header.Set("X-Debug-Sub", "test-user")

		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		for _, h := range []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "X-RateLimit-Burst"} {
			if rec.Header().Get(h) == "" {
				t.Errorf("Request %d: %s header missing", i, h)
			}
		}

		remaining, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining"))

		if i <= 2 {
			if rec.Code != 200 {
				t.Errorf("Request %d: Expected 200 (within burst), got %d: %s", i, rec.Code, rec.Body.String())
			}
			if expected := 2 - i; remaining != expected {
				t.Errorf("Request %d: Expected remaining=%d, got %d", i, expected, remaining)
			}
			continue
		}

		if rec.Code != 429 {
			t.Fatalf("Request %d: Expected 429 Too Many Requests, got %d: %s", i, rec.Code, rec.Body.String())
		}
		retrySeconds, err := strconv.Atoi(rec.Header().Get("Retry-After"))
		if err != nil || retrySeconds < 1 {
			t.Errorf("Retry-After should be an integer >= 1, got %q", rec.Header().Get("Retry-After"))
		}
		if remaining != 0 {
			t.Errorf("Expected remaining=0 when rate limited, got %d", remaining)
		}
	}

	// Another owner has an independent bucket
	req := httptest.NewRequest("GET", "/product", nil)
	req.Header.Set("X-Debug-Sub", "other-user")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Errorf("other owner should not be limited, got %d", rec.Code)
	}
}

func TestRateLimiting_HeaderValues(t *testing.T) {
	srv := &Server{
		Products:        productservice.NewService(store.NewMemory(), nil),
		RateLimitConfig: RateLimitInfo{WindowSeconds: 60, MaxRequests: 100, Burst: 20},
	}
	router := srv.Routes(auth.JWTCfg{HS256Secret: "test-secret", DevMode: true})

	req := httptest.NewRequest("GET", "/product", nil)
	req.Header.Set("X-Debug-Sub", "test-user")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if limit := rec.Header().Get("X-RateLimit-Limit"); limit != "100" {
		t.Errorf("Expected X-RateLimit-Limit=100, got %s", limit)
	}
	if burst := rec.Header().Get("X-RateLimit-Burst"); burst != "20" {
		t.Errorf("Expected X-RateLimit-Burst=20, got %s", burst)
	}
	if remaining, _ := strconv.Atoi(rec.Header().Get("X-RateLimit-Remaining")); remaining != 19 {
		t.Errorf("Expected X-RateLimit-Remaining=19, got %d", remaining)
	}
	resetUnix, err := strconv.ParseInt(rec.Header().Get("X-RateLimit-Reset"), 10, 64)
	if err != nil {
		t.Errorf("Invalid X-RateLimit-Reset value: %v", err)
	}
	if resetUnix < time.Now().Unix() {
		t.Error("X-RateLimit-Reset should not be in the past")
	}
}

func TestTokenBucketRefill(t *testing.T) {
	tb := NewTokenBucket(1, 1000) // refills quickly
	if ok, _, _, _ := tb.Allow(); !ok {
		t.Fatal("first token should be available")
	}
	time.Sleep(5 * time.Millisecond)
	if ok, _, _, _ := tb.Allow(); !ok {
		t.Error("bucket should have refilled")
	}
}

func TestRateLimiterClose(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimit)
	rl.Close()
	rl.Close() // idempotent
}
