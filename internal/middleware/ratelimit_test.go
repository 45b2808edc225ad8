package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/corvidae-labs/chromefleet/internal/config"
)

func TestRateLimitDisabledPassesThrough(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: false})
	client := ClientInfo{Addr: "1.2.3.4"}
	for i := 0; i < 100; i++ {
		if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
			t.Fatalf("disabled limiter should never reject, got %v", err)
		}
	}
}

func TestRateLimitSlidingWindowAdmitsUnderLimit(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true, Algorithm: "sliding_window", MaxRequests: 3, WindowSeconds: 60})
	client := ClientInfo{Addr: "1.2.3.4"}

	for i := 0; i < 3; i++ {
		if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
			t.Fatalf("request %d should be admitted, got %v", i+1, err)
		}
	}

	err := mw(context.Background(), authReq("ping", nil), client)
	if err == nil {
		t.Fatal("4th request should be rate limited")
	}
	if err.Code != -32003 {
		t.Errorf("expected code -32003, got %d", err.Code)
	}
	if retry, ok := err.Data["retry_after"].(float64); !ok || retry < 0 {
		t.Errorf("expected non-negative retry_after in data, got %v", err.Data)
	}
}

func TestRateLimitSlidingWindowPerClient(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true, Algorithm: "sliding_window", MaxRequests: 1, WindowSeconds: 60})
	a := ClientInfo{Addr: "1.1.1.1"}
	b := ClientInfo{Addr: "2.2.2.2"}

	if err := mw(context.Background(), authReq("ping", nil), a); err != nil {
		t.Fatalf("client a first request should pass, got %v", err)
	}
	if err := mw(context.Background(), authReq("ping", nil), a); err == nil {
		t.Fatal("client a second request should be limited")
	}
	if err := mw(context.Background(), authReq("ping", nil), b); err != nil {
		t.Fatalf("client b should have its own allowance, got %v", err)
	}
}

func TestRateLimitSlidingWindowResetsAfterWindow(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true, Algorithm: "sliding_window", MaxRequests: 1, WindowSeconds: 0})
	client := ClientInfo{Addr: "1.2.3.4"}
	if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
		t.Fatalf("first request should pass, got %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
		t.Fatalf("request after window elapses should pass, got %v", err)
	}
}

func TestRateLimitLeakyBucketAdmitsUnderCapacity(t *testing.T) {
	mw := RateLimit(config.RateLimitConfig{Enabled: true, Algorithm: "leaky_bucket", Capacity: 2, LeakRate: 1})
	client := ClientInfo{Addr: "1.2.3.4"}

	if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
		t.Fatalf("1st request should pass, got %v", err)
	}
	if err := mw(context.Background(), authReq("ping", nil), client); err != nil {
		t.Fatalf("2nd request should pass, got %v", err)
	}
	if err := mw(context.Background(), authReq("ping", nil), client); err == nil {
		t.Fatal("3rd request should overflow capacity")
	}
}

func TestRateLimitLeakyBucketLeaksOverTime(t *testing.T) {
	lb := newLeakyBucketLimiter(1, 1000) // leaks fast for a deterministic test
	ok, _ := lb.allow("c", 1)
	if !ok {
		t.Fatal("first request should be admitted")
	}
	time.Sleep(5 * time.Millisecond)
	ok, _ = lb.allow("c", 1)
	if !ok {
		t.Fatal("request after sufficient leak should be admitted")
	}
}
