package realtime

import (
	"testing"
	"time"
)

func TestRateLimiterAllow(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(3, 10*time.Second)

	for i := 0; i < 3; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed", i)
		}
	}
	if rl.Allow(now) {
		t.Fatal("fourth event within window should be denied")
	}

	// Once the window slides past the old events, capacity frees up.
	later := now.Add(11 * time.Second)
	if !rl.Allow(later) {
		t.Fatal("event after window should be allowed")
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	t.Parallel()

	rl := NewRateLimiter(0, 0)
	now := time.Now()
	for i := 0; i < rateLimitEvents; i++ {
		if !rl.Allow(now) {
			t.Fatalf("event %d should be allowed under default limit", i)
		}
	}
	if rl.Allow(now) {
		t.Fatal("event beyond default limit should be denied")
	}
}
