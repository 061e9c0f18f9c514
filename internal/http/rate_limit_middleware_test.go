package httpx

import (
	"testing"
	"time"
)

func TestMemoryRateLimiterEnforcesWindow(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return current })
	defer rl.Close()

	for i := 0; i < 3; i++ {
		decision := rl.Allow("user:alice", 3, time.Minute)
		if !decision.allowed {
			t.Fatalf("request %d inside limit rejected", i+1)
		}
	}

	decision := rl.Allow("user:alice", 3, time.Minute)
	if decision.allowed {
		t.Fatalf("fourth request in window must be rejected")
	}
	if decision.count != 3 {
		t.Fatalf("count = %d, want 3", decision.count)
	}

	// A different key has its own window.
	if decision := rl.Allow("user:bob", 3, time.Minute); !decision.allowed {
		t.Fatalf("unrelated key rejected")
	}

	// The window expiring resets the counter.
	current = current.Add(61 * time.Second)
	if decision := rl.Allow("user:alice", 3, time.Minute); !decision.allowed {
		t.Fatalf("request after window reset rejected")
	}
}

func TestMemoryRateLimiterZeroLimitAllowsAll(t *testing.T) {
	rl := newMemoryRateLimiter(time.Now)
	defer rl.Close()

	for i := 0; i < 10; i++ {
		if decision := rl.Allow("user:alice", 0, time.Minute); !decision.allowed {
			t.Fatalf("zero limit should disable limiting")
		}
	}
}

func TestMemoryRateLimiterCleanup(t *testing.T) {
	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl := newMemoryRateLimiter(func() time.Time { return current })
	defer rl.Close()

	rl.Allow("user:alice", 3, time.Minute)
	rl.Allow("user:bob", 3, time.Hour)

	current = current.Add(2 * time.Minute)
	rl.cleanup(current)

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.entries["user:alice"]; ok {
		t.Fatalf("expired entry not swept")
	}
	if _, ok := rl.entries["user:bob"]; !ok {
		t.Fatalf("live entry must survive sweep")
	}
}
