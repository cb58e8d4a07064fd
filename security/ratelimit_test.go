package security

import (
	"fmt"
	"log/slog"
	"testing"
	"time"
)

func TestRateLimiter_Allow(t *testing.T) {
	rl := NewRateLimiter(1, 3, slog.Default())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if !rl.Allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if rl.Allow("1.2.3.4") {
		t.Error("request beyond burst should be denied")
	}
	if !rl.Allow("5.6.7.8") {
		t.Error("other identifier should have its own bucket")
	}

	now = now.Add(2 * time.Second)
	if !rl.Allow("1.2.3.4") {
		t.Error("tokens should refill over time")
	}
}

func TestRateLimiter_EvictsWhenFull(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 3, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	for i := 0; i < 5; i++ {
		rl.Allow(fmt.Sprintf("id-%d", i))
	}

	stats := rl.GetStats()
	if stats.CurrentEntries != 3 {
		t.Errorf("CurrentEntries = %d, want 3", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 2 {
		t.Errorf("TotalEvictions = %d, want 2", stats.TotalEvictions)
	}
}

func TestRateLimiter_PrunesIdleBeforeEvicting(t *testing.T) {
	rl := NewRateLimiterWithConfig(10, 10, 2, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	rl.Allow("a")
	rl.Allow("b")
	now = now.Add(DefaultRateLimiterIdleTimeout + time.Minute)
	rl.Allow("c")

	stats := rl.GetStats()
	if stats.CurrentEntries != 1 {
		t.Errorf("CurrentEntries = %d, want 1", stats.CurrentEntries)
	}
	if stats.TotalEvictions != 0 {
		t.Errorf("TotalEvictions = %d, want 0", stats.TotalEvictions)
	}
}

func TestRateLimiter_Nil(t *testing.T) {
	var rl *RateLimiter
	if !rl.Allow("x") {
		t.Error("nil limiter should allow")
	}
}
