package arena

import (
	"testing"
	"time"
)

func TestSlidingWindowLimiterCapsFramesPerSecond(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Second, 3, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !limiter.Allow() {
			t.Fatalf("expected frame %d to be allowed", i+1)
		}
	}
	if limiter.Allow() {
		t.Fatal("expected fourth frame in the same second to be denied")
	}

	now = now.Add(500 * time.Millisecond)
	if limiter.Allow() {
		t.Fatal("expected frame inside the window to still be denied")
	}

	now = now.Add(501 * time.Millisecond)
	if !limiter.Allow() {
		t.Fatal("expected limiter to recover once the window slides past")
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	if !NewSlidingWindowLimiter(0, 0, nil).Allow() {
		t.Fatal("limiter with zero configuration should allow")
	}
	if !NewSlidingWindowLimiter(time.Second, -1, nil).Allow() {
		t.Fatal("negative limit should disable the limiter")
	}
	var limiter *SlidingWindowLimiter
	if !limiter.Allow() {
		t.Fatal("nil limiter should allow")
	}
}
