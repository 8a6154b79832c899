package ratelimit

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
)

func newTestLimiter(max int) (*Limiter, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	cfg := Config{Max: max, Window: time.Minute, SweepInterval: time.Minute}
	return New(cfg, clock), clock
}

func TestCheckAllowsExactlyMaxPerWindow(t *testing.T) {
	l, _ := newTestLimiter(10)

	for i := 0; i < 10; i++ {
		res := l.Check("1.2.3.4")
		if !res.Allowed {
			t.Fatalf("call %d: expected allowed", i+1)
		}
		if want := 10 - (i + 1); res.Remaining != want {
			t.Fatalf("call %d: remaining = %d, want %d", i+1, res.Remaining, want)
		}
	}

	for i := 0; i < 3; i++ {
		res := l.Check("1.2.3.4")
		if res.Allowed {
			t.Fatalf("call %d over limit: expected denied", i+1)
		}
		if res.Remaining != 0 {
			t.Fatalf("denied call: remaining = %d, want 0", res.Remaining)
		}
		if res.RetryAfterSeconds < 1 || res.RetryAfterSeconds > 60 {
			t.Fatalf("retry after = %d, want within [1,60]", res.RetryAfterSeconds)
		}
	}
}

func TestCheckWindowReset(t *testing.T) {
	l, clock := newTestLimiter(10)

	for i := 0; i < 10; i++ {
		l.Check("1.2.3.4")
	}
	if res := l.Check("1.2.3.4"); res.Allowed {
		t.Fatal("11th call: expected denied")
	}

	clock.Advance(61 * time.Second)

	res := l.Check("1.2.3.4")
	if !res.Allowed {
		t.Fatal("call after window reset: expected allowed")
	}
	if res.Remaining != 9 {
		t.Fatalf("remaining after reset = %d, want 9", res.Remaining)
	}
}

func TestCheckWindowIsFixedNotRolling(t *testing.T) {
	l, clock := newTestLimiter(2)

	first := l.Check("a")
	clock.Advance(30 * time.Second)
	l.Check("a")

	// Two calls straddled the window, but the reset time is pinned to the
	// first call, not the most recent one.
	denied := l.Check("a")
	if denied.Allowed {
		t.Fatal("expected denied")
	}
	if !denied.ResetAt.Equal(first.ResetAt) {
		t.Fatalf("reset at moved from %v to %v", first.ResetAt, denied.ResetAt)
	}
	if denied.RetryAfterSeconds != 30 {
		t.Fatalf("retry after = %d, want 30", denied.RetryAfterSeconds)
	}
}

func TestRetryAfterFlooredAtOneSecond(t *testing.T) {
	l, clock := newTestLimiter(1)

	l.Check("a")
	clock.Advance(60 * time.Second)

	// The window expired exactly now; lazy eviction opens a fresh one.
	res := l.Check("a")
	if !res.Allowed {
		t.Fatal("expected allowed after exact expiry")
	}

	clock.Advance(59*time.Second + 999*time.Millisecond)
	res = l.Check("a")
	if res.Allowed {
		t.Fatal("expected denied just before expiry")
	}
	if res.RetryAfterSeconds != 1 {
		t.Fatalf("retry after = %d, want floor of 1", res.RetryAfterSeconds)
	}
}

func TestSweepEvictsIdleIdentifiers(t *testing.T) {
	l, clock := newTestLimiter(10)

	for i := 0; i < 5; i++ {
		l.Check(string(rune('a' + i)))
	}
	if l.Size() != 5 {
		t.Fatalf("size = %d, want 5", l.Size())
	}

	// All five windows expire; a call from a sixth identifier past the
	// sweep interval clears them in one pass.
	clock.Advance(2 * time.Minute)
	l.Check("fresh")

	if l.Size() != 1 {
		t.Fatalf("size after sweep = %d, want 1", l.Size())
	}
}

func TestLazyEvictionBetweenSweeps(t *testing.T) {
	clock := clockwork.NewFakeClock()
	// Long sweep interval so only lazy eviction can fire.
	l := New(Config{Max: 1, Window: time.Second, SweepInterval: time.Hour}, clock)

	l.Check("a")
	if res := l.Check("a"); res.Allowed {
		t.Fatal("expected denied")
	}

	clock.Advance(2 * time.Second)
	if res := l.Check("a"); !res.Allowed {
		t.Fatal("expected lazy eviction to open a new window")
	}
}
