package ratelimit

import (
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Config holds fixed-window limiter settings.
type Config struct {
	Max           int           // allowed requests per window
	Window        time.Duration // window length
	SweepInterval time.Duration // minimum gap between full expiry sweeps
}

// DefaultConfig returns the limiter settings used by the room service.
func DefaultConfig() Config {
	return Config{
		Max:           30,
		Window:        time.Minute,
		SweepInterval: time.Minute,
	}
}

// Result describes the outcome of a single Check call.
type Result struct {
	Allowed           bool
	Remaining         int
	Limit             int
	ResetAt           time.Time
	RetryAfterSeconds int // only set when Allowed is false
}

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter counts requests per identifier inside a fixed window. The window
// is fixed, not rolling: once it opens for an identifier it stays in place
// until it expires, so Remaining and RetryAfterSeconds are stable across a
// burst at the boundary.
type Limiter struct {
	cfg   Config
	clock clockwork.Clock

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// New creates a limiter with the given settings.
func New(cfg Config, clock clockwork.Clock) *Limiter {
	return &Limiter{
		cfg:       cfg,
		clock:     clock,
		entries:   make(map[string]*entry),
		lastSweep: clock.Now(),
	}
}

// Check records one request for the identifier and reports whether it is
// within the window's budget.
func (l *Limiter) Check(identifier string) Result {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()

	// Full sweep at most once per SweepInterval keeps memory bounded even
	// for identifiers that stop calling.
	if now.Sub(l.lastSweep) > l.cfg.SweepInterval {
		for id, e := range l.entries {
			if !now.Before(e.resetAt) {
				delete(l.entries, id)
			}
		}
		l.lastSweep = now
	}

	// Lazy eviction of this identifier's own expired entry, independent of
	// the sweep cadence.
	if e, ok := l.entries[identifier]; ok && !now.Before(e.resetAt) {
		delete(l.entries, identifier)
	}

	e, ok := l.entries[identifier]
	if !ok {
		e = &entry{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.entries[identifier] = e
		return Result{
			Allowed:   true,
			Remaining: l.cfg.Max - 1,
			Limit:     l.cfg.Max,
			ResetAt:   e.resetAt,
		}
	}

	if e.count < l.cfg.Max {
		e.count++
		return Result{
			Allowed:   true,
			Remaining: l.cfg.Max - e.count,
			Limit:     l.cfg.Max,
			ResetAt:   e.resetAt,
		}
	}

	retry := int(math.Ceil(e.resetAt.Sub(now).Seconds()))
	if retry < 1 {
		// Right at the boundary the ceiling can land on zero; callers
		// must always wait at least a second.
		retry = 1
	}
	return Result{
		Allowed:           false,
		Remaining:         0,
		Limit:             l.cfg.Max,
		ResetAt:           e.resetAt,
		RetryAfterSeconds: retry,
	}
}

// Size returns the number of tracked identifiers.
func (l *Limiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
