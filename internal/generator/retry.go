package generator

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RetryConfig bounds how hard the Retrier leans on the generator.
type RetryConfig struct {
	MaxAttempts int           // total attempts, not retries
	CallTimeout time.Duration // per-attempt deadline, distinct from transport timeouts
	RetryDelay  time.Duration // linear backoff between attempts
}

// DefaultRetryConfig returns the observed production policy: three
// attempts with a short per-call deadline.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		CallTimeout: 5 * time.Second,
		RetryDelay:  200 * time.Millisecond,
	}
}

// Retrier wraps a Generator with per-call timeouts and a bounded retry
// budget. Generator latency is the dominant tail-latency risk, so every
// attempt gets its own deadline. Once the budget is spent the error wraps
// ErrUnavailable and the caller decides between a static fallback and a
// step revert.
type Retrier struct {
	gen   Generator
	cfg   RetryConfig
	clock clockwork.Clock
}

// NewRetrier wraps the given generator.
func NewRetrier(gen Generator, cfg RetryConfig, clock clockwork.Clock) *Retrier {
	return &Retrier{gen: gen, cfg: cfg, clock: clock}
}

var _ Generator = (*Retrier)(nil)

// Question asks for one question, retrying within the budget.
func (r *Retrier) Question(ctx context.Context, req QuestionRequest) (string, error) {
	return r.attempt(ctx, "question", func(callCtx context.Context) (string, error) {
		return r.gen.Question(callCtx, req)
	})
}

// Summary asks for the end-of-game summary, retrying within the budget.
func (r *Retrier) Summary(ctx context.Context, req SummaryRequest) (string, error) {
	return r.attempt(ctx, "summary", func(callCtx context.Context) (string, error) {
		return r.gen.Summary(callCtx, req)
	})
}

func (r *Retrier) attempt(ctx context.Context, kind string, call func(context.Context) (string, error)) (string, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.cfg.RetryDelay * time.Duration(attempt-1)
			select {
			case <-ctx.Done():
				return "", fmt.Errorf("%w: %w", ErrUnavailable, ctx.Err())
			case <-r.clock.After(delay):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
		out, err := call(callCtx)
		cancel()
		if err == nil {
			if attempt > 1 {
				log.Info().Str("kind", kind).Int("attempt", attempt).Msg("generator succeeded after retry")
			}
			return out, nil
		}

		lastErr = err
		log.Warn().Err(err).Str("kind", kind).Int("attempt", attempt).Msg("generator call failed")
	}

	return "", fmt.Errorf("%w after %d attempts: %w", ErrUnavailable, r.cfg.MaxAttempts, lastErr)
}
