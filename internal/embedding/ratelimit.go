package embedding

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter bounds the aggregate rate of embedding calls across all
// concurrent callers (ingestion and query-time alike). It blocks rather
// than drops: Wait returns once a slot is available or the context ends.
type RateLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	retryAt time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimiter allows at most calls requests per period, with bursts up
// to the full budget.
func NewRateLimiter(calls int, period time.Duration) *RateLimiter {
	if calls < 1 {
		calls = 1
	}
	interval := period / time.Duration(calls)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Every(interval), calls),
		now:     time.Now,
		sleep:   sleepUntil,
	}
}

func sleepUntil(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Wait blocks until a call may proceed. It also honors any backoff window
// set by RecordRateLimitError.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	retryAt := r.retryAt
	r.mu.Unlock()

	now := r.now()
	if now.Before(retryAt) {
		if err := r.sleep(ctx, retryAt.Sub(now)); err != nil {
			return err
		}
	}

	now = r.now()
	res := r.limiter.ReserveN(now, 1)
	if !res.OK() {
		return context.DeadlineExceeded
	}
	if err := r.sleep(ctx, res.DelayFrom(now)); err != nil {
		res.CancelAt(r.now())
		return err
	}
	return nil
}

// RecordRateLimitError installs a backoff window after the provider
// rejected a call for quota reasons (HTTP 429 and friends).
func (r *RateLimiter) RecordRateLimitError(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = 30 * time.Second
	}
	r.mu.Lock()
	r.retryAt = r.now().Add(retryAfter)
	r.mu.Unlock()
}
