package tasky

import (
	"context"
	"math"
	"sync"
	"time"

	"gopkg.in/cenkalti/backoff.v1"
)

type BackoffConfig struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
}

func BackoffExponential(cfg BackoffConfig) func(attempts int) time.Duration {
	base := cfg.Base
	max := cfg.Max
	factor := cfg.Factor
	if factor <= 0 {
		factor = 2
	}

	return func(attempts int) time.Duration {
		if attempts <= 0 || base <= 0 {
			return 0
		}
		exponent := float64(attempts - 1)
		delay := float64(base) * math.Pow(factor, exponent)
		if delay < 0 {
			return 0
		}
		if max > 0 && delay > float64(max) {
			return max
		}
		if delay > float64(math.MaxInt64) {
			if max > 0 {
				return max
			}
			return time.Duration(math.MaxInt64)
		}
		return time.Duration(delay)
	}
}

// Retry is a backoff.BackOff built on BackoffExponential. It gives up after
// maxAttempts consecutive delays, or as soon as ctx is done. A maxAttempts of
// zero retries until ctx is done.
type Retry struct {
	mu          sync.Mutex
	ctx         context.Context
	delay       func(attempts int) time.Duration
	maxAttempts int
	attempts    int
}

var _ backoff.BackOff = (*Retry)(nil)

func NewRetry(ctx context.Context, cfg BackoffConfig, maxAttempts int) *Retry {
	return &Retry{
		ctx:         ctx,
		delay:       BackoffExponential(cfg),
		maxAttempts: maxAttempts,
	}
}

func (r *Retry) NextBackOff() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ctx.Err() != nil {
		return backoff.Stop
	}
	if r.maxAttempts > 0 && r.attempts >= r.maxAttempts {
		return backoff.Stop
	}
	r.attempts++
	return r.delay(r.attempts)
}

// Reset clears the attempt count. It is safe to call from another goroutine
// while a retry loop is using r.
func (r *Retry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = 0
}

func (r *Retry) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}
