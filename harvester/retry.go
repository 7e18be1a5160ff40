package harvester

import (
	"math"
	"time"

	"github.com/aluiziolira/go-harvest-places/config"
)

// RetryPolicy decides whether a failed call is attempted again and after how
// long. attempt starts at 1 for the first retry.
type RetryPolicy interface {
	Backoff(attempt int, err error) (time.Duration, bool)
}

// ExponentialBackoff doubles the delay per attempt, capped at Max.
type ExponentialBackoff struct {
	MaxRetries int
	Base       time.Duration
	Max        time.Duration
}

// NewRetryPolicy builds the policy described by cfg.
func NewRetryPolicy(cfg *config.Config) ExponentialBackoff {
	return ExponentialBackoff{
		MaxRetries: cfg.MaxRetries,
		Base:       cfg.RetryBackoff,
		Max:        cfg.RetryBackoffMax,
	}
}

// NoRetry fails on the first error.
var NoRetry RetryPolicy = ExponentialBackoff{}

func (b ExponentialBackoff) Backoff(attempt int, err error) (time.Duration, bool) {
	if attempt > b.MaxRetries || !IsRetryable(err) {
		return 0, false
	}
	return b.delay(attempt), true
}

func (b ExponentialBackoff) delay(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}

	base := b.Base
	if base <= 0 {
		base = 100 * time.Millisecond
	}

	// Double one step at a time so large attempts saturate instead of
	// overflowing.
	delay := base
	for i := 1; i < attempt; i++ {
		if b.Max > 0 && delay >= b.Max {
			break
		}
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if b.Max > 0 && delay > b.Max {
		delay = b.Max
	}
	return delay
}
