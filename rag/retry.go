package rag

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is a bounded exponential backoff with full jitter.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 5,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
	}
}

// Delay returns the wait before the given retry (0 based).
func (b Backoff) Delay(attempt int) time.Duration {
	base := b.BaseDelay
	if base <= 0 {
		base = 200 * time.Millisecond
	}

	ceiling := b.MaxDelay
	if ceiling <= 0 {
		ceiling = 5 * time.Second
	}

	d := ceiling
	if attempt < 30 {
		d = min(base<<attempt, ceiling)
	}

	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Retry runs fn until it succeeds, returns a permanent error, or the attempt
// budget is spent. Only errors for which IsTransient holds are retried.
func Retry(ctx context.Context, b Backoff, fn func(ctx context.Context) error) error {
	attempts := b.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !IsTransient(err) {
			return err
		}

		if attempt == attempts-1 {
			break
		}

		timer := time.NewTimer(b.Delay(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err

		case <-timer.C:
		}
	}

	return err
}
