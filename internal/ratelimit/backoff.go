package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backoff computes exponential wait intervals: Base, Base*Factor, ... capped at Max.
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Factor float64
	// Jitter adds up to this fraction of the computed interval.
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{
		Base:   1 * time.Second,
		Max:    30 * time.Second,
		Factor: 2,
		Jitter: 0.25,
	}
}

// Duration returns the wait before the given retry attempt (0-based).
func (b Backoff) Duration(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := b.Factor
	if factor < 1 {
		factor = 1
	}

	d := float64(b.Base)
	for i := 0; i < attempt; i++ {
		d *= factor
		if b.Max > 0 && time.Duration(d) >= b.Max {
			d = float64(b.Max)
			break
		}
	}

	wait := time.Duration(d)
	if b.Jitter > 0 {
		wait = Jitter(wait, wait+time.Duration(d*b.Jitter))
	}
	if b.Max > 0 && wait > b.Max {
		wait = b.Max
	}
	return wait
}

// Retry calls fn up to attempts times, sleeping b.Duration between failures.
// It stops early when ctx is done or fn returns an error wrapped by Permanent.
func Retry(ctx context.Context, attempts int, b Backoff, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if err := Sleep(ctx, b.Duration(i-1)); err != nil {
				return fmt.Errorf("retry interrupted: %w (last error: %v)", err, lastErr)
			}
		}

		err := fn(i)
		if err == nil {
			return nil
		}
		var p *permanentError
		if errors.As(err, &p) {
			return p.err
		}
		lastErr = err
	}

	return fmt.Errorf("failed after %d attempts: %w", attempts, lastErr)
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string { return p.err.Error() }
func (p *permanentError) Unwrap() error { return p.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}
