package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryPolicy bounds the attempts of one step. Delays double from Base up to
// MaxDelay with +/- Jitter applied. Timeout bounds every single attempt.
type RetryPolicy struct {
	MaxAttempts int
	Base        time.Duration
	MaxDelay    time.Duration
	Jitter      float64
	Timeout     time.Duration
}

// DefaultFetchPolicy: 5 attempts, 1 minute doubling, 30s per attempt.
var DefaultFetchPolicy = RetryPolicy{
	MaxAttempts: 5,
	Base:        time.Minute,
	MaxDelay:    10 * time.Minute,
	Jitter:      0.1,
	Timeout:     30 * time.Second,
}

// DefaultPublishPolicy: 3 attempts, 10 seconds doubling, 30s per attempt.
var DefaultPublishPolicy = RetryPolicy{
	MaxAttempts: 3,
	Base:        10 * time.Second,
	MaxDelay:    time.Minute,
	Jitter:      0.1,
	Timeout:     30 * time.Second,
}

type sleepFunc func(ctx context.Context, d time.Duration) error

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

// attemptHook observes a failed attempt before the next one is scheduled.
type attemptHook func(attempt int, delay time.Duration, err error)

// do runs fn until it succeeds, returns a NoRetry error, the attempts are
// exhausted or ctx is done. It returns the number of attempts made and the
// last error with any NoRetry wrapper removed.
func (p RetryPolicy) do(ctx context.Context, sleep sleepFunc, rng *rand.Rand, onRetry attemptHook, fn func(ctx context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if p.Timeout > 0 {
			runCtx, cancel = context.WithTimeout(ctx, p.Timeout)
		}
		err = fn(runCtx)
		cancel()
		if err == nil {
			return attempt, nil
		}
		var nr noRetryError
		if errors.As(err, &nr) {
			return attempt, nr.err
		}
		if attempt == maxAttempts || ctx.Err() != nil {
			return attempt, err
		}
		delay := p.delay(attempt, err, rng)
		if onRetry != nil {
			onRetry(attempt, delay, err)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return attempt, err
		}
	}
	return maxAttempts, err
}

func (p RetryPolicy) delay(retry int, err error, rng *rand.Rand) time.Duration {
	maxD := p.MaxDelay
	if maxD <= 0 {
		maxD = 15 * time.Minute
	}

	var d time.Duration
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		d = p.Base
		for i := 1; i < retry; i++ {
			d *= 2
			if d > maxD {
				break
			}
		}
	}
	if d > maxD {
		d = maxD
	}
	if p.Jitter > 0 && d > 0 && rng != nil {
		r := (rng.Float64()*2 - 1) * p.Jitter
		d = time.Duration(float64(d) * (1 + r))
	}
	if d < 0 {
		d = 0
	}
	if d > maxD {
		d = maxD
	}
	return d
}
