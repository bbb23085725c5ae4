package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func TestRetryPolicy_StopsOnSuccess(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second}
	calls := 0
	attempts, err := p.do(context.Background(), noSleep, nil, nil, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("boom")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetryPolicy_NoRetryUnwraps(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second}
	cause := errors.New("bad input")
	attempts, err := p.do(context.Background(), noSleep, nil, nil, func(context.Context) error {
		return NoRetry(cause)
	})
	assert.Equal(t, 1, attempts)
	assert.Same(t, cause, err)
	assert.False(t, IsNoRetry(err))
}

func TestRetryPolicy_AttemptTimeout(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 2, Timeout: 10 * time.Millisecond}
	attempts, err := p.do(context.Background(), noSleep, nil, nil, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetryPolicy_CancelledParentStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := RetryPolicy{MaxAttempts: 5, Base: time.Second}
	attempts, err := p.do(ctx, noSleep, nil, nil, func(context.Context) error {
		cancel()
		return errors.New("boom")
	})
	assert.Equal(t, 1, attempts)
	assert.EqualError(t, err, "boom")
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{Base: time.Minute, MaxDelay: 5 * time.Minute}
	boom := errors.New("boom")
	assert.Equal(t, time.Minute, p.delay(1, boom, nil))
	assert.Equal(t, 2*time.Minute, p.delay(2, boom, nil))
	assert.Equal(t, 4*time.Minute, p.delay(3, boom, nil))
	assert.Equal(t, 5*time.Minute, p.delay(4, boom, nil))
	assert.Equal(t, 5*time.Minute, p.delay(40, boom, nil))
	assert.Equal(t, 7*time.Second, p.delay(3, RetryAfter(boom, 7*time.Second), nil))
	assert.Equal(t, 5*time.Minute, p.delay(1, RetryAfter(boom, time.Hour), nil))
}

func TestRetryPolicy_DelayJitterBounded(t *testing.T) {
	p := RetryPolicy{Base: time.Minute, MaxDelay: time.Hour, Jitter: 0.2}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 100; i++ {
		d := p.delay(1, errors.New("x"), rng)
		assert.GreaterOrEqual(t, d, 48*time.Second)
		assert.LessOrEqual(t, d, 72*time.Second)
	}
}

func TestRetryPolicy_HookSeesEveryRetry(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 3, Base: time.Second}
	var seen []int
	_, err := p.do(context.Background(), noSleep, nil, func(attempt int, _ time.Duration, _ error) {
		seen = append(seen, attempt)
	}, func(context.Context) error { return errors.New("boom") })
	require.Error(t, err)
	assert.Equal(t, []int{1, 2}, seen)
}
