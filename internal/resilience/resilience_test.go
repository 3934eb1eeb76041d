package resilience_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/edgard/groupmind/internal/resilience"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var (
	errTransient = errors.New("transient")
	errPermanent = errors.New("permanent")
)

func fastPolicy(attempts int) resilience.Policy {
	return resilience.Policy{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    2 * time.Millisecond,
		Jitter:      0.2,
		Retryable:   func(err error) bool { return errors.Is(err, errTransient) },
	}
}

func TestPolicy_ExactAttemptCeiling(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	err := fastPolicy(4).Do(context.Background(), func(context.Context, int) error {
		calls.Add(1)
		return errTransient
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrExhausted)
	assert.ErrorIs(t, err, errTransient)
	assert.EqualValues(t, 4, calls.Load())
}

func TestPolicy_PermanentFailsImmediately(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	err := fastPolicy(5).Do(context.Background(), func(context.Context, int) error {
		calls.Add(1)
		return errPermanent
	})

	assert.ErrorIs(t, err, errPermanent)
	assert.NotErrorIs(t, err, resilience.ErrExhausted)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPolicy_SucceedsAfterRetries(t *testing.T) {
	t.Parallel()

	var seen []int
	err := fastPolicy(4).Do(context.Background(), func(_ context.Context, attempt int) error {
		seen = append(seen, attempt)
		if attempt < 3 {
			return errTransient
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, seen)
}

func TestPolicy_ContextCancelledDuringWait(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	p := resilience.Policy{MaxAttempts: 5, BaseDelay: time.Hour, MaxDelay: time.Hour}

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- p.Do(ctx, func(context.Context, int) error {
			calls.Add(1)
			return errTransient
		})
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, err, errTransient)
	assert.EqualValues(t, 1, calls.Load())
}

func TestPolicy_ZeroValueRunsOnce(t *testing.T) {
	t.Parallel()

	var calls int
	err := resilience.Policy{}.Do(context.Background(), func(context.Context, int) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, resilience.ErrExhausted)
	assert.Equal(t, 1, calls)
}

func TestPolicy_Backoff(t *testing.T) {
	t.Parallel()

	p := resilience.Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.Backoff(tt.attempt, 0.5), "attempt %d", tt.attempt)
	}

	p.Jitter = 0.5
	assert.Equal(t, 50*time.Millisecond, p.Backoff(1, 0))
	assert.Equal(t, 150*time.Millisecond, p.Backoff(1, 1))
}

func TestBreaker_OpensAfterFailures(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "embed", MaxFailures: 2, ResetInterval: time.Minute})
	fail := func(context.Context) error { return errTransient }

	assert.ErrorIs(t, b.Execute(context.Background(), fail), errTransient)
	assert.ErrorIs(t, b.Execute(context.Background(), fail), errTransient)
	assert.Equal(t, "open", b.State())

	ran := false
	err := b.Execute(context.Background(), func(context.Context) error { ran = true; return nil })
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.False(t, ran)
}

func TestBreaker_IgnoresCallerCancellation(t *testing.T) {
	t.Parallel()

	b := resilience.NewBreaker(resilience.BreakerConfig{Name: "embed", MaxFailures: 1})
	err := b.Execute(context.Background(), func(context.Context) error { return context.Canceled })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "closed", b.State())
}

func TestPolicy_StopsOnOpenCircuit(t *testing.T) {
	t.Parallel()

	var calls int
	err := fastPolicy(5).Do(context.Background(), func(context.Context, int) error {
		calls++
		return resilience.ErrCircuitOpen
	})
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, 1, calls)
}
