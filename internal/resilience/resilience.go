// Package resilience provides the retry policy and circuit breaker shared by
// every call to an external service:
//   - exponential backoff with jitter up to a fixed attempt ceiling
//   - a caller-supplied predicate separating transient from permanent errors
//   - context-aware waits
//   - a gobreaker circuit breaker for fast failure while a dependency is down
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/sony/gobreaker"
)

var (
	// ErrExhausted indicates every allowed attempt failed with a retryable error.
	ErrExhausted = errors.New("retry attempts exhausted")
	// ErrCircuitOpen indicates the breaker rejected the call without running it.
	ErrCircuitOpen = errors.New("circuit breaker open")
)

// Policy retries an operation with exponential backoff and jitter.
// The zero value runs the operation once.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Multiplier grows the delay between attempts; values below 1 mean 2.
	Multiplier float64
	// Jitter spreads each delay by up to ±Jitter of its value (0..1).
	Jitter float64
	// Retryable decides whether an error is worth another attempt. A nil
	// predicate retries every error.
	Retryable func(error) bool
	// Logger receives a debug line per retry; nil disables it.
	Logger *slog.Logger
}

// Backoff returns the wait after the given failed attempt (1-based). r is a
// uniform sample in [0,1) used for jitter.
func (p Policy) Backoff(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 2
	}

	delay := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= mult
		if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
			delay = float64(p.MaxDelay)
			break
		}
	}
	if p.Jitter > 0 {
		delay *= 1 + p.Jitter*(2*r-1)
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, returns a non-retryable error, the attempts
// run out or ctx is done. Non-retryable errors are returned unchanged;
// exhaustion wraps both ErrExhausted and the last error.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return fmt.Errorf("retry abandoned after %d attempts: %w: %w", attempt-1, err, lastErr)
			}
			return err
		}

		err := op(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if errors.Is(err, ErrCircuitOpen) {
			return err
		}
		if p.Retryable != nil && !p.Retryable(err) {
			return err
		}
		if attempt == attempts {
			break
		}

		wait := p.Backoff(attempt, rand.Float64())
		if p.Logger != nil {
			p.Logger.DebugContext(ctx, "Operation failed, retrying",
				"attempt", attempt,
				"max_attempts", attempts,
				"next_interval", wait,
				"error", err,
			)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry abandoned after %d attempts: %w: %w", attempt, ctx.Err(), lastErr)
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// BreakerConfig configures a Breaker.
type BreakerConfig struct {
	Name          string
	MaxFailures   int
	ResetInterval time.Duration
	HalfOpenLimit int
	Logger        *slog.Logger
}

// Breaker wraps a gobreaker circuit breaker. Context cancellation of the
// caller is not counted as a dependency failure.
type Breaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker creates a Breaker, filling unset fields with defaults.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetInterval <= 0 {
		cfg.ResetInterval = time.Minute
	}
	if cfg.HalfOpenLimit <= 0 {
		cfg.HalfOpenLimit = 1
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: uint32(cfg.HalfOpenLimit), //nolint:gosec // validated positive
		Interval:    cfg.ResetInterval,
		Timeout:     cfg.ResetInterval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.MaxFailures) //nolint:gosec // validated positive
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &Breaker{name: cfg.Name, cb: gobreaker.NewCircuitBreaker(settings)}
}

// Execute runs op through the breaker. A rejected call returns ErrCircuitOpen.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, op(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s: %w", ErrCircuitOpen, b.name, err)
	}
	return err
}

// State reports the breaker state name ("closed", "half-open", "open").
func (b *Breaker) State() string {
	return b.cb.State().String()
}
