package resilience

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"time"

	"github.com/sethvargo/go-retry"
)

// Escalating returns the 1, 3, 10, 30, 60 delay ladder in units of unit.
func Escalating(unit time.Duration) []time.Duration {
	return []time.Duration{1 * unit, 3 * unit, 10 * unit, 30 * unit, 60 * unit}
}

// Retry is a bounded retry policy.
//
// On each failure the next delay in Delays is slept before trying again.
// When Delays is exhausted one final attempt is made and its outcome is
// returned unconditionally, unless RepeatLast is set, in which case the last
// delay repeats forever. Errors whose kind is in Bypass, or whose kind is a
// NoRetry kind, are returned immediately.
type Retry struct {
	Name       string
	Delays     []time.Duration
	RepeatLast bool
	Bypass     []Kind

	// OnRetry is invoked before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
	Logger  *slog.Logger
}

var errRepeatWithoutDelays = errors.New("resilience: RepeatLast requires at least one delay")

// NewRetry builds a validated policy.
func NewRetry(name string, delays []time.Duration, repeatLast bool, bypass ...Kind) (Retry, error) {
	if repeatLast && len(delays) == 0 {
		return Retry{}, errRepeatWithoutDelays
	}
	return Retry{
		Name:       name,
		Delays:     slices.Clone(delays),
		RepeatLast: repeatLast,
		Bypass:     bypass,
	}, nil
}

// MustRetry is NewRetry that panics on an invalid policy. Intended for
// package-level policies built from constants.
func MustRetry(name string, delays []time.Duration, repeatLast bool, bypass ...Kind) Retry {
	r, err := NewRetry(name, delays, repeatLast, bypass...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Retry) retriable(err error) bool {
	kind := KindOf(err)
	if kind.NoRetry() {
		return false
	}
	return !slices.Contains(r.Bypass, kind)
}

func (r Retry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Do runs op under policy r.
func Do[T any](ctx context.Context, r Retry, op func(ctx context.Context) (T, error)) (T, error) {
	if r.RepeatLast && len(r.Delays) == 0 {
		var zero T
		return zero, errRepeatWithoutDelays
	}

	var (
		out     T
		attempt int
		lastErr error
	)

	next := 0
	backoff := retry.BackoffFunc(func() (time.Duration, bool) {
		var delay time.Duration
		switch {
		case next < len(r.Delays):
			delay = r.Delays[next]
			next++
		case r.RepeatLast:
			delay = r.Delays[len(r.Delays)-1]
		default:
			return 0, true
		}

		r.logger().Warn("retrying after error",
			"op", r.Name,
			"attempt", attempt,
			"delay", delay,
			"kind", KindOf(lastErr).String(),
			"error", lastErr,
		)
		if r.OnRetry != nil {
			r.OnRetry(attempt, delay, lastErr)
		}
		return delay, false
	})

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		v, err := op(ctx)
		if err == nil {
			out = v
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !r.retriable(err) {
			return err
		}
		return retry.RetryableError(err)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return out, nil
}

// Run is Do for operations without a result.
func Run(ctx context.Context, r Retry, op func(ctx context.Context) error) error {
	_, err := Do(ctx, r, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, op(ctx)
	})
	return err
}
