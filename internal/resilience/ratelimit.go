package resilience

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts time for the limiter so tests can run without sleeping.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// SystemClock is the wall clock.
var SystemClock Clock = realClock{}

// Limiter is a sliding-window rate limiter: at most Size admissions within
// any Window. Waiters are admitted strictly in arrival order.
type Limiter struct {
	name   string
	window time.Duration
	size   int
	clock  Clock

	mu    sync.Mutex
	tail  chan struct{}
	stamp []time.Time
}

// LimiterOption configures a Limiter.
type LimiterOption func(*Limiter)

// WithClock replaces the wall clock.
func WithClock(c Clock) LimiterOption {
	return func(l *Limiter) { l.clock = c }
}

// WithName labels the limiter in logs and metrics.
func WithName(name string) LimiterOption {
	return func(l *Limiter) { l.name = name }
}

// NewLimiter returns a limiter admitting size calls per window. A size below
// one is treated as one.
func NewLimiter(window time.Duration, size int, opts ...LimiterOption) *Limiter {
	if size < 1 {
		size = 1
	}
	open := make(chan struct{})
	close(open)
	l := &Limiter{
		window: window,
		size:   size,
		clock:  SystemClock,
		tail:   open,
		stamp:  make([]time.Time, 0, size),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Name returns the limiter's label.
func (l *Limiter) Name() string { return l.name }

// Wait blocks until a call may proceed and records its admission time.
func (l *Limiter) Wait(ctx context.Context) error {
	// Each waiter receives the channel of the waiter ahead of it and closes
	// its own when done, so the bucket is handed over in arrival order.
	l.mu.Lock()
	prev := l.tail
	mine := make(chan struct{})
	l.tail = mine
	l.mu.Unlock()

	select {
	case <-prev:
	case <-ctx.Done():
		go func() {
			<-prev
			close(mine)
		}()
		return ctx.Err()
	}
	defer close(mine)

	for len(l.stamp) >= l.size {
		delay := l.window - l.clock.Now().Sub(l.stamp[0])
		if delay > 0 {
			if err := l.clock.Sleep(ctx, delay); err != nil {
				return err
			}
		}
		l.stamp = l.stamp[1:]
	}
	l.stamp = append(l.stamp, l.clock.Now())
	return nil
}

// Limit runs op after one admission from every limiter, in order.
func Limit[T any](ctx context.Context, op func(ctx context.Context) (T, error), limiters ...*Limiter) (T, error) {
	for _, l := range limiters {
		if err := l.Wait(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return op(ctx)
}
