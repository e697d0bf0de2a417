package util

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrPollTimeout is returned when a condition did not hold within the bound
var ErrPollTimeout = errors.New("condition not met before timeout")

var errNotYet = errors.New("condition not met yet")

// Backoff describes a bounded exponential schedule
type Backoff struct {
	Initial time.Duration // first delay
	Max     time.Duration // cap for a single delay
	Limit   time.Duration // total upper bound, zero means none
}

// DefaultBackoff is used for page stabilization waits
var DefaultBackoff = Backoff{
	Initial: 100 * time.Millisecond,
	Max:     time.Second,
	Limit:   5 * time.Second,
}

func (b Backoff) withDefaults() Backoff {
	if b.Initial <= 0 {
		b.Initial = DefaultBackoff.Initial
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Limit <= 0 {
		b.Limit = DefaultBackoff.Limit
	}
	return b
}

// exponential builds a fresh, unjittered schedule. Delays double up to Max.
func (b Backoff) exponential() *backoff.ExponentialBackOff {
	eb := &backoff.ExponentialBackOff{
		InitialInterval:     b.Initial,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         max(b.Max, b.Initial),
		MaxElapsedTime:      b.Limit,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	eb.Reset()
	return eb
}

// Poll calls cond until it returns true, an error, the context ends or the
// backoff limit is reached. The condition is always evaluated at least once.
func Poll(ctx context.Context, b Backoff, cond func(context.Context) (bool, error)) error {
	sched := backoff.WithContext(b.withDefaults().exponential(), ctx)
	err := backoff.Retry(func() error {
		ok, err := cond(ctx)
		switch {
		case err != nil:
			return backoff.Permanent(err)
		case !ok:
			return errNotYet
		}
		return nil
	}, sched)
	if errors.Is(err, errNotYet) {
		return ErrPollTimeout
	}
	return err
}

// Retry runs op until it succeeds or returns an error marked Permanent, making
// at most retries extra attempts on schedule b. Cancellation of ctx ends it.
func Retry(ctx context.Context, b Backoff, retries uint64, op func() error) error {
	sched := backoff.WithContext(backoff.WithMaxRetries(b.exponential(), retries), ctx)
	return backoff.Retry(op, sched)
}

// Permanent marks err as not worth another attempt under Retry
func Permanent(err error) error {
	return backoff.Permanent(err)
}

// Sleep waits for d or until ctx ends
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
