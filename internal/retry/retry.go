package retry

import (
	"context"
	"time"

	"chatsync/internal/apperr"
)

// Policy is a bounded retry with a fixed delay between attempts.
type Policy struct {
	MaxRetries int
	Delay      time.Duration
}

func DefaultUserFetch() Policy {
	return Policy{MaxRetries: 2, Delay: time.Second}
}

// ShouldRetry decides whether another attempt is allowed after attemptsSoFar
// failed attempts that ended with an error of the given kind. Only transient
// failures are retried.
func (p Policy) ShouldRetry(kind apperr.Kind, attemptsSoFar int) bool {
	if kind != apperr.Transient {
		return false
	}
	return attemptsSoFar <= p.MaxRetries
}

// Sleep waits for d or until ctx is done.
type Sleep func(ctx context.Context, d time.Duration) error

func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with a non-retryable kind, or the
// policy is exhausted. It returns the last error and the number of attempts.
func Do(ctx context.Context, p Policy, sleep Sleep, fn func(context.Context) error) (int, error) {
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := 0
	for {
		err := fn(ctx)
		attempts++
		if err == nil {
			return attempts, nil
		}
		if !p.ShouldRetry(apperr.KindOf(err), attempts) {
			return attempts, err
		}
		if serr := sleep(ctx, p.Delay); serr != nil {
			return attempts, err
		}
	}
}
