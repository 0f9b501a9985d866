package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatsync/internal/apperr"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestShouldRetry(t *testing.T) {
	p := DefaultUserFetch()
	if !p.ShouldRetry(apperr.Transient, 1) || !p.ShouldRetry(apperr.Transient, 2) {
		t.Fatalf("expected transient retries within bound")
	}
	if p.ShouldRetry(apperr.Transient, 3) {
		t.Fatalf("expected no retry after bound")
	}
	for _, k := range []apperr.Kind{apperr.AuthExpired, apperr.AuthInvalid, apperr.Validation, apperr.NotFound, apperr.Forbidden, apperr.Unknown} {
		if p.ShouldRetry(k, 1) {
			t.Fatalf("expected no retry for %v", k)
		}
	}
}

func TestDo_StopsOnTerminal(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), DefaultUserFetch(), noSleep, func(context.Context) error {
		calls++
		return apperr.New(apperr.AuthExpired, "expired")
	})
	if err == nil || attempts != 1 || calls != 1 {
		t.Fatalf("expected single attempt, got %d (%v)", attempts, err)
	}
}

func TestDo_ExhaustsTransient(t *testing.T) {
	var delays []time.Duration
	sleep := func(_ context.Context, d time.Duration) error {
		delays = append(delays, d)
		return nil
	}
	attempts, err := Do(context.Background(), DefaultUserFetch(), sleep, func(context.Context) error {
		return apperr.New(apperr.Transient, "network")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", attempts)
	}
	if len(delays) != 2 || delays[0] != time.Second {
		t.Fatalf("unexpected delays %v", delays)
	}
}

func TestDo_RecoversAfterTransient(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), DefaultUserFetch(), noSleep, func(context.Context) error {
		calls++
		if calls == 1 {
			return apperr.New(apperr.Transient, "network")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("expected success on second call, got %d (%v)", calls, err)
	}
}

func TestDo_ContextCancelledDuringSleep(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	boom := apperr.New(apperr.Transient, "network")
	attempts, err := Do(ctx, DefaultUserFetch(), SleepContext, func(context.Context) error { return boom })
	if !errors.Is(err, boom) || attempts != 1 {
		t.Fatalf("expected to stop after cancelled sleep, got %d (%v)", attempts, err)
	}
}
