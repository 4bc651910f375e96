package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

func TestGuardRetriesTemporaryErrors(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	exec.wait = func(context.Context, time.Duration) error { return nil }
	guard := NewGuard(exec, nil, NewRateLimiter(1000, 10))

	attempts := 0
	err := guard.Execute(context.Background(), "classify", func(context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.WrapError(domain.ErrTemporary, "generate", errors.New("503"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestGuardDoesNotRetryUnauthorized(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 3, RetryInitialBackoff: time.Millisecond})
	exec.wait = func(context.Context, time.Duration) error { return nil }
	guard := NewGuard(exec, nil, nil)

	attempts := 0
	err := guard.Execute(context.Background(), "classify", func(context.Context) error {
		attempts++
		return domain.WrapError(domain.ErrUnauthorized, "generate", errors.New("401"))
	})
	if !domain.IsKind(err, domain.ErrUnauthorized) || attempts != 1 {
		t.Fatalf("expected one unauthorized attempt, got attempts=%d err=%v", attempts, err)
	}
}

func TestGuardStopsWhenLimiterCannotAdmit(t *testing.T) {
	exec := NewExecutor(Config{RetryMaxAttempts: 1})
	guard := NewGuard(exec, nil, NewRateLimiter(0.001, 1))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	fn := func(context.Context) error {
		calls++
		return nil
	}
	if err := guard.Execute(ctx, "classify", fn); err != nil {
		t.Fatalf("first call should use the burst token: %v", err)
	}
	if err := guard.Execute(ctx, "classify", fn); err == nil {
		t.Fatalf("expected limiter wait to fail before the deadline")
	}
	if calls != 1 {
		t.Fatalf("expected one admitted call, got %d", calls)
	}
}

func TestGuardMarksOpenCircuitTemporary(t *testing.T) {
	exec := NewExecutor(Config{
		RetryMaxAttempts:        1,
		BreakerEnabled:          true,
		BreakerMinRequests:      1,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      time.Minute,
		BreakerHalfOpenMaxCalls: 1,
	})
	guard := NewGuard(exec, nil, nil)
	failing := func(context.Context) error { return errors.New("boom") }

	_ = guard.Execute(context.Background(), "classify", failing)
	err := guard.Execute(context.Background(), "classify", failing)
	if !IsCircuitOpen(err) || !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected temporary open-circuit error, got %v", err)
	}
}

func TestNewRateLimiterDisabled(t *testing.T) {
	if NewRateLimiter(0, 1) != nil {
		t.Fatalf("expected nil limiter for non-positive rate")
	}
}
