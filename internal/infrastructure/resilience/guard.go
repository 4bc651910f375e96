package resilience

import (
	"context"
	"errors"
	"net"

	"golang.org/x/time/rate"

	"github.com/kirillkom/opinion-analyzer/internal/core/domain"
)

// Guard runs external calls through the executor, waiting on the rate limiter
// before every attempt.
type Guard struct {
	executor   *Executor
	classifier ErrorClassifier
	limiter    *rate.Limiter
}

func NewGuard(executor *Executor, classifier ErrorClassifier, limiter *rate.Limiter) *Guard {
	if classifier == nil {
		classifier = ClassifyTransportError
	}
	return &Guard{executor: executor, classifier: classifier, limiter: limiter}
}

// NewRateLimiter returns nil, meaning unlimited, when perSecond is not positive.
func NewRateLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

func (g *Guard) Execute(ctx context.Context, operation string, fn func(context.Context) error) error {
	err := g.executor.Execute(ctx, operation, func(callCtx context.Context) error {
		if g.limiter != nil {
			if err := g.limiter.Wait(callCtx); err != nil {
				return err
			}
		}
		return fn(callCtx)
	}, g.classifier)
	if IsCircuitOpen(err) {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}

// ClassifyTransportError retries temporary and network failures. Caller
// cancellation and rejected credentials are neither retried nor counted
// against the breaker.
func ClassifyTransportError(err error) ErrorClassification {
	if err == nil {
		return ErrorClassification{}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if domain.IsKind(err, domain.ErrUnauthorized) || domain.IsKind(err, domain.ErrInvalidInput) {
		return ErrorClassification{Retryable: false, RecordFailure: false}
	}
	if IsCircuitOpen(err) || domain.IsKind(err, domain.ErrTemporary) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassification{Retryable: true, RecordFailure: true}
	}
	return ErrorClassification{Retryable: false, RecordFailure: true}
}
