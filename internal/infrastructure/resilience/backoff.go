package resilience

import (
	"fmt"
	"strings"
	"time"
)

// Backoff returns the delay after the given 1-based failed attempt.
type Backoff func(attempt int) time.Duration

// LinearBackoff waits attempt × base, without jitter.
func LinearBackoff(base time.Duration) Backoff {
	return func(attempt int) time.Duration {
		if attempt < 1 {
			attempt = 1
		}
		return time.Duration(attempt) * base
	}
}

// ExponentialBackoff waits initial × multiplier^(attempt-1), capped at max.
func ExponentialBackoff(initial time.Duration, multiplier float64, max time.Duration) Backoff {
	return func(attempt int) time.Duration {
		wait := initial
		for i := 1; i < attempt; i++ {
			wait = time.Duration(float64(wait) * multiplier)
			if wait >= max {
				return max
			}
		}
		return wait
	}
}

// BackoffByName resolves a configured strategy name.
func BackoffByName(name string, cfg Config) (Backoff, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "linear":
		return LinearBackoff(cfg.RetryInitialBackoff), nil
	case "exponential":
		return ExponentialBackoff(cfg.RetryInitialBackoff, cfg.RetryMultiplier, cfg.RetryMaxBackoff), nil
	default:
		return nil, fmt.Errorf("unknown backoff strategy %q", name)
	}
}
