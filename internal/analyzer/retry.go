package analyzer

import (
	"context"
	"errors"
	"math/rand"
	"time"
)

// RetryConfig controls the exponential-backoff-with-jitter policy used when
// invoking an Analyzer, per spec.md §4.3.
type RetryConfig struct {
	MaxAttempts int           // default 3
	BaseDelay   time.Duration // default 250ms
	Factor      float64       // default 2
	JitterFrac  float64       // default 0.20 (±20%)
}

// DefaultRetryConfig matches the spec's stated defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   250 * time.Millisecond,
		Factor:      2,
		JitterFrac:  0.20,
	}
}

// WithRetry invokes fn up to cfg.MaxAttempts times, applying exponential
// backoff with jitter between attempts. It stops retrying as soon as fn
// returns a non-retryable *Error, or the context is cancelled while waiting
// between attempts. When the attempts run out on an error fn did not already
// wrap in *Error, the role string tags it as a retryable *Error.
func WithRetry(ctx context.Context, cfg RetryConfig, role string, fn func(ctx context.Context) (string, error)) (string, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var analyzerErr *Error
		if errors.As(err, &analyzerErr) && !analyzerErr.Retryable {
			return "", err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		if err := sleepWithJitter(ctx, delay, cfg.JitterFrac); err != nil {
			return "", err
		}
		delay = time.Duration(float64(delay) * cfg.Factor)
	}

	var analyzerErr *Error
	if errors.As(lastErr, &analyzerErr) {
		return "", lastErr
	}
	return "", NewRetryableError(role, lastErr)
}

func sleepWithJitter(ctx context.Context, base time.Duration, jitterFrac float64) error {
	jitter := 1 + (rand.Float64()*2-1)*jitterFrac
	wait := time.Duration(float64(base) * jitter)

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
