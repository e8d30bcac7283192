package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"
)

// RetryPolicy configures a Retryer's exponential backoff.
type RetryPolicy struct {
	MaxRetries      int                                               // max retries (0 disables retrying)
	InitialDelay    time.Duration                                     // delay before the first retry
	MaxDelay        time.Duration                                     // delay ceiling
	Multiplier      float64                                           // delay growth factor between retries
	Jitter          bool                                              // randomize delay to avoid thundering herd
	RetryableErrors []error                                           // errors.Is-matched retryable errors; empty retries everything
	OnRetry         func(attempt int, err error, delay time.Duration) // fired before each retry's delay
}

// DefaultRetryPolicy suits most LLM provider calls: three retries with a
// 1s-30s exponential backoff and jitter.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer runs a function, retrying it under a RetryPolicy on failure.
type Retryer interface {
	Do(ctx context.Context, fn func() error) error
	DoWithResult(ctx context.Context, fn func() (any, error)) (any, error)
}

type backoffRetryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewBackoffRetryer creates an exponential-backoff Retryer, filling in
// DefaultRetryPolicy's values for any zero/invalid field.
func NewBackoffRetryer(policy *RetryPolicy, logger *zap.Logger) Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}

	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 1 * time.Second
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 30 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}

	return &backoffRetryer{
		policy: policy,
		logger: logger,
	}
}

func (r *backoffRetryer) Do(ctx context.Context, fn func() error) error {
	_, err := r.DoWithResult(ctx, func() (any, error) {
		return nil, fn()
	})
	return err
}

// DoWithResult runs fn, retrying with exponential backoff and jitter on
// each retryable failure, until it succeeds, a non-retryable error is
// returned, the retry budget is exhausted, or ctx is canceled while
// waiting out a delay.
func (r *backoffRetryer) DoWithResult(ctx context.Context, fn func() (any, error)) (any, error) {
	var lastErr error
	var result any

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.calculateDelay(attempt)

			r.logger.Debug("retrying",
				zap.Int("attempt", attempt),
				zap.Int("max_retries", r.policy.MaxRetries),
				zap.Duration("delay", delay),
				zap.Error(lastErr),
			)

			if r.policy.OnRetry != nil {
				r.policy.OnRetry(attempt, lastErr, delay)
			}

			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("retry canceled: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		result, lastErr = fn()

		if lastErr == nil {
			if attempt > 0 {
				r.logger.Info("retry succeeded", zap.Int("attempt", attempt))
			}
			return result, nil
		}

		if !r.isRetryable(lastErr) {
			r.logger.Debug("error not retryable", zap.Error(lastErr))
			return nil, lastErr
		}

		if attempt >= r.policy.MaxRetries {
			break
		}
	}

	r.logger.Warn("retries exhausted",
		zap.Int("attempts", r.policy.MaxRetries+1),
		zap.Error(lastErr),
	)

	return nil, fmt.Errorf("still failing after %d retries: %w", r.policy.MaxRetries, lastErr)
}

// calculateDelay applies exponential backoff (delay = initial *
// multiplier^(attempt-1)) capped at MaxDelay, with optional ±25% jitter.
func (r *backoffRetryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))

	if delay > float64(r.policy.MaxDelay) {
		delay = float64(r.policy.MaxDelay)
	}

	if r.policy.Jitter {
		jitter := delay * 0.25
		delay = delay + (rand.Float64()*2-1)*jitter
	}

	if delay < float64(r.policy.InitialDelay) {
		delay = float64(r.policy.InitialDelay)
	}

	return time.Duration(delay)
}

func (r *backoffRetryer) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if len(r.policy.RetryableErrors) == 0 {
		return true
	}

	for _, retryableErr := range r.policy.RetryableErrors {
		if errors.Is(err, retryableErr) {
			return true
		}
	}

	return false
}

// RetryableError marks an error as one that should trigger a retry.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is against any *RetryableError target regardless of
// its wrapped payload, so a caller can configure
// RetryPolicy.RetryableErrors with a single bare &RetryableError{} sentinel
// and have every WrapRetryable-wrapped error match it, instead of needing a
// separate sentinel per call site the way supervisor.Agent's LLM retry used
// to before it adopted this package's own wrapper.
func (e *RetryableError) Is(target error) bool {
	_, ok := target.(*RetryableError)
	return ok
}

// IsRetryableError reports whether err was wrapped by WrapRetryable.
// This checks the *RetryableError wrapper itself, a separate judgment from
// *llm.Error.Retryable (the upstream provider's own retryability signal).
func IsRetryableError(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}

// IsRetryable is an alias for IsRetryableError.
//
// Deprecated: use IsRetryableError to avoid confusion with llm.Error.Retryable.
var IsRetryable = IsRetryableError

// WrapRetryable marks err as retryable.
func WrapRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// RetryableSentinel is a bare marker satisfying RetryPolicy.RetryableErrors:
// any error produced by WrapRetryable matches it via (*RetryableError).Is,
// regardless of what it wraps.
var RetryableSentinel error = &RetryableError{}
