// Package resilience provides reliability patterns for kubeslot's
// cluster interactions: bounded retry with backoff and a circuit
// breaker guarding the cluster API.
package resilience

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
)

// RetryOption configures retry behavior
type RetryOption func(*retryConfig)

type retryConfig struct {
	maxElapsed   time.Duration
	maxRetries   uint64
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	onRetry      func(err error, duration time.Duration)
	classifier   func(error) bool // returns true if error is retryable
}

// WithMaxElapsed sets the maximum total time for retries
func WithMaxElapsed(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.maxElapsed = d
	}
}

// WithMaxRetries sets the maximum number of retry attempts
func WithMaxRetries(n uint64) RetryOption {
	return func(c *retryConfig) {
		c.maxRetries = n
	}
}

// WithInitialDelay sets the initial delay between retries
func WithInitialDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.initialDelay = d
	}
}

// WithMaxDelay sets the maximum delay between retries
func WithMaxDelay(d time.Duration) RetryOption {
	return func(c *retryConfig) {
		c.maxDelay = d
	}
}

// WithOnRetry sets a callback for each retry attempt
func WithOnRetry(fn func(err error, duration time.Duration)) RetryOption {
	return func(c *retryConfig) {
		c.onRetry = fn
	}
}

// WithRetryClassifier sets a function to determine if an error is retryable
func WithRetryClassifier(fn func(error) bool) RetryOption {
	return func(c *retryConfig) {
		c.classifier = fn
	}
}

// Retry executes an operation with exponential backoff. Defaults are
// tuned for cluster API reads: 30s total, 500ms initial delay, 5s cap.
// Non-retryable failures (see ClusterRetryClassifier) abort immediately.
func Retry(ctx context.Context, operation func() error, opts ...RetryOption) error {
	cfg := &retryConfig{
		maxElapsed:   30 * time.Second,
		maxRetries:   0, // bounded by maxElapsed instead
		initialDelay: 500 * time.Millisecond,
		maxDelay:     5 * time.Second,
		multiplier:   2.0,
		classifier:   ClusterRetryClassifier,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.initialDelay
	b.MaxInterval = cfg.maxDelay
	b.MaxElapsedTime = cfg.maxElapsed
	b.Multiplier = cfg.multiplier
	b.RandomizationFactor = 0.1

	var bo backoff.BackOff = b
	if cfg.maxRetries > 0 {
		bo = backoff.WithMaxRetries(b, cfg.maxRetries)
	}
	bo = backoff.WithContext(bo, ctx)

	wrapped := func() error {
		err := operation()
		if err == nil {
			return nil
		}
		if cfg.classifier != nil && !cfg.classifier(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	if cfg.onRetry != nil {
		return backoff.RetryNotify(wrapped, bo, cfg.onRetry)
	}
	return backoff.Retry(wrapped, bo)
}

// ClusterRetryClassifier determines if a cluster API error is worth
// retrying. Transient server-side and network conditions are; state
// conflicts, missing resources, and permission errors are not and must
// surface to the operator unchanged.
func ClusterRetryClassifier(err error) bool {
	if err == nil {
		return false
	}

	// Conflicts carry optimistic-concurrency information the caller
	// must see; not-found and forbidden never heal by waiting.
	if apierrors.IsConflict(err) || apierrors.IsNotFound(err) ||
		apierrors.IsForbidden(err) || apierrors.IsUnauthorized(err) ||
		apierrors.IsInvalid(err) {
		return false
	}

	if apierrors.IsServerTimeout(err) || apierrors.IsTimeout(err) ||
		apierrors.IsTooManyRequests(err) || apierrors.IsServiceUnavailable(err) ||
		apierrors.IsInternalError(err) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	return true
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	return ClusterRetryClassifier(err)
}

// PermanentError wraps an error to indicate it should not be retried
func PermanentError(err error) error {
	return backoff.Permanent(err)
}
