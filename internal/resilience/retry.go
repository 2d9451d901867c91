package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	MaxAttempts       int           // Maximum number of attempts, including the first
	InitialBackoff    time.Duration // Initial backoff duration
	MaxBackoff        time.Duration // Maximum backoff duration
	BackoffMultiplier float64       // Multiplier for exponential backoff
	Jitter            bool          // Whether to add up to 25% jitter to backoff
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// RetryableFunc is a function that can be retried
type RetryableFunc func(ctx context.Context) error

// IsRetryableError checks if an error is retryable
type IsRetryableError func(error) bool

// Retry executes fn until it succeeds, returns a non-retryable error,
// runs out of attempts, or ctx is done.
func Retry(ctx context.Context, fn RetryableFunc, config *RetryConfig, isRetryable IsRetryableError) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	attempts := config.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if isRetryable != nil && !isRetryable(err) {
			return err
		}

		// Don't sleep after the last attempt
		if attempt == attempts-1 {
			break
		}

		sleepDuration := CalculateBackoff(attempt, config.InitialBackoff, config.MaxBackoff, config.BackoffMultiplier)
		if config.Jitter && sleepDuration > 0 {
			sleepDuration += time.Duration(rand.Int63n(int64(sleepDuration)/4 + 1))
		}
		if config.MaxBackoff > 0 && sleepDuration > config.MaxBackoff {
			sleepDuration = config.MaxBackoff
		}

		timer := time.NewTimer(sleepDuration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return errors.Join(lastErr, ctx.Err())
		case <-timer.C:
		}
	}

	return lastErr
}

// CalculateBackoff returns the sleep after the given zero-based attempt.
// A zero maxBackoff means no cap.
func CalculateBackoff(attempt int, initialBackoff time.Duration, maxBackoff time.Duration, multiplier float64) time.Duration {
	backoff := time.Duration(float64(initialBackoff) * math.Pow(multiplier, float64(attempt)))
	if maxBackoff > 0 && backoff > maxBackoff {
		return maxBackoff
	}
	return backoff
}

var retryableFragments = []string{
	// Connection errors
	"connection refused",
	"connection reset",
	"connection closed",
	"broken pipe",
	"unavailable",
	"network is unreachable",
	"no route to host",
	// Timeout errors
	"deadline exceeded",
	"timeout",
	// Resource exhaustion (may be temporary)
	"resource exhausted",
	"too many connections",
	"rate limit",
	"slowdown",
}

// IsRetryableNetworkError checks if an error looks like a transient network failure
func IsRetryableNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if IsRetryable(err) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, fragment := range retryableFragments {
		if strings.Contains(errStr, fragment) {
			return true
		}
	}
	return false
}

// RetryableError wraps an error to indicate it's retryable
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return e.Err.Error()
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError creates a new retryable error
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable checks if an error is a RetryableError
func IsRetryable(err error) bool {
	var retryableErr *RetryableError
	return errors.As(err, &retryableErr)
}
