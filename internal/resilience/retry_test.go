package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        100 * time.Millisecond,
		BackoffMultiplier: 2.0,
		Jitter:            false,
	}
}

func TestRetry_Success(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return nil
	}, DefaultRetryConfig(), nil)

	if err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestRetry_FailureThenSuccess(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}, fastConfig(3), nil)

	if err != nil {
		t.Errorf("Expected no error after retries, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetry_MaxAttempts(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("persistent error")
	}, fastConfig(2), nil)

	if err == nil {
		t.Error("Expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetry_NonRetryableError(t *testing.T) {
	attempts := 0
	isRetryable := func(err error) bool {
		return false
	}

	err := Retry(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("non-retryable error")
	}, fastConfig(3), isRetryable)

	if err == nil {
		t.Error("Expected error")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for non-retryable error, got %d", attempts)
	}
}

func TestRetry_StopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := fastConfig(5)
	config.InitialBackoff = time.Second

	attempts := 0
	done := make(chan error, 1)
	go func() {
		done <- Retry(ctx, func(ctx context.Context) error {
			attempts++
			return errors.New("retryable error")
		}, config, nil)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled in error chain, got %v", err)
		}
		if attempts != 1 {
			t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Retry did not return after cancellation")
	}
}

func TestIsRetryableNetworkError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"connection refused", errors.New("dial tcp: connection refused"), true},
		{"connection reset", errors.New("connection reset by peer"), true},
		{"unavailable", errors.New("503 Service Unavailable"), true},
		{"deadline exceeded", context.DeadlineExceeded, true},
		{"timeout", errors.New("i/o timeout"), true},
		{"rate limit", errors.New("rate limit"), true},
		{"slow down", errors.New("SlowDown: please reduce your request rate"), true},
		{"wrapped retryable", NewRetryableError(errors.New("anything")), true},
		{"canceled", context.Canceled, false},
		{"circuit open", ErrCircuitOpen, false},
		{"other error", errors.New("access denied"), false},
		{"nil error", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsRetryableNetworkError(tt.err)
			if result != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, result)
			}
		})
	}
}

func TestCalculateBackoff(t *testing.T) {
	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{5, 1 * time.Second}, // Capped at max
	}

	for _, tt := range tests {
		backoff := CalculateBackoff(tt.attempt, 100*time.Millisecond, time.Second, 2.0)
		if backoff != tt.expected {
			t.Errorf("Attempt %d: expected backoff %v, got %v", tt.attempt, tt.expected, backoff)
		}
	}

	if backoff := CalculateBackoff(5, 100*time.Millisecond, 0, 2.0); backoff != 3200*time.Millisecond {
		t.Errorf("Expected uncapped backoff 3.2s, got %v", backoff)
	}
}

func TestRetry_WaitsCalculatedBackoff(t *testing.T) {
	config := &RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    20 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2.0,
	}
	var calls []time.Time
	err := Retry(context.Background(), func(ctx context.Context) error {
		calls = append(calls, time.Now())
		return NewRetryableError(errors.New("busy"))
	}, config, IsRetryableNetworkError)

	if err == nil || err.Error() != "busy" {
		t.Errorf("Expected last error busy, got %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("Expected 3 attempts, got %d", len(calls))
	}
	if gap := calls[2].Sub(calls[1]); gap < 40*time.Millisecond {
		t.Errorf("Expected second backoff of at least 40ms, got %v", gap)
	}
}

func TestNewRetryableError(t *testing.T) {
	originalErr := errors.New("original error")
	retryableErr := NewRetryableError(originalErr)

	if retryableErr.Error() != "original error" {
		t.Errorf("Expected error message 'original error', got %s", retryableErr.Error())
	}
	if !IsRetryable(retryableErr) {
		t.Error("Expected error to be retryable")
	}
	if IsRetryable(originalErr) {
		t.Error("Expected original error to not be retryable")
	}
	if NewRetryableError(nil) != nil {
		t.Error("Expected nil for nil error")
	}
}
