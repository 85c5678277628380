package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	errs "chaptervault/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryWithSuccess(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := DoAttempts(func(int) error { return op() }, cfg)
	if err != nil {
		t.Errorf("Expected success after retries, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	op := func() error {
		attempts++
		return errors.New("persistent error")
	}

	cfg := &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     context.Background(),
	}

	err := DoAttempts(func(int) error { return op() }, cfg)
	if err == nil {
		t.Error("Expected error when max attempts exceeded")
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryWithNonRetryableError(t *testing.T) {
	attempts := 0
	authError := &errs.Error{
		Type:    errs.ErrorTypeIntegrity,
		Message: "archive is corrupt",
		Code:    500,
	}

	op := func() error {
		attempts++
		return authError
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 10 * time.Millisecond},
		RetryIf:     DefaultRetryIf,
		Context:     context.Background(),
	}

	err := DoAttempts(func(int) error { return op() }, cfg)
	if err != authError {
		t.Errorf("Expected integrity error, got: %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt (no retry for integrity error), got %d", attempts)
	}
}

func TestRetryWithContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	op := func() error {
		attempts++
		if attempts == 2 {
			cancel() // Cancel after second attempt
		}
		return errors.New("error")
	}

	cfg := &Config{
		MaxAttempts: 5,
		Backoff:     &ConstantBackoff{Delay: 100 * time.Millisecond},
		RetryIf:     func(err error) bool { return true },
		Context:     ctx,
	}

	err := DoAttempts(func(int) error { return op() }, cfg)
	if err == nil {
		t.Error("Expected error when context cancelled")
	}
	if attempts > 3 {
		t.Errorf("Expected at most 3 attempts before cancellation, got %d", attempts)
	}
}

func TestDoAttemptsPassesAttemptNumber(t *testing.T) {
	var seen []int
	err := DoAttempts(func(attempt int) error {
		seen = append(seen, attempt)
		if attempt == 4 {
			return nil
		}
		return errs.New(errs.ErrorTypeTransport, 503, "unavailable")
	}, &Config{
		MaxAttempts: 4,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestDoAttemptsExhaustedKeepsCause(t *testing.T) {
	var retries []int
	err := DoAttempts(func(attempt int) error {
		return errs.New(errs.ErrorTypeTransport, 502, "bad gateway")
	}, &Config{
		MaxAttempts: 3,
		Backoff:     &ConstantBackoff{Delay: time.Millisecond},
		OnRetry: func(attempt int, err error, delay time.Duration) {
			retries = append(retries, attempt)
		},
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.Equal(t, errs.Status(502), errs.StatusFor(err))
	// no retry hook after the final attempt
	assert.Equal(t, []int{1, 2}, retries)
}

func TestDefaultRetryIf(t *testing.T) {
	assert.False(t, DefaultRetryIf(nil))
	assert.False(t, DefaultRetryIf(context.Canceled))
	assert.False(t, DefaultRetryIf(errs.New(errs.ErrorTypeCancelled, 408, "stop")))
	assert.True(t, DefaultRetryIf(errs.New(errs.ErrorTypeRateLimit, 429, "slow down")))
	assert.True(t, DefaultRetryIf(errors.New("unclassified")))
}

func TestDoAttemptsRequiresConfig(t *testing.T) {
	calls := 0
	err := DoAttempts(func(int) error { calls++; return nil }, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, calls)
}

func TestWaitHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, Wait(ctx, time.Hour), context.Canceled)
	assert.ErrorIs(t, Wait(ctx, 0), context.Canceled)
	assert.NoError(t, Wait(context.Background(), 0))
}
