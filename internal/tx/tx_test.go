package tx

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errConflict = errors.New("write conflict")

func isConflict(err error) bool { return errors.Is(err, errConflict) }

func fastOpts() Options { return Options{MaxRetries: 3, RetryDelay: time.Millisecond} }

func TestWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastOpts(), isConflict, func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errConflict
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithRetryNonRetryableFailsImmediately(t *testing.T) {
	errFatal := errors.New("constraint violation")
	attempts := 0
	err := WithRetry(context.Background(), fastOpts(), isConflict, func(ctx context.Context) error {
		attempts++
		return errFatal
	})
	require.ErrorIs(t, err, errFatal)
	assert.Equal(t, 1, attempts)
}

func TestWithRetryExhaustsAttempts(t *testing.T) {
	attempts := 0
	err := WithRetry(context.Background(), fastOpts(), isConflict, func(ctx context.Context) error {
		attempts++
		return errConflict
	})
	require.ErrorIs(t, err, errConflict)
	assert.Equal(t, 4, attempts) // first try + MaxRetries
	assert.Contains(t, err.Error(), "retries exhausted")
}

func TestWithRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err := WithRetry(ctx, Options{MaxRetries: 5, RetryDelay: 50 * time.Millisecond}, isConflict, func(ctx context.Context) error {
		attempts++
		cancel()
		return errConflict
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
