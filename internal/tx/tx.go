package tx

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

// Handle is an opaque reference to an open store transaction. Each store
// implementation asserts it back to its own transaction type; nil means
// autocommit (every operation is its own atomic update).
type Handle any

type Options struct {
	MaxRetries int           // attempts after the first try; default 3
	RetryDelay time.Duration // base delay between attempts; default 50ms
}

func (o Options) withDefaults() Options {
	if o.MaxRetries <= 0 {
		o.MaxRetries = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
	return o
}

// Runner executes a function inside a store-level transaction. The whole
// function either commits or leaves no partial writes behind.
type Runner interface {
	WithTransaction(ctx context.Context, opts Options, fn func(ctx context.Context, h Handle) error) error
}

// WithRetry drives the bounded-retry loop shared by Runner implementations.
// Only errors the retryable classifier accepts are retried (write conflicts,
// deadlocks, transient transaction errors); everything else propagates
// immediately. Delay grows linearly with random jitter to spread contenders.
func WithRetry(ctx context.Context, opts Options, retryable func(error) bool, attempt func(ctx context.Context) error) error {
	opts = opts.withDefaults()

	var err error
	for i := 0; i <= opts.MaxRetries; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(opts.RetryDelay, i)):
			}
		}
		err = attempt(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction retries exhausted after %d attempts: %w", opts.MaxRetries+1, err)
}

func backoff(base time.Duration, attempt int) time.Duration {
	d := base * time.Duration(attempt)
	jitter := time.Duration(rand.Int63n(int64(base)))
	return d + jitter
}
