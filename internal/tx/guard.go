package tx

import (
	"context"

	"github.com/prasetya/stockguard/internal/breaker"
)

type guardedRunner struct {
	inner Runner
	b     *breaker.Breaker
}

// Guarded wraps a Runner so every transaction runs through the database
// breaker. Business errors must be on the breaker's expected list or they
// will count as infrastructure failures.
func Guarded(inner Runner, b *breaker.Breaker) Runner {
	if b == nil {
		return inner
	}
	return &guardedRunner{inner: inner, b: b}
}

func (g *guardedRunner) WithTransaction(ctx context.Context, opts Options, fn func(ctx context.Context, h Handle) error) error {
	return g.b.Execute(ctx, func(ctx context.Context) error {
		return g.inner.WithTransaction(ctx, opts, fn)
	})
}
