package memstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prasetya/stockguard/internal/memstore"
	"github.com/prasetya/stockguard/internal/stock"
	"github.com/prasetya/stockguard/internal/tx"
	"github.com/prasetya/stockguard/internal/webhook"
)

func fastOpts() tx.Options { return tx.Options{MaxRetries: 3, RetryDelay: time.Millisecond} }

func TestReserveInsufficientStock(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 10, 0)
	ctx := context.Background()

	require.NoError(t, ms.Reserve(ctx, nil, "shoe-1", "42", 5))

	err := ms.Reserve(ctx, nil, "shoe-1", "42", 6)
	require.ErrorIs(t, err, stock.ErrInsufficientStock)
	var ise *stock.InsufficientStockError
	require.ErrorAs(t, err, &ise)
	assert.Equal(t, 5, ise.Available)
	assert.Equal(t, 6, ise.Requested)
}

func TestReserveReleaseCycle(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 0)
	ctx := context.Background()

	require.NoError(t, ms.Reserve(ctx, nil, "shoe-1", "42", 3))
	require.ErrorIs(t, ms.Reserve(ctx, nil, "shoe-1", "42", 3), stock.ErrInsufficientStock)
	require.NoError(t, ms.Release(ctx, nil, "shoe-1", "42", 3))
	require.NoError(t, ms.Reserve(ctx, nil, "shoe-1", "42", 3))

	v, err := ms.Get(ctx, "shoe-1", "42")
	require.NoError(t, err)
	assert.Equal(t, 5, v.Stock)
	assert.Equal(t, 3, v.Reserved)
	assert.Equal(t, 2, v.Available())
}

func TestConcurrentReserveNeverOversells(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 10, 0)
	ctx := context.Background()

	var wg sync.WaitGroup
	succeeded := make(chan struct{}, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ms.Reserve(ctx, nil, "shoe-1", "42", 1) == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	assert.Len(t, succeeded, 10)
	v, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 10, v.Reserved)
	assert.Equal(t, 0, v.Available())
}

func TestConfirmDeductsBoth(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 3)
	ctx := context.Background()

	require.NoError(t, ms.Confirm(ctx, nil, "shoe-1", "42", 3))
	v, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 2, v.Stock)
	assert.Equal(t, 0, v.Reserved)

	require.ErrorIs(t, ms.Confirm(ctx, nil, "shoe-1", "42", 1), stock.ErrInsufficientStock)
}

func TestDeductRespectsHeldUnits(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 3)
	ctx := context.Background()

	// Only the 2 unheld units are up for grabs.
	require.ErrorIs(t, ms.Deduct(ctx, nil, "shoe-1", "42", 3), stock.ErrInsufficientStock)
	require.NoError(t, ms.Deduct(ctx, nil, "shoe-1", "42", 2))

	require.NoError(t, ms.Restore(ctx, nil, "shoe-1", "42", 2))
	v, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 5, v.Stock)
	assert.Equal(t, 3, v.Reserved)
}

func TestSetReservedRequiresExpectedValue(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 2)
	ctx := context.Background()

	err := ms.SetReserved(ctx, nil, "shoe-1", "42", 1, 0)
	require.ErrorIs(t, err, stock.ErrCounterConflict)
	v, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 2, v.Reserved, "guard failure must not write")

	require.NoError(t, ms.SetReserved(ctx, nil, "shoe-1", "42", 2, 0))
	v, _ = ms.Get(ctx, "shoe-1", "42")
	assert.Zero(t, v.Reserved)
}

func TestTransactionRollsBackOnError(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 0)
	ms.PutVariant("shoe-2", "43", 1, 0)
	ctx := context.Background()

	err := ms.WithTransaction(ctx, fastOpts(), func(ctx context.Context, h tx.Handle) error {
		if err := ms.Reserve(ctx, h, "shoe-1", "42", 2); err != nil {
			return err
		}
		return ms.Reserve(ctx, h, "shoe-2", "43", 3)
	})
	require.ErrorIs(t, err, stock.ErrInsufficientStock)

	v1, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Zero(t, v1.Reserved, "partial reserve must roll back")
}

func TestTransactionRetriesInjectedConflicts(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("shoe-1", "42", 5, 0)
	ms.FailNextTx(2)
	ctx := context.Background()

	runs := 0
	err := ms.WithTransaction(ctx, fastOpts(), func(ctx context.Context, h tx.Handle) error {
		runs++
		return ms.Reserve(ctx, h, "shoe-1", "42", 1)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, runs, "injected conflicts fail before the function runs")

	v, _ := ms.Get(ctx, "shoe-1", "42")
	assert.Equal(t, 1, v.Reserved)
}

func TestTransactionRetriesExhausted(t *testing.T) {
	ms := memstore.New()
	ms.FailNextTx(10)

	err := ms.WithTransaction(context.Background(), fastOpts(), func(ctx context.Context, h tx.Handle) error {
		return nil
	})
	require.ErrorIs(t, err, memstore.ErrTransient)
}

func TestKeyStoreBeginGate(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	now := time.Now().UTC()
	rec := &webhook.KeyRecord{Key: "k1", Status: webhook.KeyProcessing, CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	_, created, err := ms.Begin(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)

	existing, created, err := ms.Begin(ctx, rec)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, webhook.KeyProcessing, existing.Status)

	// A failed key is taken over by the next delivery.
	require.NoError(t, ms.Fail(ctx, "k1", 200, []byte(`{"status":"deferred"}`)))
	_, created, err = ms.Begin(ctx, rec)
	require.NoError(t, err)
	assert.True(t, created)
}

func TestKeyStoreExpiredTakeover(t *testing.T) {
	ms := memstore.New()
	ctx := context.Background()
	base := time.Now().UTC()
	clock := base
	ms.SetNow(func() time.Time { return clock })

	rec := &webhook.KeyRecord{Key: "k1", Status: webhook.KeyProcessing, CreatedAt: base, ExpiresAt: base.Add(time.Hour)}
	_, created, err := ms.Begin(ctx, rec)
	require.NoError(t, err)
	require.True(t, created)
	require.NoError(t, ms.Complete(ctx, nil, "k1", 200, []byte(`{}`)))

	clock = base.Add(2 * time.Hour)
	fresh := &webhook.KeyRecord{Key: "k1", Status: webhook.KeyProcessing, CreatedAt: clock, ExpiresAt: clock.Add(time.Hour)}
	_, created, err = ms.Begin(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, created, "expired record must be taken over")
}

func TestFailNextBegin(t *testing.T) {
	ms := memstore.New()
	errDown := errors.New("store down")
	ms.FailNextBegin(errDown)

	_, _, err := ms.Begin(context.Background(), &webhook.KeyRecord{Key: "k1"})
	require.ErrorIs(t, err, errDown)

	_, created, err := ms.Begin(context.Background(), &webhook.KeyRecord{Key: "k1", ExpiresAt: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.True(t, created)
}

func TestSummaryCounts(t *testing.T) {
	ms := memstore.New()
	ms.PutVariant("a", "1", 10, 0) // healthy
	ms.PutVariant("b", "1", 5, 3)  // low (avail 2)
	ms.PutVariant("c", "1", 4, 4)  // out

	sum, err := ms.Summary(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, stock.Summary{Variants: 3, LowStock: 1, OutOfStock: 1}, sum)
}
