package stock

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInsufficientStockErrorMatchesSentinel(t *testing.T) {
	err := &InsufficientStockError{ProductID: "shoe-1", Size: "42", Requested: 3, Available: 1}

	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.NotErrorIs(t, err, ErrVariantNotFound)

	wrapped := fmt.Errorf("reserve: %w", err)
	assert.ErrorIs(t, wrapped, ErrInsufficientStock)

	var ise *InsufficientStockError
	assert.True(t, errors.As(wrapped, &ise))
	assert.Equal(t, 1, ise.Available)
	assert.Contains(t, err.Error(), "shoe-1")
}

func TestAvailable(t *testing.T) {
	v := VariantStock{Stock: 10, Reserved: 4}
	assert.Equal(t, 6, v.Available())
}
