package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(New(KindValidation, "bad input")))
	assert.Equal(t, KindStock, KindOf(Newf(KindStock, "no units of %s", "shoe-1")))
	assert.Equal(t, KindSystem, KindOf(errors.New("anything else")))

	wrapped := fmt.Errorf("handler: %w", New(KindPayment, "gateway down"))
	assert.Equal(t, KindPayment, KindOf(wrapped))
	assert.True(t, IsKind(wrapped, KindPayment))
	assert.False(t, IsKind(wrapped, KindStock))
}

func TestWrapPreservesCause(t *testing.T) {
	cause := errors.New("row missing")
	err := Wrap(KindStock, "confirm", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "confirm")
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(New(KindValidation, "bad qty")))
	assert.True(t, Retryable(New(KindSystem, "io timeout")))
	assert.True(t, Retryable(New(KindPayment, "gateway 502")))
}
