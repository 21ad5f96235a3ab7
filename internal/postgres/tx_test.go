package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(&pgconn.PgError{Code: "40001"}), "serialization failure")
	assert.True(t, Retryable(&pgconn.PgError{Code: "40P01"}), "deadlock")
	assert.True(t, Retryable(&pgconn.PgError{Code: "55P03"}), "lock not available")

	assert.False(t, Retryable(&pgconn.PgError{Code: "23505"}), "unique violation is not transient")
	assert.False(t, Retryable(errors.New("plain error")))
	assert.True(t, Retryable(fmt.Errorf("begin: %w", &pgconn.PgError{Code: "40001"})))
}
