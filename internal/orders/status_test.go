package orders

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusDraft, StatusConfirmed, true},
		{StatusDraft, StatusCancelled, true},
		{StatusDraft, StatusFailed, true},
		{StatusConfirmed, StatusCancelled, false},
		{StatusConfirmed, StatusDraft, false},
		{StatusCancelled, StatusConfirmed, false},
		{StatusFailed, StatusDraft, false},
		{StatusFailed, StatusConfirmed, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}
