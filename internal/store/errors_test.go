package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsNotFoundError(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"generic error", errors.New("some error"), false},
		{"ErrNotFound", ErrNotFound, true},
		{"wrapped ErrNotFound", fmt.Errorf("lookup: %w", ErrNotFound), true},
		{"ErrItemNotFound", ErrItemNotFound, true},
		{"wrapped ErrItemNotFound", fmt.Errorf("dequeue: %w", ErrItemNotFound), true},
		{"ErrWorkflowTaskNotFound", ErrWorkflowTaskNotFound, true},
		{"ErrUpdateFailed is not a not-found", ErrUpdateFailed, false},
		{"ErrLeaseLost is not a not-found", ErrLeaseLost, false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, IsNotFoundError(tc.err))
		})
	}
}
