package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	cause := errors.New("duplicate key value violates unique constraint")

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "Validation", err: NewValidation("bad"), want: Validation},
		{name: "WrappedDuplicate", err: fmt.Errorf("register: %w", NewDuplicate("taken", cause)), want: Duplicate},
		{name: "Authentication", err: NewAuthentication("nope"), want: Authentication},
		{name: "Constraint", err: NewConstraint("failed", cause), want: Constraint},
		{name: "Plain", err: cause, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestError_UnwrapAndList(t *testing.T) {
	cause := errors.New("boom")
	err := NewConstraint("Failed to record transaction", cause)
	assert.ErrorIs(t, err, cause)
	assert.False(t, err.IsList())
	assert.Contains(t, err.Error(), "boom")

	list := NewValidationList([]string{"subject is required"})
	assert.True(t, list.IsList())
	assert.Equal(t, "validation: subject is required", list.Error())
}
