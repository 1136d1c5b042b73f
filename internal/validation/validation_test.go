package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Subject  string `json:"subject" validate:"required,max=10"`
	Category string `json:"category" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Note     string
}

func TestValidator_Struct(t *testing.T) {
	v := New()

	tests := []struct {
		name     string
		input    sample
		expected []string
	}{
		{
			name:  "Valid",
			input: sample{Subject: "Help", Category: "bugs"},
		},
		{
			name:     "MissingSubject",
			input:    sample{Category: "bugs"},
			expected: []string{"subject is required"},
		},
		{
			name:     "MissingAll",
			input:    sample{},
			expected: []string{"subject is required", "category is required"},
		},
		{
			name:     "TooLongAndBadEmail",
			input:    sample{Subject: "abcdefghijk", Category: "bugs", Email: "nope"},
			expected: []string{"subject must be at most 10 characters long", "email must be a valid email address"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs, err := v.Struct(tt.input)
			require.NoError(t, err)
			if tt.expected == nil {
				assert.Nil(t, errs)
				return
			}
			assert.Equal(t, tt.expected, Messages(errs))
		})
	}
}

func TestHasTag(t *testing.T) {
	errs := []FieldError{{Field: "email", Tag: "email"}}
	assert.True(t, HasTag(errs, "email"))
	assert.False(t, HasTag(errs, "required"))
}
