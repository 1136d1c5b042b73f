// Package validation checks request input structs and turns failures into
// messages keyed by JSON field name.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// FieldError is one failed rule on one field
type FieldError struct {
	Field string
	Tag   string
	Param string
}

// Message renders the failure for API clients
func (f FieldError) Message() string {
	switch f.Tag {
	case "required":
		return fmt.Sprintf("%s is required", f.Field)
	case "email":
		return fmt.Sprintf("%s must be a valid email address", f.Field)
	case "max":
		return fmt.Sprintf("%s must be at most %s characters long", f.Field, f.Param)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters long", f.Field, f.Param)
	default:
		return fmt.Sprintf("%s is invalid", f.Field)
	}
}

// Validator wraps go-playground/validator with JSON field naming
type Validator struct {
	v *validator.Validate
}

// New creates a validator that reports fields by their json tag
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Validator{v: v}
}

// Struct validates s and returns every failing field in declaration order.
// A nil slice means s is valid.
func (v *Validator) Struct(s any) ([]FieldError, error) {
	err := v.v.Struct(s)
	if err == nil {
		return nil, nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil, fmt.Errorf("failed to validate: %w", err)
	}

	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag(), Param: fe.Param()})
	}
	return out, nil
}

// Messages renders a list of field errors
func Messages(errs []FieldError) []string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message())
	}
	return msgs
}

// HasTag reports whether any error failed the given rule
func HasTag(errs []FieldError, tag string) bool {
	for _, e := range errs {
		if e.Tag == tag {
			return true
		}
	}
	return false
}
