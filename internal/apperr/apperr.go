// Package apperr defines the errors services hand back to the HTTP layer.
// Every Error carries user-safe messages only; the wrapped cause stays
// internal and is logged, never rendered.
package apperr

import (
	"errors"
	"strings"
)

// Kind classifies an Error for status mapping
type Kind int

const (
	// Validation covers missing or malformed input (400)
	Validation Kind = iota + 1
	// Duplicate covers uniqueness conflicts caused by user input (400)
	Duplicate
	// Authentication covers bad credentials and bad tokens (401)
	Authentication
	// Constraint covers storage-level violations the service could not recover from (500)
	Constraint
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case Duplicate:
		return "duplicate"
	case Authentication:
		return "authentication"
	case Constraint:
		return "constraint"
	default:
		return "unknown"
	}
}

// Error is a classified, user-presentable failure
type Error struct {
	Kind     Kind
	Messages []string
	list     bool
	Err      error
}

func (e *Error) Error() string {
	msg := strings.Join(e.Messages, "; ")
	if e.Err != nil {
		return e.Kind.String() + ": " + msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + msg
}

func (e *Error) Unwrap() error { return e.Err }

// IsList reports whether the messages should be rendered as a list
func (e *Error) IsList() bool { return e.list }

// NewValidation returns a single-message validation error
func NewValidation(msg string) *Error {
	return &Error{Kind: Validation, Messages: []string{msg}}
}

// NewValidationList returns an aggregated validation error; it is always
// rendered as a list, even with one message.
func NewValidationList(msgs []string) *Error {
	return &Error{Kind: Validation, Messages: msgs, list: true}
}

// NewDuplicate returns a uniqueness conflict error
func NewDuplicate(msg string, err error) *Error {
	return &Error{Kind: Duplicate, Messages: []string{msg}, Err: err}
}

// NewAuthentication returns a credential or token failure
func NewAuthentication(msg string) *Error {
	return &Error{Kind: Authentication, Messages: []string{msg}}
}

// NewConstraint returns a storage constraint failure
func NewConstraint(msg string, err error) *Error {
	return &Error{Kind: Constraint, Messages: []string{msg}, Err: err}
}

// KindOf returns the Kind of the first Error in err's chain, or 0
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}
