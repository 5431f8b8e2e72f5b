// Package apperr defines the error kinds surfaced to API callers. Lower
// layers return *Error values (or wrap them) and the HTTP layer maps the
// kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Internal Kind = iota
	Validation
	NotFound
	Conflict
	InsufficientCredits
	Unauthorized
	Forbidden
	Upstream
	Expired
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation_failed"
	case NotFound:
		return "not_found"
	case Conflict:
		return "conflict"
	case InsufficientCredits:
		return "insufficient_credits"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "forbidden"
	case Upstream:
		return "upstream_failure"
	case Expired:
		return "expired"
	default:
		return "internal"
	}
}

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type Error struct {
	Kind    Kind
	Op      string
	Message string
	Fields  []FieldError
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap attaches a kind and caller-facing message to an underlying error.
func Wrap(kind Kind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

func NotFoundf(op, format string, args ...any) *Error {
	return New(NotFound, op, fmt.Sprintf(format, args...))
}

func Conflictf(op, format string, args ...any) *Error {
	return New(Conflict, op, fmt.Sprintf(format, args...))
}

func Invalid(op, message string, fields ...FieldError) *Error {
	return &Error{Kind: Validation, Op: op, Message: message, Fields: fields}
}

func Forbiddenf(op, format string, args ...any) *Error {
	return New(Forbidden, op, fmt.Sprintf(format, args...))
}

// UpstreamError reports a failed call to an external provider, keeping the
// provider's message for the caller.
func UpstreamError(op string, err error) *Error {
	return Wrap(Upstream, op, err.Error(), err)
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of the first *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return Internal
}

func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
