package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for retry and HTTP-mapping decisions.
type Kind int

const (
	KindValidation Kind = iota // bad input, not retryable
	KindStock                  // insufficient stock / stock conflict, caller may re-check and retry
	KindPayment                // gateway integration failure, retryable
	KindSystem                 // infrastructure failure, retryable
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStock:
		return "stock"
	case KindPayment:
		return "payment"
	case KindSystem:
		return "system"
	}
	return "unknown"
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		if e.Msg != "" {
			return e.Msg + ": " + e.Err.Error()
		}
		return e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf walks the error chain and returns the first classified kind.
// Unclassified errors report KindSystem.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindSystem
}

func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the caller may usefully retry the operation.
// Validation errors never are; everything else may succeed on a later attempt.
func Retryable(err error) bool {
	return KindOf(err) != KindValidation
}
