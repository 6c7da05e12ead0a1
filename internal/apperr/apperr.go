// Package apperr classifies failures so that callers can decide what, if
// anything, is shown to the end user.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is bad input. The only kind shown to callers verbatim.
	KindValidation
	// KindStorage is a blob or relational store failure.
	KindStorage
	// KindExtraction is unusable model output or a model transport failure.
	KindExtraction
	// KindState is an out-of-order operation, such as replying to a round that
	// was never opened.
	KindState
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindStorage:
		return "storage"
	case KindExtraction:
		return "extraction"
	case KindState:
		return "state"
	default:
		return "unknown"
	}
}

// CouldNotComplete is the opaque message shown for every non-validation failure.
const CouldNotComplete = "could not complete the request"

// Error is a classified error.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
	case e.Msg != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	default:
		return e.Op + ": " + e.Kind.String() + " error"
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validationf returns a validation error whose message may be shown to callers.
func Validationf(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Storage wraps a storage failure.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Op: op, Err: err}
}

// Extraction wraps an extraction failure.
func Extraction(op string, err error) error {
	return &Error{Kind: KindExtraction, Op: op, Err: err}
}

// Extractionf creates an extraction failure from a message.
func Extractionf(op, format string, args ...any) error {
	return &Error{Kind: KindExtraction, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Statef creates a state error.
func Statef(op, format string, args ...any) error {
	return &Error{Kind: KindState, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text that may be shown to an end user for err.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindValidation {
		return e.Msg
	}
	return CouldNotComplete
}
