// Package apperr carries the error taxonomy shared by the order, inventory and
// payment components. Every error that reaches a client is reduced to a Kind.
package apperr

import "errors"

type Kind string

const (
	KindInsufficientStock    Kind = "insufficient_stock"
	KindInvalidTransition    Kind = "invalid_transition"
	KindInvalidSignature     Kind = "invalid_signature"
	KindProcessorUnavailable Kind = "processor_unavailable"
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindConflict             Kind = "conflict"
	KindInternal             Kind = "internal"
)

// Error is a categorised error. Sentinels are *Error values so errors.Is
// keeps working through pkg/errors wrapping.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap attaches a kind and client-safe message to an underlying cause.
func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// MessageOf returns the client-facing message for err: the Message of the
// outermost *Error, never the wrapped causes. Kinds that must not leak detail
// collapse to a fixed category message.
func MessageOf(err error) string {
	switch KindOf(err) {
	case KindInternal:
		return "internal error"
	case KindInvalidSignature:
		return "payment verification failed"
	case KindProcessorUnavailable:
		return "payment provider unavailable, please retry"
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
