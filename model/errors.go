package model

import (
	"errors"
	"fmt"
)

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings; the
// HTTP layer maps each Kind to a status code and a machine-readable code.
type Kind string

const (
	KindConfiguration       Kind = "Configuration"
	KindInvalidInput        Kind = "InvalidInput"
	KindNotFound            Kind = "NotFound"
	KindTokenInvalid        Kind = "TokenInvalid"
	KindTokenExpired        Kind = "TokenExpired"
	KindPurposeMismatch     Kind = "PurposeMismatch"
	KindUpstreamUnavailable Kind = "UpstreamUnavailable"
	KindPublishFailed       Kind = "PublishFailed"
	KindUnauthenticated     Kind = "Unauthenticated"
	KindNotAuthorized       Kind = "NotAuthorized"
	KindLedger              Kind = "Ledger"
	KindIndeterminate       Kind = "Indeterminate"
	KindInternal            Kind = "Internal"
)

// Code returns the upper-snake machine code used in API error envelopes.
func (k Kind) Code() string {
	switch k {
	case KindConfiguration:
		return "CONFIGURATION_ERROR"
	case KindInvalidInput:
		return "INVALID_INPUT"
	case KindNotFound:
		return "NOT_FOUND"
	case KindTokenInvalid:
		return "TOKEN_INVALID"
	case KindTokenExpired:
		return "TOKEN_EXPIRED"
	case KindPurposeMismatch:
		return "PURPOSE_MISMATCH"
	case KindUpstreamUnavailable:
		return "UPSTREAM_UNAVAILABLE"
	case KindPublishFailed:
		return "PUBLISH_FAILED"
	case KindUnauthenticated:
		return "UNAUTHENTICATED"
	case KindNotAuthorized:
		return "NOT_AUTHORIZED"
	case KindLedger:
		return "LEDGER_ERROR"
	case KindIndeterminate:
		return "OUTCOME_INDETERMINATE"
	default:
		return "INTERNAL"
	}
}

// Error is the module's structured error type.
//
// Message is intended for humans; do not match on it.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// NewError returns a structured error of the given kind.
func NewError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf is NewError with formatting.
func Errorf(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError attaches kind and msg to cause. A nil cause yields a plain NewError.
func WrapError(kind Kind, msg string, cause error) error {
	if cause == nil {
		return NewError(kind, msg)
	}
	return &Error{Kind: kind, Message: msg + ": " + cause.Error(), Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of a structured error, or KindInternal if err is unstructured.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return KindInternal
	}
	return e.Kind
}
