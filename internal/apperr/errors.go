// Package apperr is the closed set of error kinds surfaced by the trader supervisor.
//
//	err := apperr.Newf(apperr.NotFound, "trader %s not found", id)
//	if apperr.Is(err, apperr.NotFound) { ... }
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	Unknown Kind = iota
	Configuration
	AlreadyExists
	NotFound
	TooManyTraders
	InvalidState
	RateLimited
	Unauthorized
	Transient
	PersistentFailure
	Timeout
)

var kindNames = map[Kind]string{
	Unknown:           "unknown",
	Configuration:     "configuration",
	AlreadyExists:     "already_exists",
	NotFound:          "not_found",
	TooManyTraders:    "too_many_traders",
	InvalidState:      "invalid_state",
	RateLimited:       "rate_limited",
	Unauthorized:      "unauthorized",
	Transient:         "transient",
	PersistentFailure: "persistent_failure",
	Timeout:           "timeout",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Error carries a Kind through wrapping chains.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches another *Error by kind so errors.Is(err, apperr.New(NotFound, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the kind of the outermost *Error in the chain, Unknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unknown
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Retryable reports whether the failure may succeed on a later attempt.
func Retryable(err error) bool {
	switch KindOf(err) {
	case RateLimited, Transient, Timeout:
		return true
	default:
		return false
	}
}
