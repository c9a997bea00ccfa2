package engine

import (
	"errors"
	"fmt"
)

// Code categorizes errors raised by the engine itself.
type Code string

const (
	// CodeInvalidDescriptor means the key could not be derived. Not retryable.
	CodeInvalidDescriptor Code = "INVALID_DESCRIPTOR"

	// CodeAlreadyInProgress means another execution holds the key.
	// Retryable once that execution settles.
	CodeAlreadyInProgress Code = "ALREADY_IN_PROGRESS"

	// CodePreviousFailure means the key settled as an error and the policy
	// does not allow retry.
	CodePreviousFailure Code = "PREVIOUS_FAILURE"
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its Code.
var (
	ErrInvalidDescriptor = errors.New("invalid descriptor")
	ErrAlreadyInProgress = errors.New("already in progress")
	ErrPreviousFailure   = errors.New("previous failure")
)

// Error is returned for engine-level rejections. Errors returned by the
// operation itself are passed through unwrapped.
type Error struct {
	Code Code

	// Key is the derived idempotency key; empty for INVALID_DESCRIPTOR.
	Key string

	// Message is a human-readable description. For PREVIOUS_FAILURE it is
	// the persisted message of the failed attempt.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.Key)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for e.Code.
func (e *Error) Is(target error) bool {
	switch e.Code {
	case CodeInvalidDescriptor:
		return target == ErrInvalidDescriptor
	case CodeAlreadyInProgress:
		return target == ErrAlreadyInProgress
	case CodePreviousFailure:
		return target == ErrPreviousFailure
	}
	return false
}

// IsInvalidDescriptor reports whether err is an INVALID_DESCRIPTOR error.
func IsInvalidDescriptor(err error) bool { return hasCode(err, CodeInvalidDescriptor) }

// IsAlreadyInProgress reports whether err is an ALREADY_IN_PROGRESS error.
func IsAlreadyInProgress(err error) bool { return hasCode(err, CodeAlreadyInProgress) }

// IsPreviousFailure reports whether err is a PREVIOUS_FAILURE error.
func IsPreviousFailure(err error) bool { return hasCode(err, CodePreviousFailure) }

func hasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// PanicError is returned when the operation panics. The panic is recorded as
// an error settlement, so waiters and later callers see it too.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("operation panicked: %v", e.Value)
}

func newInvalidDescriptor(err error) *Error {
	return &Error{Code: CodeInvalidDescriptor, Message: err.Error(), Err: err}
}

func newAlreadyInProgress(key string) *Error {
	return &Error{Code: CodeAlreadyInProgress, Key: key, Message: "operation is already executing for this key"}
}

func newPreviousFailure(key, message string) *Error {
	return &Error{Code: CodePreviousFailure, Key: key, Message: message}
}
