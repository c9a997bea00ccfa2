package store

import (
	"errors"
	"fmt"
)

// ErrUnavailable matches every *UnavailableError via errors.Is.
var ErrUnavailable = errors.New("store unavailable")

// UnavailableError reports a failure of the backing medium.
type UnavailableError struct {
	// Op is the store operation: get, put, remove, keys or sweep.
	Op string

	// Key is the affected key, empty for keys and sweep.
	Key string

	Err error
}

func (e *UnavailableError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("store unavailable: %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("store unavailable: %s: %v", e.Op, e.Err)
}

func (e *UnavailableError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrUnavailable) true.
func (e *UnavailableError) Is(target error) bool {
	return target == ErrUnavailable
}

// IsUnavailable returns true if err is a store medium failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &UnavailableError{Op: op, Key: key, Err: err}
}
