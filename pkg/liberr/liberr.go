// Package liberr defines the error kinds the library engine distinguishes.
package liberr

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalid        = errors.New("invalid")
	ErrConflict       = errors.New("conflict")
	ErrExternal       = errors.New("external failure")
	ErrPolicyRejected = errors.New("policy rejected")
)

// ErrClosed is returned by every operation on a closed engine
var ErrClosed = errors.New("library is closed")

// Error carries the kind of failure together with the operation and the id it concerns
type Error struct {
	Kind error
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	msg += ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is matches the error against its kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

func NotFound(op, id string) error {
	return newError(ErrNotFound, op, id, nil)
}

func Invalid(op, id string, err error) error {
	return newError(ErrInvalid, op, id, err)
}

func Invalidf(op, id, format string, args ...any) error {
	return newError(ErrInvalid, op, id, fmt.Errorf(format, args...))
}

func Conflict(op, id string, format string, args ...any) error {
	return newError(ErrConflict, op, id, fmt.Errorf(format, args...))
}

func External(op, id string, err error) error {
	return newError(ErrExternal, op, id, err)
}

func PolicyRejected(op, id string, format string, args ...any) error {
	return newError(ErrPolicyRejected, op, id, fmt.Errorf(format, args...))
}

// KindOf returns the kind of err, or nil when err carries none
func KindOf(err error) error {
	for _, kind := range []error{ErrNotFound, ErrInvalid, ErrConflict, ErrExternal, ErrPolicyRejected} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
