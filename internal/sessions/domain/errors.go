// Package sessions holds the session lifecycle error model.
package sessions

import (
	"errors"
	"fmt"
)

// ErrorKind classifies lifecycle failures for callers.
type ErrorKind string

const (
	KindDeviceInUse   ErrorKind = "DEVICE_IN_USE"
	KindCommandFailed ErrorKind = "COMMAND_FAILED"
	KindNetwork       ErrorKind = "NETWORK_ERROR"
)

var (
	ErrDeviceInUse   = errors.New("sessions: device is already in use")
	ErrCommandFailed = errors.New("sessions: device did not accept the command")
	ErrNetwork       = errors.New("sessions: remote authority unreachable")
)

// Error is returned by lifecycle operations. errors.Is matches the sentinel of its kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// NewError builds a lifecycle error.
func NewError(kind ErrorKind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Err: cause}
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches the sentinel for the error kind.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	switch e.Kind {
	case KindDeviceInUse:
		return target == ErrDeviceInUse
	case KindCommandFailed:
		return target == ErrCommandFailed
	case KindNetwork:
		return target == ErrNetwork
	}
	return false
}

// KindOf returns the kind of a lifecycle error or "" for other errors.
func KindOf(err error) ErrorKind {
	var lifecycleErr *Error
	if errors.As(err, &lifecycleErr) {
		return lifecycleErr.Kind
	}
	return ""
}
