package client

import (
	"context"
	"errors"
	"fmt"
)

// ErrorKind classifies why a generation failed.
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindValidation         ErrorKind = "validation"
	ErrorKindConnectivity       ErrorKind = "connectivity"
	ErrorKindProtocol           ErrorKind = "protocol"
	ErrorKindUnsupportedBackend ErrorKind = "unsupported_backend"
	ErrorKindTimeout            ErrorKind = "timeout"
	ErrorKindGeneration         ErrorKind = "generation"
	ErrorKindCanceled           ErrorKind = "canceled"
	ErrorKindBusy               ErrorKind = "busy"
)

type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
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

func newError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

var ErrBusy = &Error{Kind: ErrorKindBusy, Message: "a generation is already in progress"}

// KindOf reports the ErrorKind of err. Errors that did not come from this
// package are classified by the context error they wrap, if any.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorKindTimeout
	case errors.Is(err, context.Canceled):
		return ErrorKindCanceled
	}
	return ErrorKindConnectivity
}
