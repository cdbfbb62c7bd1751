package message

import (
	stderrors "errors"
	"fmt"

	"github.com/pingcap/errors"
)

// MessageFormatError indicates wire-level corruption: a bad length prefix,
// an embedded NUL in a string, or an unrecognized chunk protocol version.
// Fatal to the envelope being read or written; the dispatcher that observes
// one reports DispatcherExitReason MessageError and exits.
type MessageFormatError struct {
	msg string
}

func (e *MessageFormatError) Error() string { return e.msg }

// NewMessageFormatError builds a MessageFormatError, traced with a call
// stack via pingcap/errors so a fatal-exit log line can print the chain of
// frames that first observed the fault (see causer/unwrapCause below).
func NewMessageFormatError(format string, args ...any) error {
	return errors.Trace(&MessageFormatError{msg: fmt.Sprintf(format, args...)})
}

// InternalError indicates a violated precondition: a duplicate chunk, a
// chunk count overflow, or a registry lookup that should have succeeded.
// Same disposition as MessageFormatError.
type InternalError struct {
	msg string
}

func (e *InternalError) Error() string { return e.msg }

// NewInternalError builds a traced InternalError.
func NewInternalError(format string, args ...any) error {
	return errors.Trace(&InternalError{msg: fmt.Sprintf(format, args...)})
}

// causer is the convention pingcap/errors' Trace/Annotate wrappers follow:
// the traced error exposes the error it wraps via Cause().
type causer interface {
	Cause() error
}

// unwrapCause walks a pingcap/errors trace chain down to the original
// error, so callers can type-switch on the concrete error kind rather than
// the trace wrapper.
func unwrapCause(err error) error {
	for {
		c, ok := err.(causer)
		if !ok {
			return err
		}
		cause := c.Cause()
		if cause == nil || cause == err {
			return err
		}
		err = cause
	}
}

// IsFatal reports whether err is one of MessageFormatError/InternalError,
// the two kinds that end a dispatcher run with MessageError.
func IsFatal(err error) bool {
	cause := unwrapCause(err)
	var mf *MessageFormatError
	var ie *InternalError
	return stderrors.As(cause, &mf) || stderrors.As(cause, &ie)
}
