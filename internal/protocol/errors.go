package protocol

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"syscall"
)

// ErrorKind is the machine-readable error category returned to the frontend.
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "PermissionDenied"
	KindInvalidArguments    ErrorKind = "InvalidArguments"
	KindDuplicateID         ErrorKind = "DuplicateId"
	KindNotFound            ErrorKind = "NotFound"
	KindAlreadyExists       ErrorKind = "AlreadyExists"
	KindWindowError         ErrorKind = "WindowError"
	KindHandlerError        ErrorKind = "HandlerError"
	KindCancelled           ErrorKind = "Cancelled"
	KindOverloaded          ErrorKind = "Overloaded"
	KindTransportClosed     ErrorKind = "TransportClosed"
	KindUnsupportedPlatform ErrorKind = "UnsupportedPlatform"
)

// Error is a classified failure. Code carries an OS error number when one is known.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	Code    int       `json:"code,omitempty"`
}

func (e *Error) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: %s (code %d)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is reports whether target is an *Error of the same kind, so
// errors.Is(err, &Error{Kind: KindNotFound}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

// Errorf builds a classified error.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithCode builds a classified error carrying an OS error number.
func WithCode(kind ErrorKind, code int, msg string) *Error {
	return &Error{Kind: kind, Message: msg, Code: code}
}

// AsError classifies any error. Context cancellation maps to Cancelled;
// anything unclassified becomes HandlerError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &Error{Kind: KindCancelled, Message: "deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return &Error{Kind: KindCancelled, Message: "cancelled"}
	}
	return &Error{Kind: KindHandlerError, Message: err.Error()}
}

// KindOf returns the error's kind, or "" for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	return AsError(err).Kind
}

// IsKind reports whether err classifies as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// FromOSError classifies an operating-system error. The errno, when there is
// one, is kept in Code.
func FromOSError(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	msg := fmt.Sprintf("%s %s: %v", op, path, unwrapPathError(err))
	var code int
	var errno syscall.Errno
	if errors.As(err, &errno) {
		code = int(errno)
	}
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return AsError(err)
	case errors.Is(err, fs.ErrNotExist):
		return WithCode(KindNotFound, code, msg)
	case errors.Is(err, fs.ErrExist):
		return WithCode(KindAlreadyExists, code, msg)
	case errors.Is(err, fs.ErrPermission):
		return WithCode(KindPermissionDenied, code, msg)
	default:
		return WithCode(KindHandlerError, code, msg)
	}
}

func unwrapPathError(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	var le *os.LinkError
	if errors.As(err, &le) {
		return le.Err
	}
	return err
}
