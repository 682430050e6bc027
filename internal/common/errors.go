package common

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can decide whether to retry, fix
// their input or raise an alarm.
type Kind string

const (
	KindValidation          Kind = "validation"
	KindTransport           Kind = "transport"
	KindIntegrity           Kind = "integrity"
	KindRemoteRejection     Kind = "remote rejection"
	KindResourceUnavailable Kind = "resource unavailable"
)

// Sentinels matched by errors.Is against any *Error of the same kind.
var (
	ErrValidation          = errors.New("validation error")
	ErrTransport           = errors.New("transport error")
	ErrIntegrity           = errors.New("integrity error")
	ErrRemoteRejection     = errors.New("remote rejection")
	ErrResourceUnavailable = errors.New("resource unavailable")

	// repository specific errors
	ErrorNotFound = errors.New("not found")
)

var sentinels = map[Kind]error{
	KindValidation:          ErrValidation,
	KindTransport:           ErrTransport,
	KindIntegrity:           ErrIntegrity,
	KindRemoteRejection:     ErrRemoteRejection,
	KindResourceUnavailable: ErrResourceUnavailable,
}

// Error is a classified failure. Op names the operation that failed,
// Status carries the remote status code for rejections. Message, when set,
// replaces the text of Err in Error().
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	if e.Status != 0 {
		msg = fmt.Sprintf("status %d: %s", e.Status, msg)
	}

	if e.Op == "" {
		return msg
	}
	return e.Op + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

func Validation(op, msg string) *Error {
	return &Error{Kind: KindValidation, Op: op, Message: msg}
}

func Validationf(op, format string, args ...any) *Error {
	return Validation(op, fmt.Sprintf(format, args...))
}

func Transport(op string, err error) *Error {
	return &Error{Kind: KindTransport, Op: op, Err: err}
}

// Integrity reports a disagreement between a locally computed digest and
// the one the service confirmed.
func Integrity(op, local, remote string) *Error {
	return &Error{
		Kind:    KindIntegrity,
		Op:      op,
		Message: fmt.Sprintf("checksum mismatch: local %s, remote %s", local, remote),
	}
}

func Rejection(op string, status int, body string) *Error {
	return &Error{Kind: KindRemoteRejection, Op: op, Status: status, Message: body}
}

func Unavailable(op string, err error) *Error {
	return &Error{Kind: KindResourceUnavailable, Op: op, Err: err}
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or "" when err carries no classification.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsRetryable reports whether err is a transport failure.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransport
}
