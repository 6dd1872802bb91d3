package types

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for transfer failure classification.
// Use errors.Is(err, ErrXxx) for typed assertions; every failure surfaced by
// the transfer stack matches exactly one of these.
var (
	// ErrValidation indicates bad input (file format, chunk too large, config).
	ErrValidation = errors.New("validation error")

	// ErrConnection indicates the bus connection could not be established or was lost.
	ErrConnection = errors.New("connection error")

	// ErrTimeout indicates a bus request exceeded its deadline.
	ErrTimeout = errors.New("timeout")

	// ErrDecode indicates response bytes could not be interpreted.
	ErrDecode = errors.New("decode error")

	// ErrRemote indicates the worker explicitly reported a failure.
	ErrRemote = errors.New("remote error")
)

// Error wraps an underlying error with a failure kind.
// It preserves the original error in the chain for inspection via errors.As.
type Error struct {
	// Kind is the sentinel error for classification (e.g., ErrTimeout).
	Kind error
	// Op is the operation that failed (e.g., "connect", "chunk 3").
	Op string
	// Msg is a human-readable cause.
	Msg string
	// Err is the underlying error, if any.
	Err error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Op, msg, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, msg)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", msg, e.Err)
	default:
		return msg
	}
}

// Unwrap returns the underlying error for errors.Is/As chain traversal.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target sentinel.
func (e *Error) Is(target error) bool {
	return errors.Is(e.Kind, target)
}

// NewError creates a classified error.
func NewError(kind error, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// DecodeCause distinguishes why a response could not be decoded.
type DecodeCause string

const (
	// DecodeCauseBytes means the bytes could not be interpreted as text.
	DecodeCauseBytes DecodeCause = "malformed_bytes"
	// DecodeCauseStructure means the text is not valid structured data.
	DecodeCauseStructure DecodeCause = "malformed_structure"
)

// DecodeError reports a response that could not be decoded.
type DecodeError struct {
	Cause DecodeCause
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode error (%s): %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("decode error (%s)", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is matches ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// RemoteError carries a failure message reported by the worker.
type RemoteError struct {
	Message string
}

func (e *RemoteError) Error() string {
	return "remote error: " + e.Message
}

// Is matches ErrRemote.
func (e *RemoteError) Is(target error) bool { return target == ErrRemote }

// Kind names used in logs, events and CLI output.
const (
	KindValidation = "validation"
	KindConnection = "connection"
	KindTimeout    = "timeout"
	KindDecode     = "decode"
	KindRemote     = "remote"
	KindCanceled   = "canceled"
	KindUnknown    = "unknown"
)

// KindOf returns the kind name of err, or "" for a nil error.
func KindOf(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrConnection):
		return KindConnection
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrDecode):
		return KindDecode
	case errors.Is(err, ErrRemote):
		return KindRemote
	case errors.Is(err, context.Canceled):
		return KindCanceled
	default:
		return KindUnknown
	}
}
