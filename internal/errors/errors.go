// Package errors provides the error taxonomy shared by the transport, decoder
// and inspection packages.
package errors

import (
	"errors"
	"fmt"
)

// NonRetryableError represents an error that should not be retried.
// Operations that encounter this error type should fail immediately
// without retry attempts.
type NonRetryableError struct {
	message string
	cause   error
}

// Error implements the error interface.
func (e *NonRetryableError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying cause error for error unwrapping.
func (e *NonRetryableError) Unwrap() error {
	return e.cause
}

// Is reports whether target is a NonRetryableError with the same message.
// Use IsNonRetryable to test for the kind alone.
func (e *NonRetryableError) Is(target error) bool {
	t, ok := target.(*NonRetryableError)
	return ok && t.message == e.message
}

// NewNonRetryableError creates a new non-retryable error with a message and optional cause.
func NewNonRetryableError(message string, cause error) error {
	return &NonRetryableError{
		message: message,
		cause:   cause,
	}
}

// IsNonRetryable checks if an error is non-retryable.
func IsNonRetryable(err error) bool {
	if err == nil {
		return false
	}
	var nonRetryableErr *NonRetryableError
	return errors.As(err, &nonRetryableErr)
}

// TransportError wraps a network, TLS or protocol failure on an NNTP session.
// A session that produced one must be dropped and replaced.
type TransportError struct {
	Op    string
	cause error
}

// NewTransportError wraps cause as a transport failure of op.
func NewTransportError(op string, cause error) error {
	return &TransportError{Op: op, cause: cause}
}

func (e *TransportError) Error() string {
	if e.cause == nil {
		return fmt.Sprintf("nntp %s: transport failure", e.Op)
	}
	return fmt.Sprintf("nntp %s: %v", e.Op, e.cause)
}

func (e *TransportError) Unwrap() error {
	return e.cause
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// DecodeError is returned when a yEnc body produced no payload bytes.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "yenc decode: " + e.Reason
}

// IsDecode reports whether err is a yEnc decode failure.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// Sentinel errors.
var (
	// ErrArticleNotFound is returned when the server reports the message id as missing.
	// It is a legitimate inspection outcome, not a connection fault.
	ErrArticleNotFound = errors.New("article not found")

	// ErrPoolClosed is returned by pool operations after Close.
	ErrPoolClosed = errors.New("nntp pool closed")

	// ErrPoolUnavailable is returned when no pool has been configured.
	ErrPoolUnavailable = errors.New("nntp pool unavailable")

	// ErrNoArchiveEntry indicates that a candidate contains nothing worth inspecting.
	ErrNoArchiveEntry = &NonRetryableError{message: "candidate contains no inspectable archive entry"}
)

// IsNotFound reports whether err means the article does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrArticleNotFound)
}

// IsResource reports whether err is a pool exhaustion or shutdown failure
// that must be surfaced to the caller.
func IsResource(err error) bool {
	return errors.Is(err, ErrPoolClosed) || errors.Is(err, ErrPoolUnavailable)
}
