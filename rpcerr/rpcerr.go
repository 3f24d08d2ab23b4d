// Package rpcerr defines the error taxonomy shared by client and server.
//
// Per-call failures (not found, argument decode, application) travel inside a
// response envelope and never close the connection. Transport failures are
// fatal to the connection and retire every pending call. Cancellation and
// timeout are client-local and never reach the server.
package rpcerr

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrServiceNotFound: no service registered under the requested name.
	ErrServiceNotFound = errors.New("service not found")
	// ErrMethodNotFound: the service exists but has no such method.
	ErrMethodNotFound = errors.New("method not found")
	// ErrArgumentDecode: arguments were malformed or of the wrong type.
	ErrArgumentDecode = errors.New("invalid argument")
	// ErrConnectionClosed: the connection carrying the call went away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrCancelled: the caller stopped waiting.
	ErrCancelled = errors.New("call cancelled")
	// ErrTimedOut: the call deadline elapsed before a response arrived.
	ErrTimedOut = errors.New("call timed out")
)

// ApplicationError is a failure returned by the remote handler itself. The
// message is carried verbatim from the server.
type ApplicationError struct {
	Message string
}

func (e *ApplicationError) Error() string {
	return e.Message
}

// RemoteError is a not-found or argument failure reported by the server.
// Message is the server's text; Kind is the matching sentinel so callers can
// test with errors.Is.
type RemoteError struct {
	Kind    error
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return e.Kind.Error()
	}
	return e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Kind
}

// TransportError retires pending calls when the underlying stream fails.
// It matches ErrConnectionClosed under errors.Is.
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	if e.Cause == nil {
		return ErrConnectionClosed.Error()
	}
	return fmt.Sprintf("%s: %v", ErrConnectionClosed, e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func (e *TransportError) Is(target error) bool {
	return target == ErrConnectionClosed
}

// IsApplication reports whether err carries a remote handler failure.
func IsApplication(err error) bool {
	_, ok := errors.Cause(err).(*ApplicationError)
	return ok
}
