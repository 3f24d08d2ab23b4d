// Package message defines the envelopes exchanged between client and server.
//
// An envelope is serialized by the codec layer and wrapped in a protocol frame.
// The CallId is not part of the envelope: it travels in the frame header so the
// client can route a response before decoding its body.
package message

import (
	"github.com/pkg/errors"

	"muxrpc/rpcerr"
)

// Request is the RequestEnvelope body.
type Request struct {
	ServiceName string `json:"service"`
	MethodName  string `json:"method"`
	Payload     []byte `json:"payload,omitempty"` // Serialized arguments
}

// Status is the outcome tag of a Response.
type Status byte

const (
	StatusOK              Status = 0
	StatusServiceNotFound Status = 1
	StatusMethodNotFound  Status = 2
	StatusArgumentDecode  Status = 3
	StatusApplication     Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusServiceNotFound:
		return "service_not_found"
	case StatusMethodNotFound:
		return "method_not_found"
	case StatusArgumentDecode:
		return "argument_decode"
	case StatusApplication:
		return "application_error"
	}
	return "unknown"
}

// Response is the ResponseEnvelope body.
//
//   - StatusOK: Payload holds the serialized result, Error is empty.
//   - otherwise: Error describes the failure, Payload is empty.
type Response struct {
	Status  Status `json:"status"`
	Error   string `json:"error,omitempty"`
	Payload []byte `json:"payload,omitempty"`
}

// ErrorResponse builds the envelope for a per-call failure. Errors wrapping
// the rpcerr sentinels get their dedicated status; anything else is an
// application error carried verbatim.
func ErrorResponse(err error) *Response {
	resp := &Response{Status: StatusApplication, Error: err.Error()}
	switch {
	case errors.Is(err, rpcerr.ErrServiceNotFound):
		resp.Status = StatusServiceNotFound
	case errors.Is(err, rpcerr.ErrMethodNotFound):
		resp.Status = StatusMethodNotFound
	case errors.Is(err, rpcerr.ErrArgumentDecode):
		resp.Status = StatusArgumentDecode
	}
	return resp
}

// Err converts a received Response back into the caller-facing error, or nil
// on success.
func (r *Response) Err() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusServiceNotFound:
		return &rpcerr.RemoteError{Kind: rpcerr.ErrServiceNotFound, Message: r.Error}
	case StatusMethodNotFound:
		return &rpcerr.RemoteError{Kind: rpcerr.ErrMethodNotFound, Message: r.Error}
	case StatusArgumentDecode:
		return &rpcerr.RemoteError{Kind: rpcerr.ErrArgumentDecode, Message: r.Error}
	case StatusApplication:
		return &rpcerr.ApplicationError{Message: r.Error}
	}
	return errors.Errorf("unknown response status %d: %s", r.Status, r.Error)
}
