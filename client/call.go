package client

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"muxrpc/metrics"
	"muxrpc/rpcerr"
	"muxrpc/transport"
)

// Call is an outstanding or completed call.
type Call struct {
	ServiceName string
	MethodName  string
	Args        any
	Reply       any
	Error       error      // set when the call completes
	Done        chan *Call // receives the call exactly once when it completes

	cancel func()
}

// Cancel abandons the call; it completes with rpcerr.ErrCancelled unless it
// has already completed. The server is not told.
func (call *Call) Cancel() {
	if call.cancel != nil {
		call.cancel()
	}
}

func (call *Call) done() {
	call.Done <- call
}

// Go invokes service.method asynchronously and returns the call handle. The
// call ends with rpcerr.ErrCancelled if ctx is cancelled and with
// rpcerr.ErrTimedOut if ctx's deadline or the call's own deadline elapses
// first.
func (c *Client) Go(ctx context.Context, service, method string, args, reply any, opts ...CallOption) *Call {
	call := &Call{
		ServiceName: service,
		MethodName:  method,
		Args:        args,
		Reply:       reply,
		Done:        make(chan *Call, 1),
	}
	start := time.Now()

	if err := ctx.Err(); err != nil {
		c.complete(call, start, contextError(err))
		return call
	}
	payload, err := c.codec.Encode(args)
	if err != nil {
		c.complete(call, start, errors.Wrap(err, "encode arguments"))
		return call
	}
	pending, err := c.transport.Send(service, method, payload)
	if err != nil {
		c.complete(call, start, err)
		return call
	}

	// Each of these races to retire the pending call; Abandon lets exactly
	// one of them, or the response, win.
	stopCtx := context.AfterFunc(ctx, func() {
		c.transport.Abandon(pending.ID, contextError(ctx.Err()))
	})
	var timer *time.Timer
	if deadline := c.deadline(start, opts); !deadline.IsZero() {
		timer = time.AfterFunc(time.Until(deadline), func() {
			c.transport.Abandon(pending.ID, rpcerr.ErrTimedOut)
		})
	}
	call.cancel = func() {
		c.transport.Abandon(pending.ID, rpcerr.ErrCancelled)
	}

	go func() {
		<-pending.Done()
		stopCtx()
		if timer != nil {
			timer.Stop()
		}
		c.complete(call, start, c.outcome(call, pending))
	}()
	return call
}

// Call invokes service.method and waits for it to complete.
func (c *Client) Call(ctx context.Context, service, method string, args, reply any, opts ...CallOption) error {
	call := <-c.Go(ctx, service, method, args, reply, opts...).Done
	return call.Error
}

func (c *Client) deadline(start time.Time, opts []CallOption) time.Time {
	co := callOptions{timeout: c.opts.timeout}
	for _, opt := range opts {
		opt(&co)
	}
	if !co.deadline.IsZero() {
		return co.deadline
	}
	if co.timeout > 0 {
		return start.Add(co.timeout)
	}
	return time.Time{}
}

// outcome turns a retired pending call into the caller's error, decoding the
// result into call.Reply on success.
func (c *Client) outcome(call *Call, pending *transport.Call) error {
	if pending.Err != nil {
		return pending.Err
	}
	if err := pending.Response.Err(); err != nil {
		return err
	}
	if call.Reply == nil {
		return nil
	}
	if err := pending.Codec.Decode(pending.Response.Payload, call.Reply); err != nil {
		return errors.Wrap(err, "decode reply")
	}
	return nil
}

func (c *Client) complete(call *Call, start time.Time, err error) {
	call.Error = err
	c.opts.metrics.CallDuration.With(
		metrics.LabelService, call.ServiceName,
		metrics.LabelMethod, call.MethodName,
		metrics.LabelOutcome, outcomeLabel(err),
	).Observe(time.Since(start).Seconds())
	call.done()
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return rpcerr.ErrTimedOut
	}
	return rpcerr.ErrCancelled
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, rpcerr.ErrCancelled):
		return "cancelled"
	case errors.Is(err, rpcerr.ErrTimedOut):
		return "timed_out"
	case errors.Is(err, rpcerr.ErrConnectionClosed):
		return "connection_closed"
	case errors.Is(err, rpcerr.ErrServiceNotFound), errors.Is(err, rpcerr.ErrMethodNotFound):
		return "not_found"
	case errors.Is(err, rpcerr.ErrArgumentDecode):
		return "argument_decode"
	case rpcerr.IsApplication(err):
		return "application_error"
	}
	return "error"
}
