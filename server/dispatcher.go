package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"muxrpc/codec"
	"muxrpc/message"
	"muxrpc/protocol"
	"muxrpc/registry"
	"muxrpc/rpcerr"
)

type invocationKey struct{}

// invocation carries the resolved handler and the request's codec through the
// middleware chain to invoke.
type invocation struct {
	handler registry.Handler
	codec   codec.Codec
}

type outgoing struct {
	header protocol.Header
	body   []byte
}

type readDeadliner interface {
	SetReadDeadline(t time.Time) error
}

// dispatcher serves one connection. A single goroutine reads frames, each
// request runs on its own goroutine (at most maxConcurrentCalls at once) and
// a single writer goroutine serializes responses onto the connection.
type dispatcher struct {
	srv    *Server
	rwc    io.ReadWriteCloser
	logger *zap.Logger

	// ctx is the parent of every handler context on this connection. It is
	// cancelled when the connection terminates.
	ctx    context.Context
	cancel context.CancelFunc

	sem        chan struct{}
	out        chan outgoing
	writerDone chan struct{}
	handlers   sync.WaitGroup

	deadlineMu sync.Mutex
	stopping   bool
}

func newDispatcher(s *Server, rwc io.ReadWriteCloser) *dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	logger := s.opts.logger
	if nc, ok := rwc.(net.Conn); ok {
		logger = logger.With(zap.Stringer("remote", nc.RemoteAddr()))
	}
	return &dispatcher{
		srv:        s,
		rwc:        rwc,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		sem:        make(chan struct{}, s.opts.maxConcurrentCalls),
		out:        make(chan outgoing, 64),
		writerDone: make(chan struct{}),
	}
}

// serve runs until the connection ends. Responses of handlers that were
// already running are still written before the connection is closed.
func (d *dispatcher) serve() {
	d.srv.opts.metrics.Connections.Add(1)
	defer d.srv.opts.metrics.Connections.Add(-1)

	go d.writeLoop()
	d.readLoop()

	d.cancel()
	d.handlers.Wait()
	close(d.out)
	<-d.writerDone
	d.rwc.Close()
}

func (d *dispatcher) readLoop() {
	for {
		if !d.armDeadline() {
			return
		}
		header, body, err := protocol.DecodeLimit(d.rwc, d.srv.opts.maxBodyLen)
		if err != nil {
			d.logReadError(err)
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeHeartbeat:
			continue
		case protocol.MsgTypeResponse:
			d.logger.Debug("ignoring response frame from client", zap.Uint32("call_id", header.Seq))
			continue
		}

		// Backpressure: stop reading while the connection is at its bound.
		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		if !d.srv.beginCall() {
			<-d.sem
			d.logger.Debug("dropping request during shutdown", zap.Uint32("call_id", header.Seq))
			continue
		}
		d.handlers.Add(1)
		go d.handle(header, body)
	}
}

// armDeadline applies the idle timeout before each read. It reports false
// once the dispatcher is stopping.
func (d *dispatcher) armDeadline() bool {
	d.deadlineMu.Lock()
	defer d.deadlineMu.Unlock()
	if d.stopping {
		return false
	}
	if dl, ok := d.rwc.(readDeadliner); ok && d.srv.opts.idleTimeout > 0 {
		dl.SetReadDeadline(time.Now().Add(d.srv.opts.idleTimeout))
	}
	return true
}

func (d *dispatcher) logReadError(err error) {
	d.deadlineMu.Lock()
	stopping := d.stopping
	d.deadlineMu.Unlock()

	var netErr net.Error
	switch {
	case stopping:
		d.logger.Debug("connection stopped")
	case errors.Is(err, protocol.ErrMalformedFrame):
		d.logger.Warn("closing connection after malformed frame", zap.Error(err))
	case errors.Is(err, io.EOF):
		d.logger.Debug("connection closed by peer")
	case errors.As(err, &netErr) && netErr.Timeout():
		d.logger.Info("closing idle connection", zap.Duration("idle_timeout", d.srv.opts.idleTimeout))
	default:
		d.logger.Debug("connection read failed", zap.Error(err))
	}
}

// stop ends the read loop. Without force, a connection that supports read
// deadlines is interrupted so queued responses still get flushed; otherwise
// it is closed outright.
func (d *dispatcher) stop(force bool) {
	d.deadlineMu.Lock()
	d.stopping = true
	dl, ok := d.rwc.(readDeadliner)
	if ok && !force {
		dl.SetReadDeadline(time.Now())
	}
	d.deadlineMu.Unlock()

	d.cancel()
	if !ok || force {
		d.rwc.Close()
	}
}

func (d *dispatcher) handle(header *protocol.Header, body []byte) {
	defer func() {
		<-d.sem
		d.handlers.Done()
		d.srv.inflight.Done()
	}()

	// The frame decoder only admits known codec bytes.
	cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		d.logger.Error("no codec for request", zap.Uint32("call_id", header.Seq), zap.Error(err))
		return
	}
	d.reply(header, cdc, d.dispatch(header, cdc, body))
}

// dispatch turns one request frame body into a response envelope. Failures to
// decode the envelope or resolve the target are answered directly, without
// running the middleware chain.
func (d *dispatcher) dispatch(header *protocol.Header, cdc codec.Codec, body []byte) *message.Response {
	body, err := protocol.Decompress(header, body)
	if err != nil {
		return message.ErrorResponse(errors.Wrapf(rpcerr.ErrArgumentDecode, "request body: %v", err))
	}
	req := &message.Request{}
	if err := cdc.Decode(body, req); err != nil {
		return message.ErrorResponse(errors.Wrapf(rpcerr.ErrArgumentDecode, "request envelope: %v", err))
	}

	handler, err := d.srv.registry.Lookup(req.ServiceName, req.MethodName)
	if err != nil {
		d.logger.Debug("call target not found",
			zap.Uint32("call_id", header.Seq),
			zap.String("service", req.ServiceName),
			zap.String("method", req.MethodName))
		return message.ErrorResponse(err)
	}

	ctx := context.WithValue(d.ctx, invocationKey{}, &invocation{handler: handler, codec: cdc})
	return d.srv.handler(ctx, req)
}

// reply answers with the request's codec and CallId. Compression mirrors the
// request.
func (d *dispatcher) reply(req *protocol.Header, cdc codec.Codec, resp *message.Response) {
	data, err := cdc.Encode(resp)
	if err != nil {
		d.logger.Error("failed to encode response", zap.Uint32("call_id", req.Seq), zap.Error(err))
		data, err = cdc.Encode(&message.Response{
			Status: message.StatusApplication,
			Error:  "encode response: " + err.Error(),
		})
		if err != nil {
			return
		}
	}

	header := protocol.Header{
		CodecType: req.CodecType,
		MsgType:   protocol.MsgTypeResponse,
		Seq:       req.Seq,
	}
	if req.Flags&protocol.FlagCompressed != 0 {
		if compressed, ok := protocol.Compress(data); ok {
			data = compressed
			header.Flags |= protocol.FlagCompressed
		}
	}
	if limit := d.srv.opts.maxResponseLen; uint64(len(data)) > uint64(limit) {
		d.logger.Warn("response too large",
			zap.Uint32("call_id", req.Seq), zap.Int("size", len(data)), zap.Uint32("limit", limit))
		data, err = cdc.Encode(&message.Response{
			Status: message.StatusApplication,
			Error:  fmt.Sprintf("response too large: %d bytes exceeds limit of %d", len(data), limit),
		})
		if err != nil {
			return
		}
		header.Flags &^= protocol.FlagCompressed
	}
	d.out <- outgoing{header: header, body: data}
}

// writeLoop is the only writer of rwc. After a write error it keeps draining
// the queue so handlers never block on a dead connection.
func (d *dispatcher) writeLoop() {
	defer close(d.writerDone)
	broken := false
	for f := range d.out {
		if broken {
			continue
		}
		if err := protocol.Encode(d.rwc, &f.header, f.body); err != nil {
			d.logger.Debug("response write failed", zap.Uint32("call_id", f.header.Seq), zap.Error(err))
			broken = true
			d.rwc.Close()
		}
	}
}
