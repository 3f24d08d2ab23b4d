// Package transport implements the client side of a connection: the pending
// call table and the multiplexer that lets many concurrent calls share one
// byte stream.
//
// Each call gets a CallId unique among the calls outstanding on the
// connection. A background goroutine (recvLoop) reads responses and routes
// each one to its caller by CallId.
//
//	goroutine-1 ──Send(id=1)──┐
//	goroutine-2 ──Send(id=2)──┼──→ single conn ──→ Server
//	goroutine-3 ──Send(id=3)──┘
//
//	recvLoop:  ←── response(id=2) → pending[2] retired → goroutine-2 wakes up
package transport

import (
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"muxrpc/codec"
	"muxrpc/message"
	"muxrpc/metrics"
	"muxrpc/protocol"
	"muxrpc/rpcerr"
)

// ErrClosed is the cause recorded when the transport is closed locally.
var ErrClosed = errors.New("transport closed")

// DefaultHeartbeatInterval keeps idle connections alive through servers that
// enforce an idle timeout.
const DefaultHeartbeatInterval = 30 * time.Second

type Option func(*ClientTransport)

// WithCodec selects the codec for outgoing requests. Defaults to JSON.
func WithCodec(c codec.Codec) Option {
	return func(t *ClientTransport) { t.codec = c }
}

// WithCompression snappy-compresses request bodies when that makes them smaller.
func WithCompression(enabled bool) Option {
	return func(t *ClientTransport) { t.compress = enabled }
}

// WithHeartbeat sets the heartbeat period; zero or negative disables it.
func WithHeartbeat(interval time.Duration) Option {
	return func(t *ClientTransport) { t.heartbeat = interval }
}

// WithMaxBodyLen bounds the size of accepted response frames.
func WithMaxBodyLen(n uint32) Option {
	return func(t *ClientTransport) { t.maxBodyLen = n }
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = logger }
}

func WithMetrics(m *metrics.Client) Option {
	return func(t *ClientTransport) { t.metrics = m }
}

// ClientTransport multiplexes calls over a single connection.
type ClientTransport struct {
	conn       io.ReadWriteCloser
	codec      codec.Codec
	compress   bool
	heartbeat  time.Duration
	maxBodyLen uint32
	logger     *zap.Logger
	metrics    *metrics.Client

	pending pendingTable
	sending sync.Mutex // a frame must reach conn in one piece

	closeOnce sync.Once
	closed    chan struct{}
	err       error // why the transport went down; valid once closed is closed
}

// NewClientTransport takes ownership of conn and starts the background
// goroutines:
//   - recvLoop: reads responses and retires the matching pending calls
//   - heartbeatLoop: sends periodic heartbeat frames (unless disabled)
func NewClientTransport(conn io.ReadWriteCloser, opts ...Option) *ClientTransport {
	t := &ClientTransport{
		conn:       conn,
		codec:      &codec.JSONCodec{},
		heartbeat:  DefaultHeartbeatInterval,
		maxBodyLen: protocol.DefaultMaxBodyLen,
		logger:     zap.NewNop(),
		metrics:    metrics.NopClient(),
		closed:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	if t.heartbeat > 0 {
		go t.heartbeatLoop(t.heartbeat)
	}
	return t
}

// Send registers a pending call, then encodes and writes its request frame.
// The call is registered before the write so that a fast response can never
// arrive for an unknown id. If the connection is already down, Send returns
// an error matching rpcerr.ErrConnectionClosed. A failed write tears the
// transport down, which retires the returned call like every other.
func (t *ClientTransport) Send(serviceName, methodName string, payload []byte) (*Call, error) {
	call := newCall(serviceName, methodName)
	if err := t.pending.register(call); err != nil {
		return nil, err
	}
	t.metrics.Pending.Add(1)

	body, err := t.codec.Encode(&message.Request{
		ServiceName: serviceName,
		MethodName:  methodName,
		Payload:     payload,
	})
	if err != nil {
		t.Abandon(call.ID, errors.Wrap(err, "encode request"))
		return nil, errors.Wrap(err, "encode request")
	}

	header := protocol.Header{
		CodecType: byte(t.codec.Type()),
		MsgType:   protocol.MsgTypeRequest,
		Seq:       call.ID,
	}
	if t.compress {
		var ok bool
		if body, ok = protocol.Compress(body); ok {
			header.Flags |= protocol.FlagCompressed
		}
	}

	t.sending.Lock()
	err = protocol.Encode(t.conn, &header, body)
	t.sending.Unlock()
	if err != nil {
		t.logger.Debug("request write failed", zap.Uint32("call_id", call.ID), zap.Error(err))
		t.teardown(err)
	}
	return call, nil
}

// Abandon retires call id with err if it is still pending. It reports false
// when some other event (a response, another Abandon, teardown) got there
// first, in which case nothing changes.
func (t *ClientTransport) Abandon(id uint32, err error) bool {
	call := t.pending.retire(id)
	if call == nil {
		return false
	}
	call.Err = err
	t.finish(call)
	return true
}

func (t *ClientTransport) finish(call *Call) {
	t.metrics.Pending.Add(-1)
	close(call.done)
}

// recvLoop is the only reader of conn. For each response it claims the
// matching pending call; responses for calls already retired locally
// (cancelled or timed out) are dropped.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.DecodeLimit(t.conn, t.maxBodyLen)
		if err != nil {
			t.teardown(err)
			return
		}
		if header.MsgType != protocol.MsgTypeResponse {
			continue
		}

		call := t.pending.retire(header.Seq)
		if call == nil {
			t.metrics.Discarded.Add(1)
			t.logger.Debug("discarding response for retired call", zap.Uint32("call_id", header.Seq))
			continue
		}

		call.Response, call.Codec, call.Err = decodeResponse(header, body)
		t.finish(call)
	}
}

func decodeResponse(header *protocol.Header, body []byte) (*message.Response, codec.Codec, error) {
	cdc, err := codec.GetCodec(codec.CodecType(header.CodecType))
	if err != nil {
		return nil, nil, err
	}
	body, err = protocol.Decompress(header, body)
	if err != nil {
		return nil, nil, err
	}
	resp := &message.Response{}
	if err := cdc.Decode(body, resp); err != nil {
		return nil, nil, errors.Wrap(err, "decode response envelope")
	}
	return resp, cdc, nil
}

// teardown closes the connection and retires every pending call with a
// TransportError carrying cause. Only the first cause is kept.
func (t *ClientTransport) teardown(cause error) {
	t.closeOnce.Do(func() {
		t.err = &rpcerr.TransportError{Cause: cause}
		t.conn.Close()

		calls := t.pending.close(t.err)
		if len(calls) > 0 {
			t.logger.Info("connection lost with calls pending", zap.Int("pending", len(calls)), zap.Error(cause))
		}
		for _, call := range calls {
			call.Err = t.err
			t.finish(call)
		}
		close(t.closed)
	})
}

// heartbeatLoop sends an empty heartbeat frame every interval until the
// transport closes.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.closed:
			return
		case <-ticker.C:
		}
		header := &protocol.Header{
			CodecType: byte(t.codec.Type()),
			MsgType:   protocol.MsgTypeHeartbeat,
		}
		t.sending.Lock()
		err := protocol.Encode(t.conn, header, nil)
		t.sending.Unlock()
		if err != nil {
			t.teardown(err)
			return
		}
	}
}

// Close closes the connection. Calls still pending are retired with an
// error matching rpcerr.ErrConnectionClosed.
func (t *ClientTransport) Close() error {
	t.teardown(ErrClosed)
	return nil
}

// Closed is closed once the transport is down.
func (t *ClientTransport) Closed() <-chan struct{} {
	return t.closed
}

// Err returns why the transport went down, or nil while it is up.
func (t *ClientTransport) Err() error {
	select {
	case <-t.closed:
		return t.err
	default:
		return nil
	}
}

// Pending returns the number of outstanding calls.
func (t *ClientTransport) Pending() int {
	return t.pending.len()
}
