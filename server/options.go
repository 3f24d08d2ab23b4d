package server

import (
	"time"

	"go.uber.org/zap"

	"muxrpc/metrics"
	"muxrpc/protocol"
)

// DefaultMaxConcurrentCalls bounds the handlers executing at once on one
// connection. When the bound is reached the connection's reader stops reading
// until a handler finishes.
const DefaultMaxConcurrentCalls = 1024

type options struct {
	logger             *zap.Logger
	metrics            *metrics.Server
	maxConcurrentCalls int
	idleTimeout        time.Duration
	maxBodyLen         uint32
	maxResponseLen     uint32
	handlerTimeout     time.Duration
}

func defaultOptions() options {
	return options{
		logger:             zap.NewNop(),
		metrics:            metrics.NopServer(),
		maxConcurrentCalls: DefaultMaxConcurrentCalls,
		maxBodyLen:         protocol.DefaultMaxBodyLen,
		maxResponseLen:     protocol.DefaultMaxBodyLen,
	}
}

type Option func(*options)

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Server) Option {
	return func(o *options) { o.metrics = m }
}

// WithMaxConcurrentCalls sets the per-connection handler bound. Values below
// one are ignored.
func WithMaxConcurrentCalls(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxConcurrentCalls = n
		}
	}
}

// WithIdleTimeout closes connections that send nothing, not even a heartbeat,
// for d. It applies to connections that support read deadlines (net.Conn).
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithMaxBodyLen bounds the size of accepted request frames.
func WithMaxBodyLen(n uint32) Option {
	return func(o *options) { o.maxBodyLen = n }
}

// WithMaxResponseLen bounds the size of response frames. A result whose
// encoded body exceeds n is replaced by an application error for that call
// alone, so peers decoding with the same limit never drop the connection.
func WithMaxResponseLen(n uint32) Option {
	return func(o *options) { o.maxResponseLen = n }
}

// WithHandlerTimeout cancels handlers that run longer than d and answers the
// caller with an application error. It is unrelated to any client deadline.
// A handler that ignores its context keeps running after the answer is sent;
// Shutdown still waits for it as an in-flight call.
func WithHandlerTimeout(d time.Duration) Option {
	return func(o *options) { o.handlerTimeout = d }
}
