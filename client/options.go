package client

import (
	"time"

	"go.uber.org/zap"

	"muxrpc/codec"
	"muxrpc/metrics"
	"muxrpc/transport"
)

type options struct {
	codecType codec.CodecType
	compress  bool
	timeout   time.Duration
	heartbeat time.Duration
	logger    *zap.Logger
	metrics   *metrics.Client
}

func defaultOptions() options {
	return options{
		codecType: codec.CodecTypeJSON,
		heartbeat: transport.DefaultHeartbeatInterval,
		logger:    zap.NewNop(),
		metrics:   metrics.NopClient(),
	}
}

type Option func(*options)

func WithCodec(t codec.CodecType) Option {
	return func(o *options) { o.codecType = t }
}

func WithCompression(enabled bool) Option {
	return func(o *options) { o.compress = enabled }
}

// WithTimeout sets the deadline applied to calls that do not carry their own.
// Zero means calls wait until answered, cancelled, or the connection fails.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithHeartbeat sets the heartbeat period; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Client) Option {
	return func(o *options) { o.metrics = m }
}

type callOptions struct {
	deadline time.Time
	timeout  time.Duration
}

// CallOption customizes a single call.
type CallOption func(*callOptions)

// WithDeadline fails the call with rpcerr.ErrTimedOut if no response has
// arrived by t.
func WithDeadline(t time.Time) CallOption {
	return func(o *callOptions) { o.deadline = t }
}

// WithCallTimeout is WithDeadline relative to the moment the call is issued.
func WithCallTimeout(d time.Duration) CallOption {
	return func(o *callOptions) { o.timeout = d }
}
