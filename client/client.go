// Package client issues calls over a single multiplexed connection.
//
// Any number of goroutines may use one Client. Each call is supervised until
// exactly one of these happens: its response arrives, its context is
// cancelled, its deadline elapses, or the connection fails.
package client

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/pkg/errors"

	"muxrpc/codec"
	"muxrpc/transport"
)

type Client struct {
	opts      options
	codec     codec.Codec
	transport *transport.ClientTransport
}

// NewClient takes ownership of conn.
func NewClient(conn io.ReadWriteCloser, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	cdc, err := codec.GetCodec(o.codecType)
	if err != nil {
		conn.Close()
		return nil, err
	}
	t := transport.NewClientTransport(conn,
		transport.WithCodec(cdc),
		transport.WithCompression(o.compress),
		transport.WithHeartbeat(o.heartbeat),
		transport.WithLogger(o.logger),
		transport.WithMetrics(o.metrics),
	)
	return &Client{opts: o, codec: cdc, transport: t}, nil
}

// Dial connects to a server listening on network/address.
func Dial(network, address string, opts ...Option) (*Client, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s %s", network, address)
	}
	return NewClient(conn, opts...)
}

// DialWebsocket connects to a server's websocket endpoint, e.g.
// ws://host:port/_rpc_.
func DialWebsocket(ctx context.Context, url string, opts ...Option) (*Client, error) {
	conn, err := transport.DialWebsocket(ctx, url, http.Header{})
	if err != nil {
		return nil, err
	}
	return NewClient(conn, opts...)
}

// Close closes the connection. Outstanding calls fail with
// rpcerr.ErrConnectionClosed.
func (c *Client) Close() error {
	return c.transport.Close()
}

// IsAvailable reports whether the connection is still up.
func (c *Client) IsAvailable() bool {
	return c.transport.Err() == nil
}
