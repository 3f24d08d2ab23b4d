// Package server implements the RPC server: service registration, the
// middleware chain, per-connection dispatch and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → dispatcher (single reader goroutine per connection)
//	  → for each request: go handle (bounded by WithMaxConcurrentCalls)
//	    → decode envelope → Lookup → middleware chain → Handler
//	      → response queued to the connection's writer goroutine
package server

import (
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"muxrpc/message"
	"muxrpc/middleware"
	"muxrpc/registry"
	"muxrpc/rpcerr"
)

// Server dispatches calls to the services in its registry.
type Server struct {
	opts        options
	registry    *registry.Registry
	middlewares []middleware.Middleware
	handler     middleware.HandlerFunc // built once by start

	startOnce sync.Once

	mu        sync.RWMutex
	shutdown  bool
	listeners map[net.Listener]struct{}
	listener  net.Listener // most recent, reported by Addr
	conns     map[*dispatcher]struct{}

	inflight sync.WaitGroup // handlers executing on any connection
	connWG   sync.WaitGroup // dispatchers still running
}

// NewServer creates a server with an empty registry.
func NewServer(opts ...Option) *Server {
	s := &Server{
		opts:      defaultOptions(),
		registry:  registry.New(),
		listeners: make(map[net.Listener]struct{}),
		conns:     make(map[*dispatcher]struct{}),
	}
	for _, opt := range opts {
		opt(&s.opts)
	}
	return s
}

// Register exports methods under serviceName. It fails once the server has
// started accepting.
func (s *Server) Register(serviceName string, methods ...registry.Method) error {
	return s.registry.Register(serviceName, methods...)
}

// RegisterReceiver exports the suitable methods of rcvr (see registry.Reflect).
// An empty name defaults to the receiver's type name.
func (s *Server) RegisterReceiver(name string, rcvr any) error {
	methods, err := registry.Reflect(rcvr)
	if err != nil {
		return err
	}
	if name == "" {
		name = registry.ReceiverName(rcvr)
	}
	return s.registry.Register(name, methods...)
}

// Registry exposes the server's registry for introspection.
func (s *Server) Registry() *registry.Registry {
	return s.registry
}

// Use appends a middleware. Middlewares apply in the order added and must be
// installed before the server starts accepting.
func (s *Server) Use(mw middleware.Middleware) {
	s.middlewares = append(s.middlewares, mw)
}

// start freezes the registry and builds the middleware chain. Recovery wraps
// both ends of the chain so that a panic is caught even when an inner
// middleware runs the handler on another goroutine.
func (s *Server) start() {
	s.startOnce.Do(func() {
		s.registry.Freeze()

		chain := []middleware.Middleware{
			middleware.Recover(s.opts.logger),
			middleware.Instrument(s.opts.metrics),
		}
		chain = append(chain, s.middlewares...)
		if s.opts.handlerTimeout > 0 {
			chain = append(chain, middleware.TimeoutTracked(s.opts.handlerTimeout, &s.inflight))
		}
		chain = append(chain, middleware.Recover(s.opts.logger))
		s.handler = middleware.Chain(chain...)(invoke)
	})
}

// Serve listens on address and accepts connections until Shutdown.
func (s *Server) Serve(network, address string) error {
	lis, err := net.Listen(network, address)
	if err != nil {
		return errors.Wrapf(err, "listen %s %s", network, address)
	}
	return s.Accept(lis)
}

// Accept serves every connection lis accepts, each on its own goroutine. It
// returns nil after Shutdown, or the listener's error.
func (s *Server) Accept(lis net.Listener) error {
	s.start()

	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		lis.Close()
		return nil
	}
	s.listeners[lis] = struct{}{}
	s.listener = lis
	s.mu.Unlock()

	s.opts.logger.Info("accepting connections", zap.Stringer("addr", lis.Addr()))
	for {
		conn, err := lis.Accept()
		if err != nil {
			s.mu.RLock()
			closing := s.shutdown
			s.mu.RUnlock()
			if closing {
				return nil
			}
			return err
		}
		go s.ServeConn(conn)
	}
}

// ServeConn runs a dispatcher on conn and blocks until the connection ends.
func (s *Server) ServeConn(conn io.ReadWriteCloser) {
	s.start()

	d := newDispatcher(s, conn)
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.conns[d] = struct{}{}
	s.connWG.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns, d)
		s.mu.Unlock()
		s.connWG.Done()
	}()
	d.serve()
}

// Addr returns the address of the most recently started listener, or nil.
func (s *Server) Addr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// beginCall reserves an in-flight slot, or reports false once shutdown has
// started. Taking the lock orders every Add before Shutdown's Wait.
func (s *Server) beginCall() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.shutdown {
		return false
	}
	s.inflight.Add(1)
	return true
}

// Shutdown performs graceful shutdown:
//  1. Stop accepting (close listeners); requests read from now on are dropped
//  2. Wait for in-flight handlers, at most timeout
//  3. Stop every connection's reader; queued responses are flushed, then the
//     connections close
//
// Calls still pending on a client when its connection closes fail there
// with a connection-closed error.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.mu.Lock()
	s.shutdown = true
	for lis := range s.listeners {
		lis.Close()
	}
	s.mu.Unlock()

	deadline := time.Now().Add(timeout)
	var err error
	if !waitTimeout(&s.inflight, time.Until(deadline)) {
		err = errors.New("timeout waiting for ongoing requests to finish")
	}

	s.mu.RLock()
	for d := range s.conns {
		d.stop(err != nil)
	}
	s.mu.RUnlock()

	if !waitTimeout(&s.connWG, time.Until(deadline)) && err == nil {
		err = errors.New("timeout waiting for connections to close")
	}
	return err
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// invoke is the innermost handler: it runs the resolved registry handler
// carried in ctx.
func invoke(ctx context.Context, req *message.Request) *message.Response {
	inv := ctx.Value(invocationKey{}).(*invocation)
	result, err := inv.handler(ctx, inv.codec, req.Payload)
	if err != nil {
		if errors.Is(err, rpcerr.ErrArgumentDecode) {
			return &message.Response{Status: message.StatusArgumentDecode, Error: err.Error()}
		}
		return &message.Response{Status: message.StatusApplication, Error: err.Error()}
	}
	return &message.Response{Payload: result}
}
