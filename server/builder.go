package server

import (
	"muxrpc/middleware"
	"muxrpc/registry"
)

// Builder assembles a Server in one expression:
//
//	srv, err := server.NewBuilder(server.WithLogger(logger)).
//		Register("Echo", registry.Func("echo_i32", echoI32)).
//		RegisterReceiver("", &Arith{}).
//		Use(middleware.Logging(logger)).
//		Build()
//
// The first registration error is kept and returned by Build.
type Builder struct {
	srv *Server
	err error
}

func NewBuilder(opts ...Option) *Builder {
	return &Builder{srv: NewServer(opts...)}
}

func (b *Builder) Register(serviceName string, methods ...registry.Method) *Builder {
	if b.err == nil {
		b.err = b.srv.Register(serviceName, methods...)
	}
	return b
}

func (b *Builder) RegisterReceiver(name string, rcvr any) *Builder {
	if b.err == nil {
		b.err = b.srv.RegisterReceiver(name, rcvr)
	}
	return b
}

func (b *Builder) Use(mw middleware.Middleware) *Builder {
	b.srv.Use(mw)
	return b
}

func (b *Builder) Build() (*Server, error) {
	if b.err != nil {
		return nil, b.err
	}
	return b.srv, nil
}
