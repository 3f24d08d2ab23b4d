package main

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"muxrpc/registry"
)

func echoMethods() []registry.Method {
	return []registry.Method{
		registry.Func("echo_i32", func(_ context.Context, x int32) (int32, error) {
			return x, nil
		}),
		registry.Func("echo_string", func(_ context.Context, s string) (string, error) {
			return s, nil
		}),
		// sleep answers after the given number of milliseconds, for trying
		// out client timeouts and cancellation.
		registry.Func("sleep", func(ctx context.Context, ms int) (int, error) {
			select {
			case <-time.After(time.Duration(ms) * time.Millisecond):
				return ms, nil
			case <-ctx.Done():
				return 0, ctx.Err()
			}
		}),
	}
}

type Args struct {
	A, B int
}

type Reply struct {
	Result int
}

type Arith struct{}

func (a *Arith) Add(args *Args, reply *Reply) error {
	reply.Result = args.A + args.B
	return nil
}

func (a *Arith) Sub(args *Args, reply *Reply) error {
	reply.Result = args.A - args.B
	return nil
}

func (a *Arith) Mul(args *Args, reply *Reply) error {
	reply.Result = args.A * args.B
	return nil
}

func (a *Arith) Div(args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("divide by zero")
	}
	reply.Result = args.A / args.B
	return nil
}
