package registry

import (
	"context"
	"reflect"

	"github.com/pkg/errors"

	"muxrpc/codec"
	"muxrpc/rpcerr"
)

// Func adapts a typed function into a Method. The concrete argument and result
// types are bound here, once, so dispatch only sees the uniform Handler.
//
//	registry.Func("echo_i32", func(ctx context.Context, x int32) (int32, error) { return x, nil })
//
// With the proto codec A and R must be proto.Message pointer types.
func Func[A, R any](name string, fn func(ctx context.Context, args A) (R, error)) Method {
	newArgs := argsConstructor[A]()
	return Method{
		Name: name,
		Handler: func(ctx context.Context, cdc codec.Codec, payload []byte) ([]byte, error) {
			args, dst := newArgs()
			if err := cdc.Decode(payload, dst); err != nil {
				return nil, errors.Wrapf(rpcerr.ErrArgumentDecode, "%s: %v", name, err)
			}
			reply, err := fn(ctx, *args)
			if err != nil {
				return nil, err
			}
			return cdc.Encode(reply)
		},
	}
}

// argsConstructor returns a function yielding a fresh A and the value to
// decode into. For pointer types the pointee is allocated and is itself the
// decode target, which is what protobuf expects.
func argsConstructor[A any]() func() (*A, any) {
	t := reflect.TypeOf((*A)(nil)).Elem()
	if t.Kind() != reflect.Pointer {
		return func() (*A, any) {
			args := new(A)
			return args, args
		}
	}
	elem := t.Elem()
	return func() (*A, any) {
		args := new(A)
		v := reflect.New(elem)
		reflect.ValueOf(args).Elem().Set(v)
		return args, v.Interface()
	}
}
