package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"muxrpc/codec"
	"muxrpc/rpcerr"
)

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

func (a *Arith) Divide(ctx context.Context, args *Args, reply *Reply) error {
	if args.B == 0 {
		return errors.New("division by zero")
	}
	reply.Result = args.A / args.B
	return nil
}

// Not exported over RPC: wrong shapes.
func (a *Arith) Helper() int { return 0 }
func (a *Arith) Value(args Args, reply *Reply) error { return nil }

func echo(_ context.Context, x int32) (int32, error) { return x, nil }

func TestRegisterAndLookup(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register("Echo", Func("echo_i32", echo)))

	h, err := reg.Lookup("Echo", "echo_i32")
	require.NoError(t, err)

	cdc, _ := codec.GetCodec(codec.CodecTypeJSON)
	out, err := h(context.Background(), cdc, []byte("42"))
	require.NoError(t, err)
	assert.Equal(t, "42", string(out))
}

func TestLookupDistinguishesNotFound(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register("Echo", Func("echo_i32", echo)))
	reg.Freeze()

	_, err := reg.Lookup("Nope", "echo_i32")
	assert.True(t, errors.Is(err, rpcerr.ErrServiceNotFound))
	assert.False(t, errors.Is(err, rpcerr.ErrMethodNotFound))

	_, err = reg.Lookup("Echo", "nope")
	assert.True(t, errors.Is(err, rpcerr.ErrMethodNotFound))
	assert.False(t, errors.Is(err, rpcerr.ErrServiceNotFound))
}

func TestRegisterRejectsDuplicates(t *testing.T) {
	reg := New()
	require.NoError(t, reg.Register("Echo", Func("echo_i32", echo)))

	assert.Error(t, reg.Register("Echo", Func("other", echo)), "duplicate service")
	assert.Error(t, reg.Register("Twice", Func("a", echo), Func("a", echo)), "duplicate method")
	assert.Error(t, reg.Register("", Func("a", echo)))
	assert.Error(t, reg.Register("NilHandler", Method{Name: "x"}))

	assert.Equal(t, []string{"Echo"}, reg.Services())
}

func TestRegisterAfterFreeze(t *testing.T) {
	reg := New()
	reg.Freeze()
	reg.Freeze()

	err := reg.Register("Echo", Func("echo_i32", echo))
	assert.True(t, errors.Is(err, ErrFrozen))
	assert.True(t, reg.Frozen())
}

func TestFuncArgumentDecodeError(t *testing.T) {
	m := Func("echo_i32", echo)
	cdc, _ := codec.GetCodec(codec.CodecTypeJSON)

	_, err := m.Handler(context.Background(), cdc, []byte(`"not a number"`))
	assert.True(t, errors.Is(err, rpcerr.ErrArgumentDecode))
}

func TestFuncApplicationErrorPassesThrough(t *testing.T) {
	boom := errors.New("boom")
	m := Func("fail", func(context.Context, struct{}) (struct{}, error) { return struct{}{}, boom })
	cdc, _ := codec.GetCodec(codec.CodecTypeJSON)

	_, err := m.Handler(context.Background(), cdc, []byte(`{}`))
	assert.Equal(t, boom, err)
}

func TestFuncWithProtoMessages(t *testing.T) {
	m := Func("double", func(_ context.Context, in *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
		return wrapperspb.Int64(in.GetValue() * 2), nil
	})
	cdc, _ := codec.GetCodec(codec.CodecTypeProto)

	payload, err := cdc.Encode(wrapperspb.Int64(21))
	require.NoError(t, err)
	out, err := m.Handler(context.Background(), cdc, payload)
	require.NoError(t, err)

	reply := &wrapperspb.Int64Value{}
	require.NoError(t, cdc.Decode(out, reply))
	assert.Equal(t, int64(42), reply.GetValue())
}

func TestReflect(t *testing.T) {
	methods, err := Reflect(&Arith{})
	require.NoError(t, err)

	names := map[string]bool{}
	for _, m := range methods {
		names[m.Name] = true
	}
	assert.Equal(t, map[string]bool{"Add": true, "Divide": true}, names)
	assert.Equal(t, "Arith", ReceiverName(&Arith{}))

	reg := New()
	require.NoError(t, reg.Register("Arith", methods...))
	cdc, _ := codec.GetCodec(codec.CodecTypeJSON)

	add, err := reg.Lookup("Arith", "Add")
	require.NoError(t, err)
	out, err := add(context.Background(), cdc, []byte(`{"A":1,"B":2}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"Result":3}`, string(out))

	div, err := reg.Lookup("Arith", "Divide")
	require.NoError(t, err)
	_, err = div(context.Background(), cdc, []byte(`{"A":1,"B":0}`))
	assert.EqualError(t, err, "division by zero")

	_, err = div(context.Background(), cdc, []byte(`[`))
	assert.True(t, errors.Is(err, rpcerr.ErrArgumentDecode))
}

func TestReflectRejectsBadReceivers(t *testing.T) {
	_, err := Reflect(Arith{})
	assert.Error(t, err)

	n := 3
	_, err = Reflect(&n)
	assert.Error(t, err)

	type empty struct{}
	_, err = Reflect(&empty{})
	assert.Error(t, err)
}
