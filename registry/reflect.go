package registry

import (
	"context"
	"go/token"
	"reflect"

	"github.com/pkg/errors"

	"muxrpc/codec"
	"muxrpc/rpcerr"
)

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
)

type methodType struct {
	method    reflect.Method
	withCtx   bool
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// Reflect exports the methods of rcvr that have one of the shapes
//
//	func (t *T) Name(args *A, reply *R) error
//	func (t *T) Name(ctx context.Context, args *A, reply *R) error
//
// rcvr must be a pointer to a struct. Methods of any other shape are skipped;
// a receiver with no suitable method is an error.
func Reflect(rcvr any) ([]Method, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, errors.Errorf("registry: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, errors.Errorf("registry: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)

	var methods []Method
	for i := 0; i < typ.NumMethod(); i++ {
		mt, ok := suitableMethod(typ.Method(i))
		if !ok {
			continue
		}
		methods = append(methods, Method{Name: mt.method.Name, Handler: mt.handler(val)})
	}
	if len(methods) == 0 {
		return nil, errors.Errorf("registry: type %s has no exported methods of suitable type", typ)
	}
	return methods, nil
}

// ReceiverName is the default service name for rcvr: its struct type name.
func ReceiverName(rcvr any) string {
	typ := reflect.TypeOf(rcvr)
	for typ != nil && typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	if typ == nil {
		return ""
	}
	return typ.Name()
}

func suitableMethod(method reflect.Method) (*methodType, bool) {
	mtype := method.Type
	if !method.IsExported() || mtype.NumOut() != 1 || mtype.Out(0) != errorType {
		return nil, false
	}
	var withCtx bool
	switch mtype.NumIn() {
	case 3:
	case 4:
		if mtype.In(1) != contextType {
			return nil, false
		}
		withCtx = true
	default:
		return nil, false
	}
	argType, replyType := mtype.In(mtype.NumIn()-2), mtype.In(mtype.NumIn()-1)
	if argType.Kind() != reflect.Ptr || replyType.Kind() != reflect.Ptr {
		return nil, false
	}
	if !isExportedOrBuiltin(argType) || !isExportedOrBuiltin(replyType) {
		return nil, false
	}
	return &methodType{
		method:    method,
		withCtx:   withCtx,
		ArgType:   argType.Elem(),
		ReplyType: replyType.Elem(),
	}, true
}

func isExportedOrBuiltin(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return token.IsExported(t.Name()) || t.PkgPath() == ""
}

// handler binds the receiver and argument types once; each call allocates
// fresh args/reply and invokes the method through its reflect.Value.
func (m *methodType) handler(rcvr reflect.Value) Handler {
	fn := m.method.Func
	return func(ctx context.Context, cdc codec.Codec, payload []byte) ([]byte, error) {
		argv := reflect.New(m.ArgType)
		replyv := reflect.New(m.ReplyType)

		if err := cdc.Decode(payload, argv.Interface()); err != nil {
			return nil, errors.Wrapf(rpcerr.ErrArgumentDecode, "%s: %v", m.method.Name, err)
		}

		var results []reflect.Value
		if m.withCtx {
			results = fn.Call([]reflect.Value{rcvr, reflect.ValueOf(ctx), argv, replyv})
		} else {
			results = fn.Call([]reflect.Value{rcvr, argv, replyv})
		}
		if errv := results[0]; !errv.IsNil() {
			return nil, errv.Interface().(error)
		}
		return cdc.Encode(replyv.Interface())
	}
}
