// Package codec is the serialization boundary. A Codec encodes both the
// request/response envelopes and the argument/result payloads they carry; the
// dispatch core only relies on Encode/Decode round-tripping.
package codec

import (
	"github.com/pkg/errors"
)

type CodecType byte

const (
	CodecTypeJSON  CodecType = 0
	CodecTypeProto CodecType = 1
)

func (t CodecType) String() string {
	switch t {
	case CodecTypeJSON:
		return "json"
	case CodecTypeProto:
		return "proto"
	}
	return "unknown"
}

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
	Type() CodecType // 0=JSON, 1=Proto
}

var (
	jsonCodec  = &JSONCodec{}
	protoCodec = &ProtoCodec{}
)

// GetCodec returns the shared codec for a frame header's codec byte.
func GetCodec(codecType CodecType) (Codec, error) {
	switch codecType {
	case CodecTypeJSON:
		return jsonCodec, nil
	case CodecTypeProto:
		return protoCodec, nil
	}
	return nil, errors.Errorf("codec: unsupported codec type %d", codecType)
}

// ParseType maps a configuration name ("json", "proto") to a CodecType.
func ParseType(name string) (CodecType, error) {
	switch name {
	case "", "json":
		return CodecTypeJSON, nil
	case "proto", "protobuf":
		return CodecTypeProto, nil
	}
	return 0, errors.Errorf("codec: unknown codec %q", name)
}
