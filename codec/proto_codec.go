package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/proto"

	"muxrpc/message"
)

// ProtoCodec writes envelopes in a compact length-prefixed layout and
// payloads as protocol buffers. Payload values must implement proto.Message.
//
// Request:  svcLen u16 | svc | methodLen u16 | method | payloadLen u32 | payload
// Response: status u8 | errLen u32 | err | payloadLen u32 | payload
//
// Names longer than 65535 bytes cannot be encoded; error texts of any length can.
type ProtoCodec struct{}

var errShortBuffer = errors.New("ProtoCodec: short buffer")

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	switch m := v.(type) {
	case *message.Request:
		if len(m.ServiceName) > math.MaxUint16 || len(m.MethodName) > math.MaxUint16 {
			return nil, errors.Errorf("ProtoCodec: service or method name longer than %d bytes", math.MaxUint16)
		}
		buf := make([]byte, 0, 2+len(m.ServiceName)+2+len(m.MethodName)+4+len(m.Payload))
		buf = appendString16(buf, m.ServiceName)
		buf = appendString16(buf, m.MethodName)
		buf = appendBytes32(buf, m.Payload)
		return buf, nil
	case *message.Response:
		buf := make([]byte, 0, 1+4+len(m.Error)+4+len(m.Payload))
		buf = append(buf, byte(m.Status))
		buf = appendBytes32(buf, []byte(m.Error))
		buf = appendBytes32(buf, m.Payload)
		return buf, nil
	case proto.Message:
		return proto.Marshal(m)
	}
	return nil, errors.Errorf("ProtoCodec: %T does not implement proto.Message", v)
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	switch m := v.(type) {
	case *message.Request:
		r := reader{data: data}
		m.ServiceName = r.string16()
		m.MethodName = r.string16()
		m.Payload = r.bytes32()
		return r.err
	case *message.Response:
		r := reader{data: data}
		m.Status = message.Status(r.byte())
		m.Error = r.string32()
		m.Payload = r.bytes32()
		return r.err
	case proto.Message:
		return proto.Unmarshal(data, m)
	}
	return errors.Errorf("ProtoCodec: %T does not implement proto.Message", v)
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}

// appendString16 expects len(s) <= math.MaxUint16; Encode checks.
func appendString16(buf []byte, s string) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendBytes32(buf []byte, b []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(b)))
	return append(buf, b...)
}

// reader walks a length-prefixed buffer and latches the first error.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if n < 0 || len(r.data)-r.off < n {
		r.err = errShortBuffer
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) byte() byte {
	b := r.take(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (r *reader) string16() string {
	l := r.take(2)
	if l == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint16(l))))
}

func (r *reader) string32() string {
	l := r.take(4)
	if l == nil {
		return ""
	}
	return string(r.take(int(binary.BigEndian.Uint32(l))))
}

func (r *reader) bytes32() []byte {
	l := r.take(4)
	if l == nil {
		return nil
	}
	b := r.take(int(binary.BigEndian.Uint32(l)))
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
