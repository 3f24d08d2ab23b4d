// Package protocol implements the binary frame protocol shared by client and server.
//
// Every frame is a fixed 15-byte header followed by a variable-length body. The
// receiver reads the header first to learn the body length, then reads exactly
// that many bytes, so frame boundaries survive TCP's byte-stream semantics.
//
// Frame format:
//
//	0      3  4  5  6  7         11        15
//	┌──────┬──┬──┬──┬──┬─────────┬─────────┬───────────────┐
//	│magic │v │ct│fl│mt│   seq   │ bodyLen │    body ...    │
//	│ mxr  │01│  │  │  │ uint32  │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴─────────┴─────────┴───────────────┘
//
// seq carries the CallId: a response frame repeats the seq of its request.
package protocol

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Magic number bytes: "mxr". Used to reject non-protocol peers early
// (e.g. an HTTP client hitting the RPC port).
const (
	MagicNumber byte = 0x6d // 'm'
	MagicByte2  byte = 0x78 // 'x'
	MagicByte3  byte = 0x72 // 'r'
	Version     byte = 0x01
	HeaderSize  int  = 15 // 3 (magic) + 1 (version) + 1 (codec) + 1 (flags) + 1 (msgType) + 4 (seq) + 4 (bodyLen)

	// DefaultMaxBodyLen bounds the allocation a single frame may demand.
	DefaultMaxBodyLen uint32 = 16 << 20
)

// MsgType distinguishes request, response, and heartbeat frames.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Client → Server call
	MsgTypeResponse  MsgType = 1 // Server → Client outcome
	MsgTypeHeartbeat MsgType = 2 // KeepAlive probe (no body)
)

func (t MsgType) String() string {
	switch t {
	case MsgTypeRequest:
		return "request"
	case MsgTypeResponse:
		return "response"
	case MsgTypeHeartbeat:
		return "heartbeat"
	}
	return "unknown"
}

// Codec type constants, mirrored from the codec package to avoid a circular import.
const (
	CodecTypeJSON  byte = 0
	CodecTypeProto byte = 1
)

// Flag bits.
const (
	FlagCompressed byte = 1 << 0 // body is snappy-compressed

	knownFlags = FlagCompressed
)

// ErrMalformedFrame is the cause of every header validation failure.
var ErrMalformedFrame = errors.New("malformed frame")

// Header represents the fixed frame header.
type Header struct {
	CodecType byte    // Serialization format of the body
	Flags     byte    // FlagCompressed, ...
	MsgType   MsgType // Request, Response, or Heartbeat
	Seq       uint32  // CallId: matches a response to its request
	BodyLen   uint32  // Body length in bytes (set by Encode)
}

// Encode writes a complete frame (header + body) to w with a single Write so
// that a frame is never split between concurrent writers sharing w. The
// header's BodyLen is taken from len(body).
func Encode(w io.Writer, h *Header, body []byte) error {
	buf := make([]byte, HeaderSize+len(body))

	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = h.Flags
	buf[6] = byte(h.MsgType)
	binary.BigEndian.PutUint32(buf[7:11], h.Seq)
	binary.BigEndian.PutUint32(buf[11:15], uint32(len(body)))
	copy(buf[HeaderSize:], body)

	_, err := w.Write(buf)
	return err
}

// Decode reads one frame from r, rejecting bodies above DefaultMaxBodyLen.
func Decode(r io.Reader) (*Header, []byte, error) {
	return DecodeLimit(r, DefaultMaxBodyLen)
}

// DecodeLimit reads one frame from r. It validates magic, version, codec,
// flags and message type, and refuses bodies longer than maxBodyLen. Validation
// failures wrap ErrMalformedFrame; I/O failures are returned as-is.
func DecodeLimit(r io.Reader, maxBodyLen uint32) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeProto {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported codec type: %d", headerBuf[4])
	}
	if headerBuf[5]&^knownFlags != 0 {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unknown flags: %08b", headerBuf[5])
	}
	msgType := MsgType(headerBuf[6])
	if msgType != MsgTypeRequest && msgType != MsgTypeResponse && msgType != MsgTypeHeartbeat {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "unsupported message type: %d", msgType)
	}

	seq := binary.BigEndian.Uint32(headerBuf[7:11])
	bodyLen := binary.BigEndian.Uint32(headerBuf[11:15])
	if maxBodyLen > 0 && bodyLen > maxBodyLen {
		return nil, nil, errors.Wrapf(ErrMalformedFrame, "body length %d exceeds limit %d", bodyLen, maxBodyLen)
	}

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	return &Header{
		CodecType: headerBuf[4],
		Flags:     headerBuf[5],
		MsgType:   msgType,
		Seq:       seq,
		BodyLen:   bodyLen,
	}, body, nil
}
