package protocol

import (
	"bytes"
	"io"
	"testing"

	"github.com/pkg/errors"
)

func TestEncodeDecode(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeRequest,
		Seq:       12345,
	}
	body := []byte("hello world")

	var buf bytes.Buffer
	if err := Encode(&buf, &header, body); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if buf.Len() != HeaderSize+len(body) {
		t.Fatalf("frame length: got %d, want %d", buf.Len(), HeaderSize+len(body))
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decodedHeader.CodecType != header.CodecType {
		t.Errorf("CodecType mismatch: got %d, want %d", decodedHeader.CodecType, header.CodecType)
	}
	if decodedHeader.MsgType != header.MsgType {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, header.MsgType)
	}
	if decodedHeader.Seq != header.Seq {
		t.Errorf("Seq mismatch: got %d, want %d", decodedHeader.Seq, header.Seq)
	}
	if decodedHeader.BodyLen != uint32(len(body)) {
		t.Errorf("BodyLen mismatch: got %d, want %d", decodedHeader.BodyLen, len(body))
	}
	if !bytes.Equal(decodedBody, body) {
		t.Errorf("Body mismatch: got %s, want %s", string(decodedBody), string(body))
	}
}

func TestDecodeInvalidMagic(t *testing.T) {
	invalidHeader := []byte{0x00, 0x00, 0x00, Version, CodecTypeJSON, 0, byte(MsgTypeRequest), 0x00, 0x00, 0x30, 0x39, 0x00, 0x00, 0x00, 0x0B}
	var buf bytes.Buffer
	buf.Write(invalidHeader)
	buf.Write([]byte("hello world"))

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("Expected error for invalid magic number, but got nil")
	}
	if errors.Cause(err) != ErrMalformedFrame {
		t.Errorf("expected ErrMalformedFrame cause, got %v", err)
	}
	if !bytes.Contains([]byte(err.Error()), []byte("invalid magic number")) {
		t.Errorf("Error message should contain 'invalid magic number', instead: %v", err)
	}
}

func TestDecodeEmptyBody(t *testing.T) {
	header := Header{
		CodecType: CodecTypeJSON,
		MsgType:   MsgTypeHeartbeat,
		Seq:       12345,
	}
	var buf bytes.Buffer
	if err := Encode(&buf, &header, nil); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	decodedHeader, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if decodedHeader.MsgType != MsgTypeHeartbeat {
		t.Errorf("MsgType mismatch: got %d, want %d", decodedHeader.MsgType, MsgTypeHeartbeat)
	}
	if decodedHeader.BodyLen != 0 {
		t.Errorf("BodyLen mismatch: got %d, want 0", decodedHeader.BodyLen)
	}
	if len(decodedBody) != 0 {
		t.Errorf("Expected empty body, got length %d", len(decodedBody))
	}
}

func TestDecodeInvalidVersion(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{
		MagicNumber, MagicByte2, MagicByte3,
		0xFF, // bad version
		CodecTypeJSON,
		0,
		byte(MsgTypeRequest),
		0, 0, 0, 1,
		0, 0, 0, 0,
	})

	_, _, err := Decode(&buf)
	if err == nil {
		t.Fatal("expected an error for an unsupported version")
	}
	if !bytes.Contains([]byte(err.Error()), []byte("unsupported version")) {
		t.Errorf("error should mention 'unsupported version', got: %v", err)
	}
}

func TestDecodeUnknownFlags(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{CodecType: CodecTypeJSON, Flags: 0x80, MsgType: MsgTypeRequest, Seq: 1}, []byte("x")); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Decode(&buf); errors.Cause(err) != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeBodyLimit(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{CodecType: CodecTypeProto, MsgType: MsgTypeRequest, Seq: 7}, make([]byte, 64)); err != nil {
		t.Fatal(err)
	}
	_, _, err := DecodeLimit(&buf, 32)
	if errors.Cause(err) != ErrMalformedFrame {
		t.Fatalf("expected ErrMalformedFrame, got %v", err)
	}
}

func TestDecodeTruncatedBody(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, &Header{CodecType: CodecTypeJSON, MsgType: MsgTypeResponse, Seq: 3}, []byte("complete body")); err != nil {
		t.Fatal(err)
	}
	truncated := bytes.NewReader(buf.Bytes()[:buf.Len()-4])
	if _, _, err := Decode(truncated); err != io.ErrUnexpectedEOF {
		t.Fatalf("expected io.ErrUnexpectedEOF, got %v", err)
	}
}

func TestDecodeLargeBody(t *testing.T) {
	var buf bytes.Buffer

	largeBody := make([]byte, 1024*1024)
	for i := range largeBody {
		largeBody[i] = byte(i % 256)
	}

	header := &Header{
		CodecType: CodecTypeProto,
		MsgType:   MsgTypeRequest,
		Seq:       999,
	}
	if err := Encode(&buf, header, largeBody); err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	_, decodedBody, err := Decode(&buf)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decodedBody, largeBody) {
		t.Errorf("large body mismatch")
	}
}

func TestCompressRoundTrip(t *testing.T) {
	body := bytes.Repeat([]byte("multiplexed "), 200)

	out, ok := Compress(body)
	if !ok {
		t.Fatal("expected repetitive body to compress")
	}
	if len(out) >= len(body) {
		t.Fatalf("compressed %d bytes into %d", len(body), len(out))
	}

	plain, err := Decompress(&Header{Flags: FlagCompressed}, out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(plain, body) {
		t.Fatal("decompressed body mismatch")
	}
}

func TestCompressSkipsIncompressible(t *testing.T) {
	body := []byte{0x01}
	out, ok := Compress(body)
	if ok {
		t.Fatal("single byte should not be reported as compressed")
	}
	if !bytes.Equal(out, body) {
		t.Fatal("uncompressed body must be returned unchanged")
	}

	same, err := Decompress(&Header{}, body)
	if err != nil || !bytes.Equal(same, body) {
		t.Fatalf("Decompress without flag must be identity, got %v %v", same, err)
	}
}
