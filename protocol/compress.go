package protocol

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Compress snappy-encodes body. When compression does not shrink the body the
// original is returned with ok=false and the frame should go out uncompressed.
func Compress(body []byte) (out []byte, ok bool) {
	if len(body) == 0 {
		return body, false
	}
	enc := snappy.Encode(nil, body)
	if len(enc) >= len(body) {
		return body, false
	}
	return enc, true
}

// Decompress undoes Compress when h carries FlagCompressed.
func Decompress(h *Header, body []byte) ([]byte, error) {
	if h.Flags&FlagCompressed == 0 {
		return body, nil
	}
	out, err := snappy.Decode(nil, body)
	if err != nil {
		return nil, errors.Wrap(err, "snappy decode")
	}
	return out, nil
}
