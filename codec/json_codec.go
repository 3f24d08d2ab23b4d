package codec

import (
	"encoding/json"
)

var jsonNull = []byte("null")

// JSONCodec encodes envelopes and payloads with encoding/json. Envelope
// payloads are []byte and therefore travel base64-encoded inside the
// envelope object.
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

// Decode treats an empty input as JSON null, so a call sent without
// arguments decodes to the zero value.
func (c *JSONCodec) Decode(data []byte, v any) error {
	if len(data) == 0 {
		data = jsonNull
	}
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Type() CodecType {
	return CodecTypeJSON
}
