// Package codec encodes response bodies.
package codec

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/searchktools/blaze/core/http"
)

var (
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Codec defines the interface for encoding/decoding response bodies
type Codec interface {
	// Encode encodes a value to bytes
	Encode(v any) ([]byte, error)

	// Decode decodes bytes to a value
	Decode(data []byte, v any) error

	// Name returns the codec name
	Name() string

	// ContentType is the media type written with encoded bodies
	ContentType() string
}

// CodecType represents the codec type
type CodecType byte

const (
	CodecJSON     CodecType = 0x01
	CodecProtobuf CodecType = 0x03
)

// GetCodec returns a codec by type
func GetCodec(typ CodecType) (Codec, error) {
	switch typ {
	case CodecJSON:
		return &JSONCodec{}, nil
	case CodecProtobuf:
		return &ProtobufCodec{}, nil
	default:
		return nil, ErrUnsupportedCodec
	}
}

// Negotiate picks a codec from an Accept header value. JSON is the default.
func Negotiate(accept []byte) Codec {
	if bytes.Contains(accept, []byte(http.ContentTypeProtobuf)) {
		return &ProtobufCodec{}
	}
	return &JSONCodec{}
}

// Write encodes v with c and writes it as a complete response
func Write(w http.ResponseWriter, code int, c Codec, v any) error {
	body, err := c.Encode(v)
	if err != nil {
		return err
	}
	return http.WriteResponse(w, code, c.ContentType(), body)
}

// JSONCodec implements JSON encoding/decoding
type JSONCodec struct{}

func (c *JSONCodec) Encode(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (c *JSONCodec) Decode(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (c *JSONCodec) Name() string {
	return "json"
}

func (c *JSONCodec) ContentType() string {
	return http.ContentTypeJSON
}
