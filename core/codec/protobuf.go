package codec

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/searchktools/blaze/core/http"
)

// ProtobufCodec implements Protocol Buffers encoding/decoding.
//
// Values that are not proto.Message are sent as a google.protobuf.Struct built
// from their JSON form, so any JSON-encodable value has a protobuf rendering.
type ProtobufCodec struct{}

func (c *ProtobufCodec) Encode(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return proto.Marshal(msg)
	}
	s, err := ToStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

func (c *ProtobufCodec) Decode(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("value must implement proto.Message interface, got %T", v)
	}
	return proto.Unmarshal(data, msg)
}

func (c *ProtobufCodec) Name() string {
	return "protobuf"
}

func (c *ProtobufCodec) ContentType() string {
	return http.ContentTypeProtobuf
}

// ToStruct converts a JSON-encodable value whose JSON form is an object into
// a structpb.Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("protobuf: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protobuf: %T is not an object: %w", v, err)
	}
	return structpb.NewStruct(m)
}
