package handlers

import (
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	jsoncodec "github.com/drblury/protobus/internal/runtime/jsoncodec"
)

// EncodeResult serialises a handler's return value for the response envelope.
// Protobuf messages use protojson, everything else the JSON codec.
func EncodeResult(v any) (jsoncodec.RawMessage, error) {
	if msg, ok := v.(proto.Message); ok && !isNilProto(msg) {
		data, err := protojson.Marshal(msg)
		if err != nil {
			return nil, err
		}
		return jsoncodec.RawMessage(data), nil
	}
	return jsoncodec.MarshalRaw(v)
}
