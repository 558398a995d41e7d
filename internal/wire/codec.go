package wire

import (
	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc/encoding"
)

// CodecName is the gRPC content-subtype the proxy speaks. Messages are plain
// Go structs serialised with json-iterator, so no generated protobuf code is
// required on either side.
const CodecName = "ojpjson"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return CodecName
}
