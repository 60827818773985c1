package remote

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec lets the remote control channel exchange plain Go structs over
// gRPC without a .proto/codegen step: the wire surface here is three small
// request/response shapes, not a public API worth maintaining stubs for.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
