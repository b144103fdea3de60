package grpc

import (
	"github.com/fxamacker/cbor/v2"
	"google.golang.org/grpc/encoding"
)

// CodecName is the content subtype clients must request.
const CodecName = "cbor"

// cborCodec carries the service messages as CBOR instead of protobuf.
type cborCodec struct{}

func (cborCodec) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (cborCodec) Unmarshal(data []byte, v any) error {
	return cbor.Unmarshal(data, v)
}

func (cborCodec) Name() string { return CodecName }

// Codec returns the codec used on both ends of the connection.
func Codec() encoding.Codec { return cborCodec{} }

func init() {
	encoding.RegisterCodec(cborCodec{})
}
