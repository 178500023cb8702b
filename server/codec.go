package server

import (
	"github.com/chazu/execue/pkg/bytecode"
)

// cborCodec carries service messages as canonical CBOR, the encoding the
// bytecode package uses for modules. Requests use Content-Type
// application/cbor.
type cborCodec struct{}

func (cborCodec) Name() string { return "cbor" }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return bytecode.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	return bytecode.Unmarshal(data, msg)
}
