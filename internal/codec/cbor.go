package codec

import (
	"io"

	"github.com/fxamacker/cbor/v2"
)

// CborMarshaler is the default wire marshaler.
type CborMarshaler struct{}

var _ Marshaler = CborMarshaler{}

func (CborMarshaler) Marshal(v any) ([]byte, error) {
	return cbor.Marshal(v)
}

func (CborMarshaler) NewEncoder(w io.Writer) Encoder {
	return cbor.NewEncoder(w)
}

// CborUnmarshaler is the default wire unmarshaler.
type CborUnmarshaler struct{}

var _ Unmarshaler = CborUnmarshaler{}

func (CborUnmarshaler) Unmarshal(data []byte, dst any) error {
	return cbor.Unmarshal(data, dst)
}

func (CborUnmarshaler) NewDecoder(r io.Reader) Decoder {
	return cbor.NewDecoder(r)
}
