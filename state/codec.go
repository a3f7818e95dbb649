package state

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cbor decoder: %v", err))
	}
}

func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

func NewEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func NewDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}

// EncodePacket serializes a packet for byte oriented transports.
func EncodePacket(pkt *NetPacket) ([]byte, error) {
	return Marshal(pkt)
}

// DecodePacket parses and validates a packet received from a byte oriented transport.
func DecodePacket(data []byte) (*NetPacket, error) {
	pkt := &NetPacket{}
	if err := Unmarshal(data, pkt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}
	if err := pkt.Validate(); err != nil {
		return nil, err
	}
	return pkt, nil
}

// DecodeBody converts a payload into T. In-process transports hand over the original value,
// wire transports deliver generic maps, which are round-tripped through the codec.
func DecodeBody[T any](body any) (T, error) {
	var out T
	switch v := body.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}
	data, err := Marshal(body)
	if err != nil {
		return out, err
	}
	if err = Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode %T: %w", out, err)
	}
	return out, nil
}
