package daemon

import (
	"bytes"
	"fmt"

	"go.trai.ch/xnail/internal/core/domain"
	"go.trai.ch/zerr"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/encoding/protowire"
)

// codecName is the gRPC content subtype of the daemon protocol.
const codecName = "xnail"

// wireMessage is a daemon protocol message in protobuf wire format.
type wireMessage interface {
	marshalWire() []byte
	unmarshalWire(b []byte) error
}

type codec struct{}

func init() {
	encoding.RegisterCodec(codec{})
}

func (codec) Name() string {
	return codecName
}

func (codec) Marshal(v any) ([]byte, error) {
	m, ok := v.(wireMessage)
	if !ok {
		return nil, zerr.With(zerr.Wrap(domain.ErrProtocolViolation, "cannot marshal message"), "type", fmt.Sprintf("%T", v))
	}
	return m.marshalWire(), nil
}

func (codec) Unmarshal(data []byte, v any) error {
	m, ok := v.(wireMessage)
	if !ok {
		return zerr.With(zerr.Wrap(domain.ErrProtocolViolation, "cannot unmarshal message"), "type", fmt.Sprintf("%T", v))
	}
	return m.unmarshalWire(data)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, m wireMessage) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.marshalWire())
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendInt(b []byte, num protowire.Number, v int64) []byte {
	return appendVarint(b, num, uint64(v)) //nolint:gosec // two's complement, as protobuf int64
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

// fieldFunc decodes the value of one field from b and returns the number of
// bytes consumed: zero skips the field, a negative value is a protowire error code.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) int

func walkFields(b []byte, field fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return zerr.Wrap(protowire.ParseError(n), "malformed message")
		}
		b = b[n:]

		n = field(num, typ, b)
		if n == 0 {
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return zerr.With(zerr.Wrap(protowire.ParseError(n), "malformed field"), "field", int(num))
		}
		b = b[n:]
	}
	return nil
}

func consumeString(typ protowire.Type, b []byte, dst *string) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeString(b)
	if n >= 0 {
		*dst = v
	}
	return n
}

// consumeBytes copies the value; the codec's input buffer may be reused.
func consumeBytes(typ protowire.Type, b []byte, dst *[]byte) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n >= 0 {
		*dst = bytes.Clone(v)
	}
	return n
}

func consumeInt(typ protowire.Type, b []byte, dst *int64) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = int64(v) //nolint:gosec // two's complement, as protobuf int64
	}
	return n
}

func consumeBool(typ protowire.Type, b []byte, dst *bool) int {
	if typ != protowire.VarintType {
		return 0
	}
	v, n := protowire.ConsumeVarint(b)
	if n >= 0 {
		*dst = protowire.DecodeBool(v)
	}
	return n
}

func consumeMessage(typ protowire.Type, b []byte, dst wireMessage) int {
	if typ != protowire.BytesType {
		return 0
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return n
	}
	if err := dst.unmarshalWire(v); err != nil {
		return -1
	}
	return n
}
