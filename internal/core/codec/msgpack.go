package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/zeusync/datasync/internal/core/value"
)

type msgpackImpl struct{}

func (msgpackImpl) Format() Format {
	return MsgPack
}

func (msgpackImpl) Encode(v *value.Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeMsgpack(enc, v); err != nil {
		return nil, fmt.Errorf("%w: msgpack: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}

// Integral numbers use the compact integer encodings; everything else is a
// float64. Both decode to the same number value.
func encodeMsgpack(enc *msgpack.Encoder, v *value.Value) error {
	switch v.Kind() {
	case value.KindNumber:
		n, _ := v.AsNumber()
		if n == math.Trunc(n) && n >= math.MinInt64 && n < math.MaxInt64 {
			return enc.EncodeInt(int64(n))
		}
		return enc.EncodeFloat64(n)
	case value.KindBool:
		b, _ := v.AsBool()
		return enc.EncodeBool(b)
	case value.KindString:
		s, _ := v.AsString()
		return enc.EncodeString(s)
	case value.KindArray:
		items, _ := v.AsArray()
		if err := enc.EncodeArrayLen(len(items)); err != nil {
			return err
		}
		for _, item := range items {
			if err := encodeMsgpack(enc, item); err != nil {
				return err
			}
		}
		return nil
	case value.KindObject:
		keys := v.Keys()
		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			field, _ := v.Key(k)
			if err := encodeMsgpack(enc, field); err != nil {
				return err
			}
		}
		return nil
	default:
		return enc.EncodeNil()
	}
}

func (msgpackImpl) Decode(data []byte) (*value.Value, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)

	raw, err := dec.DecodeInterfaceLoose()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || r.Len() == 0 {
			return nil, decodeError(MsgPack, "end of buffer.")
		}
		return nil, decodeError(MsgPack, "%v", err)
	}

	if r.Len() > 0 {
		return nil, decodeError(MsgPack, "unexpected trailing data at offset %d", len(data)-r.Len())
	}

	v, err := value.FromGo(raw)
	if err != nil {
		return nil, decodeError(MsgPack, "%v", err)
	}
	return v, nil
}
