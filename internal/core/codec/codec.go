// Package codec maps values to and from their wire encodings. Each codec is a
// stateless strategy identified by a one-byte format tag that prefixes every
// datagram.
package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/zeusync/datasync/internal/core/value"
)

// Format is the leading byte of a wire packet.
type Format uint8

const (
	JSON    Format = 0x01
	MsgPack Format = 0x02
)

var (
	ErrDecode        = errors.New("decode failed")
	ErrEncode        = errors.New("encode failed")
	ErrUnknownFormat = errors.New("unknown format")
)

func (f Format) Byte() byte {
	return byte(f)
}

func (f Format) String() string {
	switch f {
	case JSON:
		return "json"
	case MsgPack:
		return "msgpack"
	default:
		return fmt.Sprintf("format(0x%02x)", uint8(f))
	}
}

func (f Format) Valid() bool {
	return f == JSON || f == MsgPack
}

// FormatFromByte reports which format a packet's first byte announces.
func FormatFromByte(b byte) (Format, bool) {
	f := Format(b)
	return f, f.Valid()
}

func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return JSON, nil
	case "msgpack", "messagepack":
		return MsgPack, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, s)
	}
}

// Codec encodes and decodes values. Decode never panics: malformed input is
// reported as a *DecodeError wrapping ErrDecode.
type Codec interface {
	Encode(v *value.Value) ([]byte, error)
	Decode(data []byte) (*value.Value, error)
	Format() Format
}

// DecodeError carries the underlying grammar's diagnostic.
type DecodeError struct {
	Format Format
	Msg    string
}

func (e *DecodeError) Error() string {
	return e.Msg
}

func (e *DecodeError) Unwrap() error {
	return ErrDecode
}

func decodeError(f Format, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if msg == "" {
		msg = "malformed input"
	}
	return &DecodeError{Format: f, Msg: msg}
}

var (
	jsonCodec    Codec = jsonImpl{}
	msgpackCodec Codec = msgpackImpl{}
)

// New returns the codec for f.
func New(f Format) (Codec, error) {
	switch f {
	case JSON:
		return jsonCodec, nil
	case MsgPack:
		return msgpackCodec, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, f)
	}
}

func MustNew(f Format) Codec {
	c, err := New(f)
	if err != nil {
		panic(err)
	}
	return c
}

// NewJSON and NewMsgPack are shorthands for New with a known-good format.
func NewJSON() Codec    { return jsonCodec }
func NewMsgPack() Codec { return msgpackCodec }

// Formats lists every supported format.
func Formats() []Format {
	return []Format{JSON, MsgPack}
}
