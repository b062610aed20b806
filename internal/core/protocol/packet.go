package protocol

import (
	"fmt"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/value"
)

// EncodePacket frames elems as one array prefixed with the codec's format byte.
func EncodePacket(c codec.Codec, elems ...*value.Value) ([]byte, error) {
	body, err := c.Encode(value.Array(elems...))
	if err != nil {
		return nil, err
	}
	packet := make([]byte, 0, len(body)+1)
	packet = append(packet, c.Format().Byte())
	return append(packet, body...), nil
}

// DecodePacket splits a datagram into its codec and decoded body. Empty
// datagrams and unknown format bytes yield ErrUnknownFormat; anything the
// codec rejects is returned as the codec's *DecodeError together with the
// codec so the caller can report which grammar failed.
func DecodePacket(data []byte) (codec.Codec, *value.Value, error) {
	if len(data) == 0 {
		return nil, nil, ErrUnknownFormat
	}
	format, ok := codec.FormatFromByte(data[0])
	if !ok {
		return nil, nil, fmt.Errorf("%w: 0x%02x", ErrUnknownFormat, data[0])
	}
	c := codec.MustNew(format)
	v, err := c.Decode(data[1:])
	if err != nil {
		return c, nil, err
	}
	return c, v, nil
}

// Frame is a decoded packet body: [type, id, payload] or ["ack", id].
type Frame struct {
	Type    MessageType
	ID      uint32
	Payload *value.Value
}

// ParseFrame validates a decoded packet body. Anything that is not an array
// with a known type string and an in-range integer ID is ErrMalformedPacket.
func ParseFrame(body *value.Value) (Frame, error) {
	items, ok := body.AsArray()
	if !ok || len(items) == 0 {
		return Frame{}, ErrMalformedPacket
	}
	name, ok := items[0].AsString()
	if !ok {
		return Frame{}, fmt.Errorf("%w: type is %s", ErrMalformedPacket, items[0].Kind())
	}
	t, err := ParseMessageType(name)
	if err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedPacket, err)
	}

	minLen := 3
	if t == MessageTypeAck {
		minLen = 2
	}
	if len(items) < minLen {
		return Frame{}, fmt.Errorf("%w: %s needs %d elements, got %d", ErrMalformedPacket, t, minLen, len(items))
	}

	id, ok := items[1].AsInteger()
	if !ok || id < 0 || id > MaxMessageID {
		return Frame{}, fmt.Errorf("%w: %w: %s", ErrMalformedPacket, ErrInvalidMessageID, items[1].DebugString())
	}

	frame := Frame{Type: t, ID: uint32(id)}
	if t != MessageTypeAck {
		frame.Payload = items[2]
	}
	return frame, nil
}

// EncodeFrame is the inverse of ParseFrame.
func EncodeFrame(c codec.Codec, f Frame) ([]byte, error) {
	if f.Type == MessageTypeAck {
		return EncodeAck(c, f.ID)
	}
	payload := f.Payload
	if payload == nil {
		payload = value.Null()
	}
	return EncodePacket(c, value.String(f.Type.String()), value.Int(int(f.ID)), payload)
}

func EncodeAck(c codec.Codec, id uint32) ([]byte, error) {
	return EncodePacket(c, value.String(MessageTypeAck.String()), value.Int(int(id)))
}
