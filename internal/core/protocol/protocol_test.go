package protocol

import (
	"errors"
	"net"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/value"
)

func TestEndpoint(t *testing.T) {
	ep, err := ParseEndpoint("192.168.1.10:4210")
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.10:4210", ep.String())
	assert.Equal(t, uint16(4210), ep.Port)

	mapped := EndpointFromAddrPort(netip.MustParseAddrPort("[::ffff:192.168.1.10]:4210"))
	assert.Equal(t, ep, mapped)

	fromUDP, ok := EndpointFromUDPAddr(&net.UDPAddr{IP: net.ParseIP("192.168.1.10"), Port: 4210})
	require.True(t, ok)
	assert.Equal(t, ep, fromUDP)
	assert.Equal(t, 4210, ep.UDPAddr().Port)

	_, err = ParseEndpoint("not-an-endpoint")
	assert.ErrorIs(t, err, ErrInvalidAddress)

	other := MustParseEndpoint("192.168.1.10:4211")
	assert.Negative(t, ep.Compare(other))
	assert.Zero(t, ep.Compare(ep))

	m := map[Endpoint]int{ep: 1}
	m[fromUDP]++
	assert.Equal(t, 2, m[ep])

	var decoded Endpoint
	require.NoError(t, decoded.UnmarshalText([]byte("[::1]:80")))
	assert.Equal(t, "[::1]:80", decoded.String())
}

func TestMessageTypes(t *testing.T) {
	for _, mt := range []MessageType{MessageTypeMsg, MessageTypeSync, MessageTypeDereg, MessageTypeReqInitSync, MessageTypeAck} {
		parsed, err := ParseMessageType(mt.String())
		require.NoError(t, err)
		assert.Equal(t, mt, parsed)
	}
	assert.Equal(t, "req_init_sync", MessageTypeReqInitSync.String())
	assert.False(t, MessageTypeAck.IsData())
	assert.True(t, MessageTypeDereg.IsData())

	_, err := ParseMessageType("hello")
	assert.ErrorIs(t, err, ErrUnknownType)

	assert.Equal(t, uint32(0), NextMessageID(MaxMessageID))
	assert.Equal(t, uint32(8), NextMessageID(7))
}

func TestPacketRoundTrip(t *testing.T) {
	for _, f := range codec.Formats() {
		c := codec.MustNew(f)
		frame := Frame{Type: MessageTypeSync, ID: 42, Payload: value.Array(value.Number(3735928559), value.String("temp"), value.Int(21))}

		data, err := EncodeFrame(c, frame)
		require.NoError(t, err)
		assert.Equal(t, f.Byte(), data[0])

		got, body, err := DecodePacket(data)
		require.NoError(t, err)
		assert.Equal(t, f, got.Format())

		parsed, err := ParseFrame(body)
		require.NoError(t, err)
		assert.Equal(t, frame.Type, parsed.Type)
		assert.Equal(t, frame.ID, parsed.ID)
		assert.True(t, frame.Payload.Equal(parsed.Payload))
	}
}

func TestAckShape(t *testing.T) {
	data, err := EncodeAck(codec.NewJSON(), 7)
	require.NoError(t, err)
	assert.Equal(t, "\x01[\"ack\",7]", string(data))

	_, body, err := DecodePacket(data)
	require.NoError(t, err)
	frame, err := ParseFrame(body)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeAck, frame.Type)
	assert.Nil(t, frame.Payload)
}

func TestDecodePacketErrors(t *testing.T) {
	_, _, err := DecodePacket(nil)
	assert.ErrorIs(t, err, ErrUnknownFormat)

	_, _, err = DecodePacket([]byte("{\"a\":1}"))
	assert.ErrorIs(t, err, ErrUnknownFormat)

	c, v, err := DecodePacket([]byte("\x01[1,"))
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrUnknownFormat))
	assert.ErrorIs(t, err, codec.ErrDecode)
	assert.Nil(t, v)
	require.NotNil(t, c)
	assert.Equal(t, codec.JSON, c.Format())
}

func TestParseFrameRejects(t *testing.T) {
	cases := map[string]*value.Value{
		"not an array":    value.String("msg"),
		"empty":           value.Array(),
		"numeric type":    value.Array(value.Int(1), value.Int(2), value.Null()),
		"unknown type":    value.Array(value.String("hello"), value.Int(2), value.Null()),
		"short data":      value.Array(value.String("sync"), value.Int(2)),
		"short ack":       value.Array(value.String("ack")),
		"negative id":     value.Array(value.String("ack"), value.Int(-1)),
		"id out of range": value.Array(value.String("msg"), value.Int(MaxMessageID+1), value.Null()),
		"string id":       value.Array(value.String("msg"), value.String("1"), value.Null()),
		"fractional id":   value.Array(value.String("ack"), value.Number(1.5)),
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFrame(body)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}

	_, err := ParseFrame(value.Array(value.String("ack"), value.Int(-1)))
	assert.ErrorIs(t, err, ErrInvalidMessageID)
}

func TestErrorCodes(t *testing.T) {
	err := WrapError(ErrTransportClosed, "send")
	assert.Equal(t, ErrorCodeTransportClosed, err.Code)
	assert.True(t, err.IsFatal())
	assert.ErrorIs(t, err, ErrTransportClosed)
	assert.Equal(t, "send: transport is closed", err.Error())

	wrapped := WrapError(errors.Join(errors.New("io"), ErrInboxFull), "receive")
	assert.Equal(t, ErrorCodeInboxFull, wrapped.Code)
	assert.True(t, wrapped.IsTemporary())

	assert.Equal(t, ErrorCodeUnknownError, GetErrorCode(errors.New("other")))
	assert.Equal(t, ErrorCodeDialFailed, GetErrorCode(NewProtocolError(ErrorCodeDialFailed, "dial", nil).WithContext("peer", "x")))
}
