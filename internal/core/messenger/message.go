package messenger

import (
	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

// Message is something the messenger can deliver reliably. Payload is
// encoded on every transmission, so it reflects the latest state of the
// message at retry time. Info describes the message for cancellation
// predicates and is never sent.
type Message interface {
	Type() protocol.MessageType
	Payload() *value.Value
	Info() *value.Value
}

// SendSucceededHandler is implemented by messages that want to know when the
// destination acknowledged them.
type SendSucceededHandler interface {
	OnSendSucceeded()
}

// SendFailedHandler is implemented by messages that want to know when retries
// ran out.
type SendFailedHandler interface {
	OnSendFailed()
}

// CancelledHandler is implemented by messages that want to know when they
// were cancelled.
type CancelledHandler interface {
	OnCancelled()
}

// Incoming is a received data message.
type Incoming struct {
	From    protocol.Endpoint
	Type    protocol.MessageType
	ID      uint32
	Payload *value.Value
	Format  codec.Format
}

// Delegate receives messenger events. Nil fields are skipped.
type Delegate struct {
	OnMessageReceived  func(in Incoming)
	OnMessageEmitted   func(msg Message, id uint32)
	OnAckReceived      func(id uint32)
	OnMessageDiscarded func(id uint32)
	OnDecodeFailed     func(err error, format codec.Format)
	OnMessageCancelled func(id uint32)
}

// Observer counts messenger traffic. The metrics package provides the
// Prometheus implementation.
type Observer interface {
	MessageSent(t protocol.MessageType)
	MessageRetransmitted(t protocol.MessageType)
	AckReceived()
	MessageDiscarded()
	MessageCancelled()
	MessageReceived(t protocol.MessageType)
	DuplicateReceived()
	DecodeFailed(f codec.Format)
	ActiveMessages(n int)
}

type nopObserver struct{}

func (nopObserver) MessageSent(protocol.MessageType)          {}
func (nopObserver) MessageRetransmitted(protocol.MessageType) {}
func (nopObserver) AckReceived()                              {}
func (nopObserver) MessageDiscarded()                         {}
func (nopObserver) MessageCancelled()                         {}
func (nopObserver) MessageReceived(protocol.MessageType)      {}
func (nopObserver) DuplicateReceived()                        {}
func (nopObserver) DecodeFailed(codec.Format)                 {}
func (nopObserver) ActiveMessages(int)                        {}

// Func is a plain message with a fixed type and payload. The callbacks are
// optional.
type Func struct {
	MessageType protocol.MessageType
	Data        *value.Value
	Meta        *value.Value

	Succeeded func()
	Failed    func()
	Cancelled func()
}

var (
	_ SendSucceededHandler = (*Func)(nil)
	_ SendFailedHandler    = (*Func)(nil)
	_ CancelledHandler     = (*Func)(nil)
)

// NewMessage returns an application "msg" carrying payload.
func NewMessage(payload *value.Value) *Func {
	return &Func{MessageType: protocol.MessageTypeMsg, Data: payload}
}

func (f *Func) Type() protocol.MessageType {
	return f.MessageType
}

func (f *Func) Payload() *value.Value {
	if f.Data == nil {
		return value.Null()
	}
	return f.Data
}

func (f *Func) Info() *value.Value {
	if f.Meta != nil {
		return f.Meta
	}
	return value.Array(value.String(f.MessageType.String()))
}

func (f *Func) OnSendSucceeded() {
	if f.Succeeded != nil {
		f.Succeeded()
	}
}

func (f *Func) OnSendFailed() {
	if f.Failed != nil {
		f.Failed()
	}
}

func (f *Func) OnCancelled() {
	if f.Cancelled != nil {
		f.Cancelled()
	}
}
