// Package messenger provides at-least-once delivery over an unreliable
// datagram transport. Outbound messages are retransmitted every tick until
// acknowledged or out of retries; inbound messages are acknowledged and
// delivered at most once per sender and ID within the receipt retention.
//
// A Messenger is not safe for concurrent use. It is driven by two calls:
// Heartbeat, as often as possible, and Tick, every 100 ms.
package messenger

import (
	"errors"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

type activeMessage struct {
	msg         Message
	dst         protocol.Endpoint
	codec       codec.Codec
	id          uint32
	retriesLeft uint32
}

type receiptKey struct {
	from protocol.Endpoint
	id   uint32
}

// ActiveInfo describes an unacknowledged message.
type ActiveInfo struct {
	ID          uint32
	Destination protocol.Endpoint
	Type        protocol.MessageType
	Format      codec.Format
	RetriesLeft uint32
}

type Messenger struct {
	transport protocol.Transport
	delegate  Delegate
	observer  Observer
	logger    log.Log

	defaultCodec  codec.Codec
	maxRetries    uint32
	retention     uint32
	purgeInterval uint32

	nextID   uint32
	active   []*activeMessage
	receipts map[receiptKey]uint32
	ticks    uint32
}

func New(opts ...Option) *Messenger {
	m := &Messenger{
		observer:      nopObserver{},
		logger:        log.Provide().With(log.String("component", "messenger")),
		defaultCodec:  codec.MustNew(DefaultFormat),
		maxRetries:    DefaultMaxRetries,
		retention:     DefaultReceiptRetention,
		purgeInterval: DefaultPurgeInterval,
		receipts:      make(map[receiptKey]uint32),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Messenger) SetTransport(t protocol.Transport) {
	m.transport = t
}

func (m *Messenger) SetDelegate(d Delegate) {
	m.delegate = d
}

func (m *Messenger) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	m.observer = o
}

func (m *Messenger) SetLogger(l log.Log) {
	if l != nil {
		m.logger = l.With(log.String("component", "messenger"))
	}
}

// SetDefaultFormat changes the codec used by Send. Unknown formats are ignored.
func (m *Messenger) SetDefaultFormat(f codec.Format) {
	c, err := codec.New(f)
	if err != nil {
		m.logger.Warn("Ignoring unknown default format", log.Stringer("format", f))
		return
	}
	m.defaultCodec = c
}

func (m *Messenger) DefaultFormat() codec.Format {
	return m.defaultCodec.Format()
}

func (m *Messenger) SetMaxRetries(n uint32) {
	if n == 0 {
		n = 1
	}
	m.maxRetries = n
}

func (m *Messenger) MaxRetries() uint32 {
	return m.maxRetries
}

func (m *Messenger) SetReceiptRetention(ticks uint32) {
	m.retention = ticks
}

func (m *Messenger) SetPurgeInterval(ticks uint32) {
	if ticks == 0 {
		ticks = 1
	}
	m.purgeInterval = ticks
}

// Send delivers msg to dst with the default retry budget and codec.
func (m *Messenger) Send(msg Message, dst protocol.Endpoint) uint32 {
	return m.SendWith(msg, dst, m.maxRetries, m.defaultCodec)
}

// SendWith transmits msg once immediately and keeps it active until it is
// acknowledged, cancelled, or has been transmitted maxRetries times without
// an ack. Zero retries is treated as one. A nil codec uses the default.
//
// It panics with ErrTransportNotConfigured when no transport is set.
func (m *Messenger) SendWith(msg Message, dst protocol.Endpoint, maxRetries uint32, c codec.Codec) uint32 {
	if m.transport == nil {
		panic(protocol.ErrTransportNotConfigured)
	}
	if maxRetries == 0 {
		maxRetries = 1
	}
	if c == nil {
		c = m.defaultCodec
	}

	am := &activeMessage{
		msg:         msg,
		dst:         dst,
		codec:       c,
		id:          m.nextID,
		retriesLeft: maxRetries - 1,
	}
	m.nextID = protocol.NextMessageID(m.nextID)
	m.active = append(m.active, am)

	m.transmit(am)

	m.observer.MessageSent(msg.Type())
	m.observer.ActiveMessages(len(m.active))
	if m.delegate.OnMessageEmitted != nil {
		m.delegate.OnMessageEmitted(msg, am.id)
	}
	return am.id
}

func (m *Messenger) transmit(am *activeMessage) bool {
	data, err := protocol.EncodeFrame(am.codec, protocol.Frame{
		Type:    am.msg.Type(),
		ID:      am.id,
		Payload: am.msg.Payload(),
	})
	if err != nil {
		m.logger.Error("Failed to encode message",
			log.Uint32("id", am.id),
			log.Stringer("type", am.msg.Type()),
			log.Error(err))
		return false
	}

	ok := m.transport.Send(am.dst, data)
	m.logger.Debug("Message transmitted",
		log.Uint32("id", am.id),
		log.Stringer("type", am.msg.Type()),
		log.Stringer("to", am.dst),
		log.Uint32("retries_left", am.retriesLeft),
		log.Bool("ok", ok))
	return ok
}

// Tick advances the retry clock by one 100 ms step: every active message is
// retransmitted, and messages whose retries are spent are discarded.
func (m *Messenger) Tick() {
	m.ticks++

	var failed []*activeMessage
	kept := m.active[:0]
	for _, am := range m.active {
		if am.retriesLeft == 0 {
			failed = append(failed, am)
			continue
		}
		if m.transport != nil {
			m.transmit(am)
		}
		am.retriesLeft--
		m.observer.MessageRetransmitted(am.msg.Type())
		kept = append(kept, am)
	}
	clear(m.active[len(kept):])
	m.active = kept

	for _, am := range failed {
		m.logger.Info("Message discarded after retries ran out",
			log.Uint32("id", am.id),
			log.Stringer("type", am.msg.Type()),
			log.Stringer("to", am.dst))
		m.observer.MessageDiscarded()
		if h, ok := am.msg.(SendFailedHandler); ok {
			h.OnSendFailed()
		}
		if m.delegate.OnMessageDiscarded != nil {
			m.delegate.OnMessageDiscarded(am.id)
		}
	}

	if m.ticks%m.purgeInterval == 0 {
		m.purgeReceipts()
	}
	m.observer.ActiveMessages(len(m.active))
}

func (m *Messenger) purgeReceipts() {
	for key, at := range m.receipts {
		if m.ticks-at > m.retention {
			delete(m.receipts, key)
		}
	}
}

// Heartbeat processes at most one received packet.
func (m *Messenger) Heartbeat() {
	if m.transport == nil || !m.transport.HasIncoming() {
		return
	}
	p, ok := m.transport.Receive()
	if !ok {
		return
	}
	m.handlePacket(p)
}

func (m *Messenger) handlePacket(p protocol.Packet) {
	c, body, err := protocol.DecodePacket(p.Data)
	if err != nil {
		if errors.Is(err, protocol.ErrUnknownFormat) {
			m.logger.Debug("Dropping packet with unknown format", log.Stringer("from", p.From), log.Int("size", len(p.Data)))
			return
		}
		m.logger.Warn("Failed to decode packet",
			log.Stringer("from", p.From),
			log.Stringer("format", c.Format()),
			log.Error(err))
		m.observer.DecodeFailed(c.Format())
		if m.delegate.OnDecodeFailed != nil {
			m.delegate.OnDecodeFailed(err, c.Format())
		}
		return
	}

	frame, err := protocol.ParseFrame(body)
	if err != nil {
		m.logger.Debug("Ignoring malformed packet", log.Stringer("from", p.From), log.Error(err))
		return
	}

	if frame.Type == protocol.MessageTypeAck {
		m.handleAck(frame.ID)
		return
	}

	m.sendAck(frame.ID, p.From, c)

	key := receiptKey{from: p.From, id: frame.ID}
	_, seen := m.receipts[key]
	m.receipts[key] = m.ticks
	if seen {
		m.logger.Debug("Duplicate message suppressed", log.Stringer("from", p.From), log.Uint32("id", frame.ID))
		m.observer.DuplicateReceived()
		return
	}

	m.logger.Debug("Message received",
		log.Stringer("from", p.From),
		log.Stringer("type", frame.Type),
		log.Uint32("id", frame.ID))
	m.observer.MessageReceived(frame.Type)
	if m.delegate.OnMessageReceived != nil {
		m.delegate.OnMessageReceived(Incoming{
			From:    p.From,
			Type:    frame.Type,
			ID:      frame.ID,
			Payload: frame.Payload,
			Format:  c.Format(),
		})
	}
}

func (m *Messenger) sendAck(id uint32, dst protocol.Endpoint, c codec.Codec) {
	data, err := protocol.EncodeAck(c, id)
	if err != nil {
		m.logger.Error("Failed to encode ack", log.Uint32("id", id), log.Error(err))
		return
	}
	if !m.transport.Send(dst, data) {
		m.logger.Debug("Ack send failed", log.Uint32("id", id), log.Stringer("to", dst))
	}
}

func (m *Messenger) handleAck(id uint32) {
	var acked []*activeMessage
	kept := m.active[:0]
	for _, am := range m.active {
		if am.id == id {
			acked = append(acked, am)
			continue
		}
		kept = append(kept, am)
	}
	clear(m.active[len(kept):])
	m.active = kept

	if len(acked) == 0 {
		m.logger.Debug("Ack for unknown message", log.Uint32("id", id))
		return
	}

	for _, am := range acked {
		m.logger.Debug("Ack received", log.Uint32("id", id), log.Stringer("from", am.dst))
		m.observer.AckReceived()
		if h, ok := am.msg.(SendSucceededHandler); ok {
			h.OnSendSucceeded()
		}
		if m.delegate.OnAckReceived != nil {
			m.delegate.OnAckReceived(id)
		}
	}
	m.observer.ActiveMessages(len(m.active))
}

// CancelActiveMessages removes every active message whose Info matches pred
// and returns how many were removed.
func (m *Messenger) CancelActiveMessages(pred func(info *value.Value) bool) int {
	var cancelled []*activeMessage
	kept := m.active[:0]
	for _, am := range m.active {
		if pred(am.msg.Info()) {
			cancelled = append(cancelled, am)
			continue
		}
		kept = append(kept, am)
	}
	clear(m.active[len(kept):])
	m.active = kept

	for _, am := range cancelled {
		m.logger.Debug("Message cancelled", log.Uint32("id", am.id), log.Stringer("to", am.dst))
		m.observer.MessageCancelled()
		if h, ok := am.msg.(CancelledHandler); ok {
			h.OnCancelled()
		}
		if m.delegate.OnMessageCancelled != nil {
			m.delegate.OnMessageCancelled(am.id)
		}
	}
	if len(cancelled) > 0 {
		m.observer.ActiveMessages(len(m.active))
	}
	return len(cancelled)
}

func (m *Messenger) ActiveCount() int {
	return len(m.active)
}

func (m *Messenger) ActiveMessages() []ActiveInfo {
	out := make([]ActiveInfo, len(m.active))
	for i, am := range m.active {
		out[i] = ActiveInfo{
			ID:          am.id,
			Destination: am.dst,
			Type:        am.msg.Type(),
			Format:      am.codec.Format(),
			RetriesLeft: am.retriesLeft,
		}
	}
	return out
}

// ReceiptCount is the number of remembered inbound message IDs.
func (m *Messenger) ReceiptCount() int {
	return len(m.receipts)
}

// Ticks is the number of Tick calls so far.
func (m *Messenger) Ticks() uint32 {
	return m.ticks
}
