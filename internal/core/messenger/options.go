package messenger

import (
	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
)

const (
	DefaultMaxRetries       = 100
	DefaultReceiptRetention = 600
	DefaultPurgeInterval    = 16
	DefaultFormat           = codec.MsgPack
)

type Option func(*Messenger)

func WithTransport(t protocol.Transport) Option {
	return func(m *Messenger) { m.transport = t }
}

func WithDelegate(d Delegate) Option {
	return func(m *Messenger) { m.delegate = d }
}

func WithLogger(l log.Log) Option {
	return func(m *Messenger) {
		if l != nil {
			m.logger = l.With(log.String("component", "messenger"))
		}
	}
}

func WithDefaultFormat(f codec.Format) Option {
	return func(m *Messenger) { m.SetDefaultFormat(f) }
}

func WithMaxRetries(n uint32) Option {
	return func(m *Messenger) { m.SetMaxRetries(n) }
}

// WithReceiptRetention sets how many ticks a received message ID is
// remembered for duplicate suppression.
func WithReceiptRetention(ticks uint32) Option {
	return func(m *Messenger) { m.SetReceiptRetention(ticks) }
}

// WithPurgeInterval sets how often, in ticks, expired receipts are dropped.
func WithPurgeInterval(ticks uint32) Option {
	return func(m *Messenger) { m.SetPurgeInterval(ticks) }
}

func WithMetrics(o Observer) Option {
	return func(m *Messenger) { m.SetObserver(o) }
}
