package synchronizer

import (
	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
)

type Option func(*Engine)

func WithTransport(t protocol.Transport) Option {
	return func(e *Engine) { e.messenger.SetTransport(t) }
}

func WithLogger(l log.Log) Option {
	return func(e *Engine) {
		if l == nil {
			return
		}
		e.base = l
		e.logger = l.With(log.String("component", "synchronizer"))
		e.messenger.SetLogger(l)
	}
}

func WithDefaultFormat(f codec.Format) Option {
	return func(e *Engine) { e.messenger.SetDefaultFormat(f) }
}

func WithMaxRetries(n uint32) Option {
	return func(e *Engine) { e.messenger.SetMaxRetries(n) }
}

func WithReceiptRetention(ticks uint32) Option {
	return func(e *Engine) { e.messenger.SetReceiptRetention(ticks) }
}

func WithPurgeInterval(ticks uint32) Option {
	return func(e *Engine) { e.messenger.SetPurgeInterval(ticks) }
}

func WithMetrics(m Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
		e.messenger.SetObserver(m)
	}
}

func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

func WithGroupName(name string) Option {
	return func(e *Engine) {
		e.groupName = name
		e.groupHash = GroupHashFor(name)
	}
}

// WithInstanceID sets the identifier advertised in the discovery id record.
// Scan answers carrying it are our own and ignored.
func WithInstanceID(id string) Option {
	return func(e *Engine) { e.instanceID = id }
}

// WithDiscovery attaches a discovery responder. Nothing is advertised until
// StartDiscovery.
func WithDiscovery(iface discovery.Interface, hostname string, port uint16, opts ...discovery.SchedulerOption) Option {
	return func(e *Engine) {
		e.hostname = hostname
		e.port = port
		e.discoveryIface = iface
		e.schedulerOpts = opts
	}
}
