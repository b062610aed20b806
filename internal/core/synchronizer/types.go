package synchronizer

import (
	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/messenger"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

// Synchronizable is a named piece of state replicated to every peer. Apply
// reports whether the value was accepted.
type Synchronizable interface {
	Name() string
	ToValue() *value.Value
	Apply(v *value.Value) bool
}

// Delegate creates the set of objects tracked for a newly registered peer.
type Delegate interface {
	NewPeerObjects() []Synchronizable
}

// DelegateFunc adapts a function to Delegate.
type DelegateFunc func() []Synchronizable

func (f DelegateFunc) NewPeerObjects() []Synchronizable {
	return f()
}

// Observer receives engine events. Nil fields are skipped.
type Observer struct {
	OnMessageReceived  func(in messenger.Incoming)
	OnMessageEmitted   func(msg messenger.Message, id uint32)
	OnAckReceived      func(id uint32)
	OnMessageDiscarded func(id uint32)
	OnDecodeFailed     func(err error, format codec.Format)
	OnPeerAdded        func(peer protocol.Endpoint)
	OnPeerRemoved      func(peer protocol.Endpoint)
	OnObjectApplied    func(peer protocol.Endpoint, name string)
}

// Metrics extends the messenger's traffic counters with the peer count.
type Metrics interface {
	messenger.Observer
	Peers(n int)
}

// PeerInfo is what discovery learned about a peer.
type PeerInfo struct {
	Hostname   string
	AnswerText string
}

func (i PeerInfo) String() string {
	return "Hostname: " + i.Hostname + ", Answer: " + i.AnswerText
}
