// Package simnet is an in-memory datagram network with configurable packet
// loss. It is deterministic for a given seed and is used to drive messengers
// and engines through lossy conditions without sockets.
package simnet

import (
	"math/rand"
	"sync"

	"github.com/zeusync/datasync/internal/core/protocol"
)

type Option func(*Network)

func WithLossRate(p float64) Option {
	return func(n *Network) {
		n.lossRate = clampRate(p)
	}
}

func WithSeed(seed int64) Option {
	return func(n *Network) {
		n.rng = rand.New(rand.NewSource(seed))
	}
}

// Network routes packets between attached interfaces.
type Network struct {
	mu       sync.Mutex
	rng      *rand.Rand
	lossRate float64
	nodes    map[protocol.Endpoint]*Interface

	sent    map[protocol.Endpoint]int
	dropped int
}

func New(opts ...Option) *Network {
	n := &Network{
		rng:   rand.New(rand.NewSource(1)),
		nodes: make(map[protocol.Endpoint]*Interface),
		sent:  make(map[protocol.Endpoint]int),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

func (n *Network) SetLossRate(p float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lossRate = clampRate(p)
}

// Attach registers ep and returns its transport. Attaching the same endpoint
// twice returns the existing interface.
func (n *Network) Attach(ep protocol.Endpoint) *Interface {
	n.mu.Lock()
	defer n.mu.Unlock()
	if iface, ok := n.nodes[ep]; ok {
		return iface
	}
	iface := &Interface{net: n, local: ep}
	n.nodes[ep] = iface
	return iface
}

// SentFrom counts every Send attempted from ep, including lost and failed ones.
func (n *Network) SentFrom(ep protocol.Endpoint) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.sent[ep]
}

func (n *Network) Dropped() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dropped
}

func (n *Network) deliver(from, to protocol.Endpoint, data []byte) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.sent[from]++
	src := n.nodes[from]
	if src == nil || src.failing {
		return false
	}
	dst, ok := n.nodes[to]
	if !ok {
		return false
	}
	if n.lossRate > 0 && n.rng.Float64() < n.lossRate {
		n.dropped++
		return true
	}
	dst.inbox = append(dst.inbox, protocol.Packet{From: from, Data: append([]byte(nil), data...)})
	return true
}

func (n *Network) detach(ep protocol.Endpoint) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.nodes, ep)
}

// Interface is one endpoint's view of the network. It implements
// protocol.Transport.
type Interface struct {
	net     *Network
	local   protocol.Endpoint
	inbox   []protocol.Packet
	failing bool
}

func (i *Interface) LocalEndpoint() protocol.Endpoint {
	return i.local
}

// Send queues data at dst. It fails when dst is not attached or the
// interface is set to fail; lost packets still report success.
func (i *Interface) Send(dst protocol.Endpoint, data []byte) bool {
	return i.net.deliver(i.local, dst, data)
}

func (i *Interface) HasIncoming() bool {
	i.net.mu.Lock()
	defer i.net.mu.Unlock()
	return len(i.inbox) > 0
}

func (i *Interface) Receive() (protocol.Packet, bool) {
	i.net.mu.Lock()
	defer i.net.mu.Unlock()
	if len(i.inbox) == 0 {
		return protocol.Packet{}, false
	}
	p := i.inbox[0]
	i.inbox[0] = protocol.Packet{}
	i.inbox = i.inbox[1:]
	return p, true
}

// Inject places a packet in the inbox as if from was its sender.
func (i *Interface) Inject(from protocol.Endpoint, data []byte) {
	i.net.mu.Lock()
	defer i.net.mu.Unlock()
	i.inbox = append(i.inbox, protocol.Packet{From: from, Data: append([]byte(nil), data...)})
}

// SetFailing makes every subsequent Send from this interface fail.
func (i *Interface) SetFailing(failing bool) {
	i.net.mu.Lock()
	defer i.net.mu.Unlock()
	i.failing = failing
}

// Pending is the number of queued packets.
func (i *Interface) Pending() int {
	i.net.mu.Lock()
	defer i.net.mu.Unlock()
	return len(i.inbox)
}

func (i *Interface) Close() error {
	i.net.detach(i.local)
	return nil
}

func clampRate(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
