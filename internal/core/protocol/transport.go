// Package protocol holds the wire vocabulary shared by the messenger and its
// transports: endpoints, message types, packet framing and the non-blocking
// datagram transport contract.
package protocol

// Packet is one received datagram.
type Packet struct {
	From Endpoint
	Data []byte
}

// Transport is an unreliable datagram transport. All methods are
// non-blocking: Send reports whether the datagram was handed to the network,
// Receive returns false when nothing is queued.
type Transport interface {
	Send(dst Endpoint, data []byte) bool
	HasIncoming() bool
	Receive() (Packet, bool)
}

// TransportStats is implemented by transports that count their traffic.
type TransportStats struct {
	PacketsSent     uint64
	PacketsReceived uint64
	SendFailures    uint64
	InboxDropped    uint64
}

type StatsReporter interface {
	Stats() TransportStats
}

// LocalEndpointer is implemented by transports bound to a local socket.
type LocalEndpointer interface {
	LocalEndpoint() Endpoint
}
