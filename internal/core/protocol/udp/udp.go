// Package udp implements protocol.Transport over a plain UDP socket.
package udp

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"

	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/pkg/generic"
)

type Config struct {
	// InboxSize bounds the number of received datagrams waiting for Receive.
	// Newer datagrams are dropped while the inbox is full.
	InboxSize int
	// ReadBufferSize is the largest datagram accepted.
	ReadBufferSize int
}

func DefaultConfig() *Config {
	return &Config{
		InboxSize:      256,
		ReadBufferSize: 64 * 1024,
	}
}

type Transport struct {
	conn    *net.UDPConn
	local   protocol.Endpoint
	config  *Config
	logger  log.Log
	inbox   chan protocol.Packet
	buffers *generic.Pool[*[]byte]

	closed atomic.Bool
	wg     sync.WaitGroup

	sent         atomic.Uint64
	received     atomic.Uint64
	sendFailures atomic.Uint64
	dropped      atomic.Uint64
}

var (
	_ protocol.Transport       = (*Transport)(nil)
	_ protocol.StatsReporter   = (*Transport)(nil)
	_ protocol.LocalEndpointer = (*Transport)(nil)
)

// Listen binds addr ("host:port", port 0 picks one) and starts the reader.
func Listen(addr string, config *Config, logger log.Log) (*Transport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.InboxSize <= 0 {
		config.InboxSize = defaults.InboxSize
	}
	if config.ReadBufferSize <= 0 {
		config.ReadBufferSize = defaults.ReadBufferSize
	}
	logger = log.OrDefault(logger).With(log.String("transport", "udp"))

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Error("Failed to resolve UDP address", log.String("addr", addr), log.Error(err))
		return nil, protocol.NewProtocolError(protocol.ErrorCodeInvalidAddress, "failed to resolve UDP address", err)
	}

	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("Failed to listen on UDP", log.String("addr", addr), log.Error(err))
		return nil, protocol.NewProtocolError(protocol.ErrorCodeBindFailed, "failed to listen on UDP", err)
	}

	local, _ := protocol.EndpointFromNetAddr(conn.LocalAddr())
	t := &Transport{
		conn:    conn,
		local:   local,
		config:  config,
		logger:  logger,
		inbox:   make(chan protocol.Packet, config.InboxSize),
		buffers: generic.NewBufferPool(config.ReadBufferSize, 4),
	}

	t.wg.Add(1)
	go t.readLoop()

	logger.Info("UDP transport listening", log.Stringer("local", local), log.Int("inbox_size", config.InboxSize))
	return t, nil
}

func (t *Transport) LocalEndpoint() protocol.Endpoint {
	return t.local
}

func (t *Transport) readLoop() {
	defer t.wg.Done()

	for {
		buf := t.buffers.Get()
		n, addr, err := t.conn.ReadFromUDPAddrPort(*buf)
		if err != nil {
			t.buffers.Put(buf)
			if t.closed.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			t.logger.Warn("UDP read failed", log.Error(err))
			continue
		}

		data := make([]byte, n)
		copy(data, (*buf)[:n])
		t.buffers.Put(buf)

		packet := protocol.Packet{From: protocol.EndpointFromAddrPort(addr), Data: data}
		select {
		case t.inbox <- packet:
			t.received.Add(1)
		default:
			t.dropped.Add(1)
			t.logger.Debug("Inbox full, dropping datagram", log.Stringer("from", packet.From))
		}
	}
}

func (t *Transport) Send(dst protocol.Endpoint, data []byte) bool {
	if t.closed.Load() {
		t.sendFailures.Add(1)
		return false
	}
	if _, err := t.conn.WriteToUDPAddrPort(data, dst.AddrPort()); err != nil {
		t.sendFailures.Add(1)
		t.logger.Debug("UDP send failed", log.Stringer("to", dst), log.Error(err))
		return false
	}
	t.sent.Add(1)
	return true
}

func (t *Transport) HasIncoming() bool {
	return len(t.inbox) > 0
}

func (t *Transport) Receive() (protocol.Packet, bool) {
	select {
	case p := <-t.inbox:
		return p, true
	default:
		return protocol.Packet{}, false
	}
}

func (t *Transport) Stats() protocol.TransportStats {
	return protocol.TransportStats{
		PacketsSent:     t.sent.Load(),
		PacketsReceived: t.received.Load(),
		SendFailures:    t.sendFailures.Load(),
		InboxDropped:    t.dropped.Load(),
	}
}

// Close stops the reader and releases the socket. It is safe to call twice.
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	t.wg.Wait()
	t.logger.Info("UDP transport closed")
	return err
}
