// Package quic implements protocol.Transport with unreliable QUIC datagrams
// (RFC 9221). One UDP socket both accepts and dials, so the source address
// a peer sees is the endpoint we advertise.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
)

// Config holds QUIC-specific configuration
type Config struct {
	InboxSize            int
	MaxIdleTimeout       time.Duration
	KeepAlivePeriod      time.Duration
	HandshakeIdleTimeout time.Duration
	DialTimeout          time.Duration

	// TLSConfig defaults to a generated self-signed certificate.
	TLSConfig *tls.Config
}

func DefaultConfig() *Config {
	return &Config{
		InboxSize:            256,
		MaxIdleTimeout:       30 * time.Second,
		KeepAlivePeriod:      10 * time.Second,
		HandshakeIdleTimeout: 5 * time.Second,
		DialTimeout:          5 * time.Second,
	}
}

type Transport struct {
	config   *Config
	logger   log.Log
	udpConn  *net.UDPConn
	tr       *quic.Transport
	listener *quic.Listener
	local    protocol.Endpoint
	inbox    chan protocol.Packet

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	conns   map[protocol.Endpoint]*quic.Conn
	dialing map[protocol.Endpoint]struct{}

	closed       atomic.Bool
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

// Listen binds addr and starts accepting connections.
func Listen(addr string, config *Config, logger log.Log) (*Transport, error) {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.InboxSize <= 0 {
		config.InboxSize = defaults.InboxSize
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = defaults.DialTimeout
	}
	if config.TLSConfig == nil {
		tlsConfig, err := generateTLSConfig()
		if err != nil {
			return nil, protocol.NewProtocolError(protocol.ErrorCodeBindFailed, "failed to generate TLS config", err)
		}
		config.TLSConfig = tlsConfig
	}
	logger = log.OrDefault(logger).With(log.String("transport", "quic"))

	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		logger.Error("Failed to resolve UDP address", log.String("addr", addr), log.Error(err))
		return nil, protocol.NewProtocolError(protocol.ErrorCodeInvalidAddress, "failed to resolve UDP address", err)
	}

	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("Failed to listen on UDP", log.String("addr", addr), log.Error(err))
		return nil, protocol.NewProtocolError(protocol.ErrorCodeBindFailed, "failed to listen on UDP", err)
	}

	tr := &quic.Transport{Conn: udpConn}
	listener, err := tr.Listen(config.TLSConfig, buildQUICConfig(config))
	if err != nil {
		_ = udpConn.Close()
		logger.Error("Failed to create QUIC listener", log.Error(err))
		return nil, protocol.NewProtocolError(protocol.ErrorCodeBindFailed, "failed to create QUIC listener", err)
	}

	local, _ := protocol.EndpointFromNetAddr(udpConn.LocalAddr())
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		config:   config,
		logger:   logger,
		udpConn:  udpConn,
		tr:       tr,
		listener: listener,
		local:    local,
		inbox:    make(chan protocol.Packet, config.InboxSize),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[protocol.Endpoint]*quic.Conn),
		dialing:  make(map[protocol.Endpoint]struct{}),
	}

	t.wg.Add(1)
	go t.acceptLoop()

	logger.Info("QUIC transport listening",
		log.Stringer("local", local),
		log.Duration("idle_timeout", config.MaxIdleTimeout))
	return t, nil
}

func buildQUICConfig(config *Config) *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:       config.MaxIdleTimeout,
		KeepAlivePeriod:      config.KeepAlivePeriod,
		HandshakeIdleTimeout: config.HandshakeIdleTimeout,
		EnableDatagrams:      true,
	}
}

func (t *Transport) LocalEndpoint() protocol.Endpoint {
	return t.local
}

func (t *Transport) acceptLoop() {
	defer t.wg.Done()
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.closed.Load() || errors.Is(err, context.Canceled) {
				return
			}
			t.logger.Warn("QUIC accept failed", log.Error(err))
			return
		}
		t.register(conn)
	}
}

func (t *Transport) register(conn *quic.Conn) {
	ep, ok := protocol.EndpointFromNetAddr(conn.RemoteAddr())
	if !ok {
		_ = conn.CloseWithError(0, "unsupported address")
		return
	}

	t.mu.Lock()
	t.conns[ep] = conn
	t.mu.Unlock()

	t.logger.Debug("QUIC connection established", log.Stringer("peer", ep))

	t.wg.Add(1)
	go t.receiveLoop(ep, conn)
}

func (t *Transport) receiveLoop(ep protocol.Endpoint, conn *quic.Conn) {
	defer t.wg.Done()
	defer t.forget(ep, conn)

	for {
		data, err := conn.ReceiveDatagram(t.ctx)
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("QUIC connection ended", log.Stringer("peer", ep), log.Error(err))
			}
			return
		}

		select {
		case t.inbox <- protocol.Packet{From: ep, Data: data}:
			t.received.Add(1)
		default:
			t.dropped.Add(1)
		}
	}
}

func (t *Transport) forget(ep protocol.Endpoint, conn *quic.Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conns[ep] == conn {
		delete(t.conns, ep)
	}
}

// Send transmits one datagram. Without an established connection it starts a
// background dial and reports failure; the caller's retry picks it up once
// the handshake completes.
func (t *Transport) Send(dst protocol.Endpoint, data []byte) bool {
	if t.closed.Load() {
		t.sendFailures.Add(1)
		return false
	}

	t.mu.Lock()
	conn, ok := t.conns[dst]
	if !ok {
		t.startDialLocked(dst)
	}
	t.mu.Unlock()

	if !ok {
		t.sendFailures.Add(1)
		return false
	}

	if err := conn.SendDatagram(data); err != nil {
		t.sendFailures.Add(1)
		t.logger.Debug("QUIC datagram send failed", log.Stringer("to", dst), log.Error(err))
		return false
	}
	t.sent.Add(1)
	return true
}

func (t *Transport) startDialLocked(dst protocol.Endpoint) {
	if _, busy := t.dialing[dst]; busy {
		return
	}
	t.dialing[dst] = struct{}{}

	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer func() {
			t.mu.Lock()
			delete(t.dialing, dst)
			t.mu.Unlock()
		}()

		ctx, cancel := context.WithTimeout(t.ctx, t.config.DialTimeout)
		defer cancel()

		conn, err := t.tr.Dial(ctx, dst.UDPAddr(), t.config.TLSConfig, buildQUICConfig(t.config))
		if err != nil {
			if !t.closed.Load() {
				t.logger.Debug("Failed to dial QUIC connection", log.Stringer("peer", dst), log.Error(err))
			}
			return
		}
		t.register(conn)
	}()
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

// Connections is the number of established peer connections.
func (t *Transport) Connections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Transport) Stats() protocol.TransportStats {
	return protocol.TransportStats{
		PacketsSent:     t.sent.Load(),
		PacketsReceived: t.received.Load(),
		SendFailures:    t.sendFailures.Load(),
		InboxDropped:    t.dropped.Load(),
	}
}

// Close closes the QUIC transport
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.logger.Info("Closing QUIC transport")

	t.cancel()

	t.mu.Lock()
	for _, conn := range t.conns {
		_ = conn.CloseWithError(0, "closing")
	}
	t.mu.Unlock()

	_ = t.listener.Close()
	_ = t.tr.Close()
	err := t.udpConn.Close()
	t.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
