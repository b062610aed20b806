// Package node assembles a running datasync peer from a configuration:
// transport, synchronization engine, discovery, metrics and inspector.
package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/datasync/internal/config"
	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/discovery/mdns"
	"github.com/zeusync/datasync/internal/core/messenger"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/observability/metrics"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/protocol/quic"
	"github.com/zeusync/datasync/internal/core/protocol/udp"
	"github.com/zeusync/datasync/internal/core/synchronizer"
	"github.com/zeusync/datasync/internal/core/value"
	"github.com/zeusync/datasync/internal/inspector"
	"github.com/zeusync/datasync/internal/objects"
)

// NodeDocument is the built-in document describing each node.
const NodeDocument = "node"

// heartbeatBudget bounds how many packets one heartbeat pass drains before
// releasing the engine lock.
const heartbeatBudget = 64

var (
	ErrAlreadyRunning = errors.New("node is already running")
	ErrClosed         = errors.New("node is closed")
)

// Version is reported in the node document and build_info metric.
var Version = "dev"

type Node struct {
	cfg    *config.Config
	logger log.Log

	// mu serializes every engine call; the engine itself is single-threaded.
	mu       sync.Mutex
	engine   *synchronizer.Engine
	registry *objects.Registry

	transport protocol.Transport
	format    codec.Format
	metrics   *metrics.Metrics
	hub       *inspector.Hub
	inspector *inspector.Server

	hostname   string
	instanceID string
	started    time.Time
	discovery  bool

	running int32
	closed  int32
}

type Option func(*options)

type options struct {
	transport protocol.Transport
	discovery discovery.Interface
	id        string
}

// WithTransport replaces the UDP or QUIC socket the node would open.
func WithTransport(t protocol.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithDiscovery replaces the mDNS responder.
func WithDiscovery(d discovery.Interface) Option {
	return func(o *options) { o.discovery = d }
}

func WithInstanceID(id string) Option {
	return func(o *options) { o.id = id }
}

func New(cfg *config.Config, logger log.Log, opts ...Option) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger = log.OrDefault(logger)
	format, _ := cfg.Format()

	n := &Node{
		cfg:        cfg,
		logger:     logger.With(log.String("component", "node")),
		format:     format,
		metrics:    metrics.New(),
		hub:        inspector.NewHub(0),
		hostname:   cfg.Node.Hostname,
		instanceID: o.id,
	}
	n.metrics.SetBuildInfo(Version)

	if n.hostname == "" {
		host, err := os.Hostname()
		if err != nil {
			return nil, fmt.Errorf("resolve hostname: %w", err)
		}
		n.hostname = host
	}
	if n.instanceID == "" {
		n.instanceID = uuid.NewString()
	}

	n.transport = o.transport
	if n.transport == nil {
		t, err := openTransport(cfg, logger)
		if err != nil {
			return nil, err
		}
		n.transport = t
	}

	n.registry = objects.NewRegistry(append([]string{NodeDocument}, cfg.Node.Objects...))

	engineOpts := []synchronizer.Option{
		synchronizer.WithTransport(n.transport),
		synchronizer.WithLogger(logger),
		synchronizer.WithDefaultFormat(format),
		synchronizer.WithMaxRetries(cfg.Messenger.MaxRetries),
		synchronizer.WithReceiptRetention(cfg.Messenger.ReceiptRetention),
		synchronizer.WithPurgeInterval(cfg.Messenger.PurgeInterval),
		synchronizer.WithMetrics(n.metrics),
		synchronizer.WithObserver(n.observer()),
		synchronizer.WithGroupName(cfg.Node.Group),
		synchronizer.WithInstanceID(n.instanceID),
	}

	disco := o.discovery
	if disco == nil && cfg.Discovery.Enabled {
		disco = mdns.New(&mdns.Config{Domain: cfg.Discovery.Domain}, logger)
	}
	if disco != nil {
		n.discovery = true
		engineOpts = append(engineOpts, synchronizer.WithDiscovery(disco, n.hostname, n.localPort(),
			discovery.WithScanDuration(cfg.Discovery.ScanDuration),
			discovery.WithTimeBetweenScans(cfg.Discovery.TimeBetweenScans)))
	}

	n.engine = synchronizer.New(n.registry, engineOpts...)

	if cfg.Inspector.Listen != "" {
		n.inspector = inspector.New(n, n.hub, n.metrics, logger)
	}
	return n, nil
}

func openTransport(cfg *config.Config, logger log.Log) (protocol.Transport, error) {
	switch cfg.Node.Transport {
	case config.TransportQUIC:
		qc := quic.DefaultConfig()
		qc.InboxSize = cfg.Messenger.InboxSize
		return quic.Listen(cfg.BindAddr(), qc, logger)
	default:
		uc := udp.DefaultConfig()
		uc.InboxSize = cfg.Messenger.InboxSize
		return udp.Listen(cfg.BindAddr(), uc, logger)
	}
}

func (n *Node) localPort() uint16 {
	if le, ok := n.transport.(protocol.LocalEndpointer); ok {
		if ep := le.LocalEndpoint(); ep.Port != 0 {
			return ep.Port
		}
	}
	return n.cfg.Node.Port
}

func (n *Node) observer() synchronizer.Observer {
	return synchronizer.Observer{
		OnMessageReceived: func(in messenger.Incoming) {
			n.hub.Publish(inspector.Event{
				Kind: inspector.EventReceived,
				Peer: in.From.String(),
				Type: in.Type.String(),
				ID:   inspector.MessageID(in.ID),
			})
		},
		OnMessageEmitted: func(msg messenger.Message, id uint32) {
			n.hub.Publish(inspector.Event{
				Kind: inspector.EventMessageEmitted,
				Type: msg.Type().String(),
				ID:   inspector.MessageID(id),
			})
		},
		OnAckReceived: func(id uint32) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventAckReceived, ID: inspector.MessageID(id)})
		},
		OnMessageDiscarded: func(id uint32) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventDiscarded, ID: inspector.MessageID(id)})
		},
		OnDecodeFailed: func(err error, f codec.Format) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventDecodeFailed, Type: f.String(), Error: err.Error()})
		},
		OnPeerAdded: func(ep protocol.Endpoint) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventPeerAdded, Peer: ep.String()})
		},
		OnPeerRemoved: func(ep protocol.Endpoint) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventPeerRemoved, Peer: ep.String()})
		},
		OnObjectApplied: func(ep protocol.Endpoint, name string) {
			n.hub.Publish(inspector.Event{Kind: inspector.EventObjectApplied, Peer: ep.String(), Object: name})
		},
	}
}

func (n *Node) Hostname() string   { return n.hostname }
func (n *Node) InstanceID() string { return n.instanceID }

func (n *Node) Metrics() *metrics.Metrics { return n.metrics }
func (n *Node) Hub() *inspector.Hub       { return n.hub }

// Inspector is nil when the inspector is disabled.
func (n *Node) Inspector() *inspector.Server { return n.inspector }

// Do runs fn with exclusive access to the engine.
func (n *Node) Do(fn func(e *synchronizer.Engine)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	fn(n.engine)
}

// Start publishes the node document, contacts configured peers and starts
// discovery. Run calls it.
func (n *Node) Start() error {
	if atomic.LoadInt32(&n.closed) == 1 {
		return ErrClosed
	}
	if !atomic.CompareAndSwapInt32(&n.running, 0, 1) {
		return ErrAlreadyRunning
	}
	n.started = time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()

	doc, _ := n.registry.Own(NodeDocument)
	doc.Set(n.describe())
	n.engine.Synchronize(doc)

	for _, raw := range n.cfg.Node.Peers {
		ep, err := protocol.ParseEndpoint(raw)
		if err != nil {
			n.logger.Warn("Skipping invalid peer", log.String("peer", raw), log.Error(err))
			continue
		}
		n.engine.AddPeer(ep)
		n.engine.PerformInitialSynchronization(ep)
		n.engine.RequestInitialSynchronization(ep)
	}

	if n.discovery && !n.engine.StartDiscovery() {
		n.logger.Warn("Discovery failed to start; continuing with static peers")
	}

	n.logger.Info("Node started",
		log.String("hostname", n.hostname),
		log.String("instance_id", n.instanceID),
		log.String("group", n.cfg.Node.Group),
		log.Stringer("format", n.format))
	return nil
}

func (n *Node) describe() *value.Value {
	return value.Object(map[string]*value.Value{
		"hostname":    value.String(n.hostname),
		"instance_id": value.String(n.instanceID),
		"version":     value.String(Version),
		"started":     value.String(n.started.UTC().Format(time.RFC3339)),
	})
}

// Run starts the node and drives it until ctx is done.
func (n *Node) Run(ctx context.Context) error {
	if err := n.Start(); err != nil {
		return err
	}

	if n.inspector != nil {
		if err := n.inspector.Start(n.cfg.Inspector.Listen); err != nil {
			return fmt.Errorf("start inspector: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error { return n.heartbeatLoop(ctx) })
	g.Go(func() error { return n.tickLoop(ctx) })

	if n.inspector != nil {
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return n.inspector.Stop(shutdownCtx)
		})
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

func (n *Node) heartbeatLoop(ctx context.Context) error {
	idle := time.NewTimer(time.Millisecond)
	defer idle.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if n.Heartbeat() > 0 {
			continue
		}
		idle.Reset(time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle.C:
		}
	}
}

// Heartbeat drains up to a fixed number of received packets and reports how
// many were processed.
func (n *Node) Heartbeat() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	processed := 0
	for processed < heartbeatBudget && n.transport.HasIncoming() {
		n.engine.Heartbeat()
		processed++
	}
	return processed
}

func (n *Node) tickLoop(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.Messenger.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n.Tick()
		}
	}
}

// Tick advances the engine by one 100 ms step.
func (n *Node) Tick() {
	n.mu.Lock()
	n.engine.Tick()
	n.mu.Unlock()

	if sr, ok := n.transport.(protocol.StatsReporter); ok {
		n.metrics.ObserveTransport(sr.Stats())
	}
}

// Close deregisters from every peer, stops discovery and closes the
// transport.
func (n *Node) Close() error {
	if !atomic.CompareAndSwapInt32(&n.closed, 0, 1) {
		return nil
	}

	n.mu.Lock()
	n.engine.DeregisterAll()
	stopped := n.engine.StopDiscovery()
	n.mu.Unlock()

	var errs []error
	if !stopped {
		errs = append(errs, errors.New("stop discovery"))
	}
	if c, ok := n.transport.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close transport: %w", err))
		}
	}
	atomic.StoreInt32(&n.running, 0)
	n.logger.Info("Node closed")
	return errors.Join(errs...)
}

// Set replaces our copy of a declared document and pushes it to every peer.
func (n *Node) Set(name string, v *value.Value) error {
	return n.WriteObject(name, v)
}

// WriteObject implements inspector.Source.
func (n *Node) WriteObject(name string, v *value.Value) error {
	doc, ok := n.registry.Own(name)
	if !ok {
		return fmt.Errorf("%w: %s", inspector.ErrUnknownObject, name)
	}
	if !doc.Set(v) {
		return fmt.Errorf("%w: rejected by %s", inspector.ErrInvalidBody, name)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.engine.Synchronize(doc)
	return nil
}

// ReadObject implements inspector.Source.
func (n *Node) ReadObject(name string, peer *protocol.Endpoint) (*value.Value, error) {
	if !n.registry.Declared(name) {
		return nil, fmt.Errorf("%w: %s", inspector.ErrUnknownObject, name)
	}
	if peer == nil {
		doc, _ := n.registry.Own(name)
		return doc.ToValue(), nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.engine.IsPeerKnown(*peer) {
		return nil, fmt.Errorf("%w: %s", inspector.ErrUnknownPeer, peer)
	}
	obj, ok := n.engine.PeerObject(*peer, name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", inspector.ErrUnknownObject, name)
	}
	return obj.ToValue(), nil
}

// Status implements inspector.Source.
func (n *Node) Status() inspector.Status {
	n.mu.Lock()
	defer n.mu.Unlock()

	e := n.engine
	st := inspector.Status{
		Hostname:   n.hostname,
		InstanceID: n.instanceID,
		Group:      e.GroupName(),
		GroupHash:  discovery.GroupText(e.GroupHash()),
		Format:     n.format.String(),
		OwnDigest:  digestText(e.OwnDigest()),
		Objects:    n.registry.Names(),
		Receipts:   e.Messenger().ReceiptCount(),
		Ticks:      e.Messenger().Ticks(),
	}
	if le, ok := n.transport.(protocol.LocalEndpointer); ok {
		st.Local = le.LocalEndpoint().String()
	}

	for _, ep := range e.Peers() {
		ps := inspector.PeerStatus{Endpoint: ep.String()}
		if info, ok := e.PeerInfo(ep); ok {
			ps.Hostname = info.Hostname
			ps.Answer = info.AnswerText
		}
		if d, ok := e.StateDigest(ep); ok {
			ps.Digest = digestText(d)
		}
		st.Peers = append(st.Peers, ps)
	}

	for _, am := range e.Messenger().ActiveMessages() {
		st.Active = append(st.Active, inspector.ActiveStatus{
			ID:          am.ID,
			Destination: am.Destination.String(),
			Type:        am.Type.String(),
			Format:      am.Format.String(),
			RetriesLeft: am.RetriesLeft,
		})
	}

	if s := e.Scheduler(); s != nil {
		st.Discovery = &inspector.Discovery{
			Running:            s.IsRunning(),
			State:              s.State().String(),
			TicksUntilNextScan: s.TicksUntilNextScan(),
			TicksUntilCommit:   s.TicksUntilCommit(),
		}
	}
	return st
}

func digestText(d uint64) string {
	return fmt.Sprintf("%016x", d)
}
