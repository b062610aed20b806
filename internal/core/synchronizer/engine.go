// Package synchronizer keeps named objects consistent across a group of
// peers. Every local change is pushed to all known peers as a SYNC message;
// every received SYNC is applied to the sender's copy of the object, which
// the Delegate creates when the peer is first seen.
//
// An Engine is not safe for concurrent use. Callers drive it with Heartbeat
// and Tick, like the messenger underneath it.
package synchronizer

import (
	"hash/crc32"
	"math"
	"slices"

	"github.com/zeusync/datasync/internal/core/codec"
	"github.com/zeusync/datasync/internal/core/discovery"
	"github.com/zeusync/datasync/internal/core/messenger"
	"github.com/zeusync/datasync/internal/core/observability/log"
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

type Engine struct {
	delegate  Delegate
	observer  Observer
	metrics   Metrics
	messenger *messenger.Messenger
	logger    log.Log
	base      log.Log

	peers map[protocol.Endpoint][]Synchronizable
	infos map[protocol.Endpoint]PeerInfo
	own   []Synchronizable

	groupName string
	groupHash uint32

	discoveryIface discovery.Interface
	schedulerOpts  []discovery.SchedulerOption
	scheduler      *discovery.Scheduler
	hostname       string
	port           uint16
	instanceID     string
}

var _ discovery.Committer = (*Engine)(nil)

// GroupHashFor is the CRC-32 (IEEE) of a group name.
func GroupHashFor(name string) uint32 {
	return crc32.ChecksumIEEE([]byte(name))
}

// New creates an engine. The delegate is required: it supplies the objects
// tracked for every new peer.
func New(delegate Delegate, opts ...Option) *Engine {
	if delegate == nil {
		panic("synchronizer: nil delegate")
	}
	base := log.Provide()
	e := &Engine{
		delegate:  delegate,
		logger:    base.With(log.String("component", "synchronizer")),
		base:      base,
		peers:     make(map[protocol.Endpoint][]Synchronizable),
		infos:     make(map[protocol.Endpoint]PeerInfo),
		groupHash: GroupHashFor(""),
	}
	e.messenger = messenger.New(messenger.WithLogger(base))

	for _, opt := range opts {
		opt(e)
	}

	e.messenger.SetDelegate(messenger.Delegate{
		OnMessageReceived:  e.onMessageReceived,
		OnMessageEmitted:   e.onMessageEmitted,
		OnAckReceived:      e.onAckReceived,
		OnMessageDiscarded: e.onMessageDiscarded,
		OnDecodeFailed:     e.onDecodeFailed,
	})

	if e.discoveryIface != nil {
		sopts := append([]discovery.SchedulerOption{discovery.WithLogger(e.base)}, e.schedulerOpts...)
		e.scheduler = discovery.NewScheduler(e.discoveryIface, e, sopts...)
	}
	return e
}

func (e *Engine) Messenger() *messenger.Messenger {
	return e.messenger
}

func (e *Engine) SetTransport(t protocol.Transport) {
	e.messenger.SetTransport(t)
}

func (e *Engine) SetDefaultFormat(f codec.Format) {
	e.messenger.SetDefaultFormat(f)
}

func (e *Engine) SetObserver(o Observer) {
	e.observer = o
}

func (e *Engine) GroupName() string {
	return e.groupName
}

func (e *Engine) GroupHash() uint32 {
	return e.groupHash
}

// SetGroupName moves the engine to another group. When the hash changes every
// peer is sent a deregistration and forgotten. A running discovery responder
// is re-advertised under the new service name.
func (e *Engine) SetGroupName(name string) {
	hash := GroupHashFor(name)
	e.groupName = name
	if hash != e.groupHash {
		e.logger.Info("Group changed",
			log.String("group", name),
			log.String("hash", discovery.GroupText(hash)))
		e.groupHash = hash
		e.DeregisterAll()
	}
	if e.scheduler != nil && !e.scheduler.Restart(hash) {
		e.logger.Warn("Failed to restart discovery for new group", log.String("group", name))
	}
}

// Synchronize pushes obj to every peer and records it as our own. Pending
// pushes of an older value of the same object are dropped first.
func (e *Engine) Synchronize(obj Synchronizable) {
	name := obj.Name()
	e.messenger.CancelActiveMessages(func(info *value.Value) bool {
		return infoMatches(info, protocol.Endpoint{}, name)
	})

	for _, peer := range e.Peers() {
		e.sendSync(obj, peer)
	}
	e.upsertOwn(obj)
}

func (e *Engine) sendSync(obj Synchronizable, dst protocol.Endpoint) uint32 {
	return e.messenger.Send(&syncMessage{
		engine:    e,
		obj:       obj,
		dst:       dst,
		groupHash: e.groupHash,
	}, dst)
}

func (e *Engine) upsertOwn(obj Synchronizable) {
	for i, o := range e.own {
		if o.Name() == obj.Name() {
			e.own[i] = obj
			return
		}
	}
	e.own = append(e.own, obj)
}

// HandleSyncMessage applies value to the sender's copy of the named object.
// Messages from another group are ignored. An unknown sender is registered
// first. It reports whether the value was applied.
func (e *Engine) HandleSyncMessage(groupHash uint32, sender protocol.Endpoint, name string, v *value.Value) bool {
	if groupHash != e.groupHash {
		e.logger.Debug("Ignoring sync from another group",
			logPeer(sender),
			log.String("hash", discovery.GroupText(groupHash)))
		return false
	}

	e.AddPeer(sender)

	obj, ok := e.PeerObject(sender, name)
	if !ok {
		e.logger.Debug("Ignoring sync for unknown object", logPeer(sender), logObject(name))
		return false
	}
	if !obj.Apply(v) {
		e.logger.Debug("Object rejected value", logPeer(sender), logObject(name))
		return false
	}
	if e.observer.OnObjectApplied != nil {
		e.observer.OnObjectApplied(sender, name)
	}
	return true
}

// PerformInitialSynchronization sends every own object to peer.
func (e *Engine) PerformInitialSynchronization(peer protocol.Endpoint) {
	for _, obj := range e.own {
		name := obj.Name()
		e.messenger.CancelActiveMessages(func(info *value.Value) bool {
			return infoMatches(info, peer, name)
		})
		e.sendSync(obj, peer)
	}
}

// RequestInitialSynchronization asks peer to send us all of its objects.
func (e *Engine) RequestInitialSynchronization(peer protocol.Endpoint) uint32 {
	return e.messenger.Send(reqInitSyncMessage{}, peer)
}

// DeregisterAll tells every peer we are leaving and forgets them.
func (e *Engine) DeregisterAll() {
	for _, peer := range e.Peers() {
		e.messenger.Send(deregMessage{}, peer)
		e.RemovePeer(peer)
	}
}

func (e *Engine) OwnObjects() []Synchronizable {
	return slices.Clone(e.own)
}

func (e *Engine) onMessageReceived(in messenger.Incoming) {
	if e.observer.OnMessageReceived != nil {
		e.observer.OnMessageReceived(in)
	}

	switch in.Type {
	case protocol.MessageTypeSync:
		e.handleSyncPayload(in)
	case protocol.MessageTypeDereg:
		e.logger.Info("Peer deregistered", logPeer(in.From))
		e.RemovePeer(in.From)
	case protocol.MessageTypeReqInitSync:
		// The request carries no group hash, so only peers already admitted
		// by discovery or a checked sync are answered.
		if !e.IsPeerKnown(in.From) {
			e.logger.Debug("Ignoring sync request from unknown peer", logPeer(in.From))
			return
		}
		e.PerformInitialSynchronization(in.From)
	}
}

func (e *Engine) handleSyncPayload(in messenger.Incoming) {
	items, ok := in.Payload.AsArray()
	if !ok || len(items) < 3 {
		e.logger.Debug("Malformed sync payload", logPeer(in.From))
		return
	}
	hash, ok := items[0].AsInteger()
	if !ok || hash < 0 || int64(hash) > math.MaxUint32 {
		e.logger.Debug("Malformed sync group hash", logPeer(in.From))
		return
	}
	name, ok := items[1].AsString()
	if !ok {
		e.logger.Debug("Malformed sync object name", logPeer(in.From))
		return
	}
	e.HandleSyncMessage(uint32(hash), in.From, name, items[2])
}

func (e *Engine) onMessageEmitted(msg messenger.Message, id uint32) {
	if e.observer.OnMessageEmitted != nil {
		e.observer.OnMessageEmitted(msg, id)
	}
}

func (e *Engine) onAckReceived(id uint32) {
	if e.observer.OnAckReceived != nil {
		e.observer.OnAckReceived(id)
	}
}

func (e *Engine) onMessageDiscarded(id uint32) {
	if e.observer.OnMessageDiscarded != nil {
		e.observer.OnMessageDiscarded(id)
	}
}

func (e *Engine) onDecodeFailed(err error, f codec.Format) {
	if e.observer.OnDecodeFailed != nil {
		e.observer.OnDecodeFailed(err, f)
	}
}

// Heartbeat processes at most one received packet.
func (e *Engine) Heartbeat() {
	e.messenger.Heartbeat()
}

// Tick advances retransmission and the discovery schedule by one 100 ms step.
func (e *Engine) Tick() {
	e.messenger.Tick()
	if e.scheduler != nil {
		e.scheduler.Tick()
	}
}

// StartDiscovery advertises this node and begins periodic scans. It reports
// false when no responder is attached or advertising failed.
func (e *Engine) StartDiscovery() bool {
	if e.scheduler == nil {
		return false
	}
	return e.scheduler.Start(e.hostname, e.groupHash, e.port, e.instanceID)
}

func (e *Engine) StopDiscovery() bool {
	if e.scheduler == nil {
		return true
	}
	return e.scheduler.Stop()
}

// ScanNow starts a discovery scan without waiting for the schedule.
func (e *Engine) ScanNow() {
	if e.scheduler != nil {
		e.scheduler.ScanNow()
	}
}

// Scheduler is nil when no discovery responder is attached.
func (e *Engine) Scheduler() *discovery.Scheduler {
	return e.scheduler
}

// CommitDiscovered registers a peer found by a scan, pushes our objects to it
// and asks for its own.
func (e *Engine) CommitDiscovered(r discovery.Result) {
	if !r.Endpoint.IsValid() {
		return
	}
	e.AddPeer(r.Endpoint)
	e.SetPeerInfo(r.Endpoint, PeerInfo{Hostname: r.Hostname, AnswerText: r.Text})
	e.PerformInitialSynchronization(r.Endpoint)
	e.RequestInitialSynchronization(r.Endpoint)
}

func logPeer(ep protocol.Endpoint) log.Field {
	return log.Stringer("peer", ep)
}

func logObject(name string) log.Field {
	return log.String("object", name)
}
