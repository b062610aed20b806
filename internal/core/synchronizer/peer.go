package synchronizer

import (
	"maps"
	"slices"

	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

// AddPeer registers ep with a fresh set of objects from the delegate. It
// reports whether ep was new.
func (e *Engine) AddPeer(ep protocol.Endpoint) bool {
	if _, ok := e.peers[ep]; ok {
		return false
	}
	e.peers[ep] = e.delegate.NewPeerObjects()
	e.infos[ep] = PeerInfo{}

	e.logger.Info("Peer added", logPeer(ep))
	if e.metrics != nil {
		e.metrics.Peers(len(e.peers))
	}
	if e.observer.OnPeerAdded != nil {
		e.observer.OnPeerAdded(ep)
	}
	return true
}

// RemovePeer forgets ep and drops any sync still pending for it.
func (e *Engine) RemovePeer(ep protocol.Endpoint) {
	if _, ok := e.peers[ep]; !ok {
		return
	}
	delete(e.peers, ep)
	delete(e.infos, ep)

	e.messenger.CancelActiveMessages(func(info *value.Value) bool {
		return infoTargets(info, ep)
	})

	e.logger.Info("Peer removed", logPeer(ep))
	if e.metrics != nil {
		e.metrics.Peers(len(e.peers))
	}
	if e.observer.OnPeerRemoved != nil {
		e.observer.OnPeerRemoved(ep)
	}
}

func (e *Engine) IsPeerKnown(ep protocol.Endpoint) bool {
	_, ok := e.peers[ep]
	return ok
}

// Peers returns the known peers in address order.
func (e *Engine) Peers() []protocol.Endpoint {
	return slices.SortedFunc(maps.Keys(e.peers), protocol.Endpoint.Compare)
}

func (e *Engine) PeerCount() int {
	return len(e.peers)
}

// ForEachPeer calls fn for every known peer in address order. fn may add or
// remove peers.
func (e *Engine) ForEachPeer(fn func(ep protocol.Endpoint)) {
	for _, ep := range e.Peers() {
		fn(ep)
	}
}

// SetPeerInfo reports false when ep is not a known peer.
func (e *Engine) SetPeerInfo(ep protocol.Endpoint, info PeerInfo) bool {
	if _, ok := e.infos[ep]; !ok {
		return false
	}
	e.infos[ep] = info
	return true
}

func (e *Engine) PeerInfo(ep protocol.Endpoint) (PeerInfo, bool) {
	info, ok := e.infos[ep]
	return info, ok
}

// PeerObject returns ep's copy of the named object.
func (e *Engine) PeerObject(ep protocol.Endpoint, name string) (Synchronizable, bool) {
	for _, obj := range e.peers[ep] {
		if obj.Name() == name {
			return obj, true
		}
	}
	return nil, false
}

// PeerObjects returns every object tracked for ep.
func (e *Engine) PeerObjects(ep protocol.Endpoint) []Synchronizable {
	return slices.Clone(e.peers[ep])
}

// Lookup returns ep's copy of the named object as a T. An object of another
// type is reported as absent.
func Lookup[T Synchronizable](e *Engine, ep protocol.Endpoint, name string) (T, bool) {
	var zero T
	obj, ok := e.PeerObject(ep, name)
	if !ok {
		return zero, false
	}
	t, ok := obj.(T)
	if !ok {
		return zero, false
	}
	return t, true
}
