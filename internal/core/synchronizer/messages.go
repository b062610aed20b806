package synchronizer

import (
	"github.com/zeusync/datasync/internal/core/protocol"
	"github.com/zeusync/datasync/internal/core/value"
)

// syncMessage carries [group hash, name, state]. The state is read again on
// every retransmission, so a retry always carries the latest value.
type syncMessage struct {
	engine    *Engine
	obj       Synchronizable
	dst       protocol.Endpoint
	groupHash uint32
}

func (m *syncMessage) Type() protocol.MessageType {
	return protocol.MessageTypeSync
}

func (m *syncMessage) Payload() *value.Value {
	return value.Array(
		value.Number(float64(m.groupHash)),
		value.String(m.obj.Name()),
		m.obj.ToValue(),
	)
}

func (m *syncMessage) Info() *value.Value {
	return syncInfo(m.dst, m.obj.Name())
}

// OnSendFailed drops a peer that stopped acknowledging.
func (m *syncMessage) OnSendFailed() {
	m.engine.logger.Info("Peer stopped acknowledging, removing",
		logPeer(m.dst),
		logObject(m.obj.Name()))
	m.engine.RemovePeer(m.dst)
}

func syncInfo(dst protocol.Endpoint, name string) *value.Value {
	return value.Array(
		value.String(protocol.MessageTypeSync.String()),
		value.String(dst.String()),
		value.String(name),
	)
}

type deregMessage struct{}

func (deregMessage) Type() protocol.MessageType { return protocol.MessageTypeDereg }
func (deregMessage) Payload() *value.Value      { return value.Null() }
func (deregMessage) Info() *value.Value {
	return value.Array(value.String(protocol.MessageTypeDereg.String()))
}

type reqInitSyncMessage struct{}

func (reqInitSyncMessage) Type() protocol.MessageType { return protocol.MessageTypeReqInitSync }
func (reqInitSyncMessage) Payload() *value.Value      { return value.Null() }
func (reqInitSyncMessage) Info() *value.Value {
	return value.Array(value.String(protocol.MessageTypeReqInitSync.String()))
}

// infoMatches reports whether info describes a sync of name. An invalid dst
// matches every destination.
func infoMatches(info *value.Value, dst protocol.Endpoint, name string) bool {
	items, ok := info.AsArray()
	if !ok || len(items) < 3 {
		return false
	}
	if t, _ := items[0].AsString(); t != protocol.MessageTypeSync.String() {
		return false
	}
	if n, _ := items[2].AsString(); n != name {
		return false
	}
	if dst.IsValid() {
		if d, _ := items[1].AsString(); d != dst.String() {
			return false
		}
	}
	return true
}

// infoTargets reports whether info describes a sync bound for dst.
func infoTargets(info *value.Value, dst protocol.Endpoint) bool {
	items, ok := info.AsArray()
	if !ok || len(items) < 3 {
		return false
	}
	t, _ := items[0].AsString()
	d, _ := items[1].AsString()
	return t == protocol.MessageTypeSync.String() && d == dst.String()
}
