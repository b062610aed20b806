package protocol

import "fmt"

// MessageType is the first element of every packet.
type MessageType uint8

const (
	MessageTypeMsg MessageType = iota + 1
	MessageTypeSync
	MessageTypeDereg
	MessageTypeReqInitSync
	// MessageTypeAck only appears on the wire; it is never a sendable message.
	MessageTypeAck
)

// MaxMessageID is the largest message ID; IDs wrap to 0 after it.
const MaxMessageID = 0xFFFFFF

var messageTypeNames = map[MessageType]string{
	MessageTypeMsg:         "msg",
	MessageTypeSync:        "sync",
	MessageTypeDereg:       "dereg",
	MessageTypeReqInitSync: "req_init_sync",
	MessageTypeAck:         "ack",
}

func (t MessageType) String() string {
	if name, ok := messageTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("type(%d)", uint8(t))
}

// IsData reports whether t carries an ID and payload and must be acknowledged.
func (t MessageType) IsData() bool {
	switch t {
	case MessageTypeMsg, MessageTypeSync, MessageTypeDereg, MessageTypeReqInitSync:
		return true
	default:
		return false
	}
}

// ParseMessageType maps a wire name back to its type.
func ParseMessageType(s string) (MessageType, error) {
	for t, name := range messageTypeNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
}

// NextMessageID advances a 24-bit message ID counter.
func NextMessageID(id uint32) uint32 {
	return (id + 1) & MaxMessageID
}
