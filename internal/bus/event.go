package bus

import (
	"time"

	"github.com/pigeon-im/pigeon/internal/chat"
)

// Event kinds published by the core. Subscribers filter by prefix, e.g.
// "message." for all message outcomes.
const (
	KindMessageReceived   = "message.received"
	KindMessageSent       = "message.sent"
	KindMessageSendFailed = "message.send_failed"
	KindTypingChanged     = "typing.changed"
	KindDirectoryUpdated  = "directory.updated"
	KindStatusChanged     = "status.changed"
)

// Event is one notification published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// MessageNotice is the payload for message.received and message.sent.
type MessageNotice struct {
	Message      chat.Message
	SenderHandle string
}

// SendFailure is the payload for message.send_failed.
type SendFailure struct {
	PeerID string
	Err    error
}

// TypingNotice is the payload for typing.changed: who is typing now in
// the active conversation, local user excluded.
type TypingNotice struct {
	PeerIDs []string
}
