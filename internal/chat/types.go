// Package chat defines the domain types shared by the synchronization core:
// messages, profiles, attachments, and the pending/committed message
// identity.
package chat

import (
	"fmt"
	"time"
)

// MessageID identifies a message either by a locally minted pending
// sequence number or by its server-assigned identifier, never both. A
// pending id exists only between an optimistic send and the arrival of
// its echo.
type MessageID struct {
	server string
	local  uint64
}

// PendingID mints the identity of an optimistic placeholder.
func PendingID(seq uint64) MessageID {
	return MessageID{local: seq}
}

// ServerID wraps a server-assigned identifier.
func ServerID(id string) MessageID {
	return MessageID{server: id}
}

// Pending reports whether the id is a local placeholder.
func (id MessageID) Pending() bool {
	return id.server == ""
}

// Server returns the server-assigned identifier, or "" while pending.
func (id MessageID) Server() string {
	return id.server
}

func (id MessageID) String() string {
	if id.Pending() {
		return fmt.Sprintf("pending/%d", id.local)
	}
	return id.server
}

// Less defines a stable tie-break order for messages sharing a creation
// timestamp: committed ids sort before pending ones, committed ids by
// server identifier, pending ids by mint order.
func (id MessageID) Less(other MessageID) bool {
	if id.Pending() != other.Pending() {
		return !id.Pending()
	}
	if id.Pending() {
		return id.local < other.local
	}
	return id.server < other.server
}

// Attachment is a stable reference to an uploaded binary payload.
type Attachment struct {
	URL       string
	Name      string
	MediaType string
}

// Message is one entry of a conversation timeline. Immutable once
// committed, except Seen which flips false to true exactly once.
type Message struct {
	ID         MessageID
	SenderID   string
	ReceiverID string
	Text       string
	Attachment *Attachment
	Seen       bool
	CreatedAt  time.Time
}

// Between reports whether the message belongs to the conversation between
// a and b, in either direction.
func (m Message) Between(a, b string) bool {
	if m.SenderID == a && m.ReceiverID == b {
		return true
	}
	return m.SenderID == b && m.ReceiverID == a
}

// Profile is a user's directory entry with advisory presence state.
type Profile struct {
	ID       string
	Handle   string
	Online   bool
	LastSeen time.Time
}

// PairKey returns a deterministic key for the unordered pair of user ids,
// so both participants derive the same key regardless of which side is
// sender in a given exchange.
func PairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + ":" + b
}
