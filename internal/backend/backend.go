// Package backend declares the capabilities the synchronization core
// consumes from its storage/transport collaborator. Implementations live
// in the local and remote subpackages; the core never depends on either
// directly.
package backend

import (
	"context"
	"time"

	"github.com/pigeon-im/pigeon/internal/chat"
)

// MessageStore is the durable message record store. Row-level
// authorization is enforced by the implementation; a rejected operation
// surfaces as an ordinary error.
type MessageStore interface {
	// InsertMessage persists a message and returns the server-assigned
	// copy (committed id, authoritative timestamp).
	InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error)

	// ListBetween returns the full conversation between a and b, both
	// directions, ascending by creation time.
	ListBetween(ctx context.Context, a, b string) ([]chat.Message, error)

	// MarkSeen bulk-updates all unseen messages from senderID to
	// receiverID to seen.
	MarkSeen(ctx context.Context, senderID, receiverID string) error

	// PeerIDs returns the distinct counterparties appearing as sender or
	// receiver with userID across message history.
	PeerIDs(ctx context.Context, userID string) ([]string, error)
}

// ProfileStore is the durable profile record store.
type ProfileStore interface {
	Profile(ctx context.Context, id string) (chat.Profile, error)
	ProfilesByID(ctx context.Context, ids []string) ([]chat.Profile, error)

	// SearchProfiles matches handles by substring, excluding excludeID,
	// returning at most limit results.
	SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]chat.Profile, error)

	// SetPresence updates the advisory online flag and last-seen
	// timestamp. Last write wins at the store layer.
	SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error
}

// BlobStore is write-by-key binary object storage returning a public
// reference.
type BlobStore interface {
	Put(ctx context.Context, key, mediaType string, data []byte) (url string, err error)
}

// ChangeStream delivers store change notifications at least once. Each
// subscriber gets its own channel; slow subscribers drop events.
type ChangeStream interface {
	Subscribe(buf int) (<-chan ChangeEvent, func())
}

// Broadcast is the ephemeral channel primitive: join a named channel and
// receive the synchronized full membership state on every change.
type Broadcast interface {
	Join(ctx context.Context, key, selfID string) (Channel, error)
}

// Channel is one joined broadcast channel. State announced here is
// ephemeral: it is lost when the participant leaves.
type Channel interface {
	// Announce publishes this participant's typing flag to the channel.
	Announce(ctx context.Context, typing bool) error

	// Snapshots yields the latest full membership state after each
	// change, including this participant's own entry.
	Snapshots() <-chan Snapshot

	Leave()
}

// Snapshot is the complete membership state of a channel, keyed by
// participant id.
type Snapshot map[string]MemberState

// MemberState is the payload one participant has announced.
type MemberState struct {
	Typing bool
}

// Session is the authentication provider surface the core needs.
type Session interface {
	// UserID returns the signed-in user id, or "" when signed out.
	UserID() string
	SignIn(ctx context.Context, handle, password string) error
	SignUp(ctx context.Context, handle, password string) error
	SignOut(ctx context.Context) error
}

// Backend bundles every capability the core consumes.
type Backend struct {
	Messages  MessageStore
	Profiles  ProfileStore
	Blobs     BlobStore
	Stream    ChangeStream
	Broadcast Broadcast
	Session   Session
}
