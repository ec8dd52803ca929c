package local

import (
	"context"
	"errors"
	"sync"

	"github.com/pigeon-im/pigeon/internal/backend"
)

// ErrChannelLeft is returned when announcing on a channel after Leave.
var ErrChannelLeft = errors.New("channel left")

// Hub is the in-process broadcast primitive: named channels carrying
// ephemeral per-participant state, with the full membership snapshot
// fanned out to every joined connection on each change.
type Hub struct {
	mu    sync.Mutex
	rooms map[string]*room
}

type room struct {
	members map[string]backend.MemberState
	conns   map[*conn]struct{}
}

type conn struct {
	hub   *Hub
	key   string
	self  string
	snaps chan backend.Snapshot
	left  bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{rooms: make(map[string]*room)}
}

// Join implements backend.Broadcast. The joiner immediately receives the
// channel's current membership state.
func (h *Hub) Join(_ context.Context, key, selfID string) (backend.Channel, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r := h.rooms[key]
	if r == nil {
		r = &room{
			members: make(map[string]backend.MemberState),
			conns:   make(map[*conn]struct{}),
		}
		h.rooms[key] = r
	}

	c := &conn{hub: h, key: key, self: selfID, snaps: make(chan backend.Snapshot, 8)}
	r.conns[c] = struct{}{}
	c.push(r.snapshot())
	return c, nil
}

// Announce publishes this participant's typing flag and fans the updated
// membership state out to every connection on the channel.
func (c *conn) Announce(_ context.Context, typing bool) error {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.left {
		return ErrChannelLeft
	}
	r := c.hub.rooms[c.key]
	if r == nil {
		return ErrChannelLeft
	}
	r.members[c.self] = backend.MemberState{Typing: typing}
	r.broadcast()
	return nil
}

func (c *conn) Snapshots() <-chan backend.Snapshot {
	return c.snaps
}

// Leave removes this participant's ephemeral state and notifies the
// remaining members. The snapshot channel is closed.
func (c *conn) Leave() {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	if c.left {
		return
	}
	c.left = true

	r := c.hub.rooms[c.key]
	if r != nil {
		delete(r.conns, c)
		delete(r.members, c.self)
		if len(r.conns) == 0 {
			delete(c.hub.rooms, c.key)
		} else {
			r.broadcast()
		}
	}
	close(c.snaps)
}

// push delivers a snapshot without blocking: if the subscriber is full,
// the oldest snapshot is displaced by the latest one.
func (c *conn) push(snap backend.Snapshot) {
	if c.left {
		return
	}
	select {
	case c.snaps <- snap:
		return
	default:
	}
	select {
	case <-c.snaps:
	default:
	}
	select {
	case c.snaps <- snap:
	default:
	}
}

func (r *room) snapshot() backend.Snapshot {
	snap := make(backend.Snapshot, len(r.members))
	for id, state := range r.members {
		snap[id] = state
	}
	return snap
}

func (r *room) broadcast() {
	snap := r.snapshot()
	for c := range r.conns {
		c.push(snap)
	}
}
