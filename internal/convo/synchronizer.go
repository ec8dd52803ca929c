// Package convo owns the message timeline for one conversation pair: it
// reconciles optimistic local sends with the authoritative change stream,
// deduplicates and orders messages, and derives the peer typing set.
package convo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pigeon-im/pigeon/internal/attach"
	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"github.com/pigeon-im/pigeon/internal/directory"
	"github.com/pigeon-im/pigeon/internal/typing"
	"go.uber.org/zap"
)

// ErrClosed is returned by operations on a torn-down conversation.
var ErrClosed = errors.New("conversation closed")

// NotifyFunc receives each inbound message not authored by the local
// user, after reconciliation, with the sender's display handle.
type NotifyFunc func(m chat.Message, senderHandle string)

// Synchronizer owns the timeline for one (self, peer) pair. One instance
// per pair; switching peers means closing this one and creating another,
// so in-flight work of the old pair resolves against a discarded
// instance instead of leaking into the new one.
type Synchronizer struct {
	self     string
	peer     string
	messages backend.MessageStore
	stream   backend.ChangeStream
	bcast    backend.Broadcast
	uploader *attach.Uploader
	dir      *directory.Directory
	bus      *bus.Bus
	logger   *zap.Logger
	quiet    time.Duration

	seq atomic.Uint64

	mu       sync.Mutex
	timeline []chat.Message
	typers   map[string]struct{}
	notify   NotifyFunc
	loading  bool
	closed   bool

	channel   backend.Channel
	announcer *typing.Announcer
	cancel    context.CancelFunc
	unsub     func()
}

// New creates a synchronizer for the (self, peer) pair. quiet is the
// typing announcer's idle window; <= 0 selects typing.DefaultQuiet. Call
// Start to begin consuming events and Load to establish the baseline
// timeline.
func New(self, peer string, be *backend.Backend, uploader *attach.Uploader, dir *directory.Directory, b *bus.Bus, quiet time.Duration, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		self:     self,
		peer:     peer,
		messages: be.Messages,
		stream:   be.Stream,
		bcast:    be.Broadcast,
		uploader: uploader,
		dir:      dir,
		bus:      b,
		logger:   logger,
		quiet:    quiet,
		typers:   make(map[string]struct{}),
	}
}

// Peer returns the counterparty of this conversation.
func (s *Synchronizer) Peer() string { return s.peer }

// Start subscribes to store changes and joins the pair's typing channel.
// A failed channel join degrades to no typing indicators; message flow is
// unaffected.
func (s *Synchronizer) Start(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)

	ch, unsub := s.stream.Subscribe(256)
	s.unsub = unsub
	go func() {
		for {
			select {
			case evt := <-ch:
				s.handleChange(evt)
			case <-ctx.Done():
				return
			}
		}
	}()

	channel, err := s.bcast.Join(ctx, typing.ChannelKey(s.self, s.peer), s.self)
	if err != nil {
		s.logger.Warn("typing channel join failed", zap.String("peer", s.peer), zap.Error(err))
		return nil
	}
	s.channel = channel
	s.announcer = typing.NewAnnouncer(channel, s.quiet, s.logger)
	go func() {
		for {
			select {
			case snap, ok := <-channel.Snapshots():
				if !ok {
					return
				}
				s.applyTyping(snap)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

// Close tears down subscriptions and discards the timeline and typing
// set. Idempotent; operations resolving afterwards are dropped.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.timeline = nil
	s.typers = nil
	s.mu.Unlock()

	if s.announcer != nil {
		s.announcer.Stop()
	}
	if s.channel != nil {
		s.channel.Leave()
	}
	if s.unsub != nil {
		s.unsub()
	}
	if s.cancel != nil {
		s.cancel()
	}
}

// Load replaces the timeline wholesale with the stored conversation
// history. A failed load preserves whatever was displayed before; the
// loading flag is cleared either way.
func (s *Synchronizer) Load(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.loading = true
	s.mu.Unlock()

	history, err := s.messages.ListBetween(ctx, s.self, s.peer)

	s.mu.Lock()
	s.loading = false
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("history load failed", zap.String("peer", s.peer), zap.Error(err))
		return fmt.Errorf("load history: %w", err)
	}
	s.timeline = mergeHistory(history, s.timeline)
	sortTimeline(s.timeline)
	s.mu.Unlock()

	s.markSeen()
	return nil
}

// mergeHistory keeps committed messages the live stream delivered while
// the history fetch was in flight, so the replace cannot discard a
// message newer than the snapshot it is replacing.
func mergeHistory(history, current []chat.Message) []chat.Message {
	have := make(map[string]struct{}, len(history))
	for i := range history {
		have[history[i].ID.Server()] = struct{}{}
	}
	for _, m := range current {
		if m.ID.Pending() {
			continue
		}
		if _, ok := have[m.ID.Server()]; !ok {
			history = append(history, m)
		}
	}
	return history
}

// Send validates, uploads any attachment, appends an optimistic pending
// message, then issues the durable write. A blank text with no
// attachment is a no-op. On write failure the pending entry is rolled
// back and a recoverable send error returned; on success the entry stays
// until its echo arrives through the change stream.
func (s *Synchronizer) Send(ctx context.Context, text string, file *attach.File) error {
	blank := strings.TrimSpace(text) == ""
	if blank && file == nil {
		return nil
	}
	if s.announcer != nil {
		s.announcer.Stop()
	}

	var att *chat.Attachment
	if file != nil {
		uploaded, err := s.uploader.Upload(ctx, *file)
		switch {
		case err == nil:
			att = uploaded
		case blank:
			// Nothing left to send without the attachment.
			return fmt.Errorf("send to %s: %w", s.peer, err)
		default:
			// Degrade to text-only; the attachment is dropped.
			s.logger.Warn("attachment dropped from send", zap.String("peer", s.peer), zap.Error(err))
		}
	}

	pending := chat.Message{
		ID:         chat.PendingID(s.seq.Add(1)),
		SenderID:   s.self,
		ReceiverID: s.peer,
		Text:       text,
		Attachment: att,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.timeline = append(s.timeline, pending)
	s.mu.Unlock()

	if _, err := s.messages.InsertMessage(ctx, pending); err != nil {
		s.rollback(pending.ID)
		s.bus.Publish(bus.Event{
			Kind:      bus.KindMessageSendFailed,
			Timestamp: time.Now(),
			Payload:   bus.SendFailure{PeerID: s.peer, Err: err},
		})
		return fmt.Errorf("send to %s: %w", s.peer, err)
	}

	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageSent,
		Timestamp: time.Now(),
		Payload:   bus.MessageNotice{Message: pending},
	})
	return nil
}

// rollback removes the optimistic placeholder after a failed write.
func (s *Synchronizer) rollback(id chat.MessageID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.timeline {
		if s.timeline[i].ID == id {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			return
		}
	}
}

func (s *Synchronizer) handleChange(evt backend.ChangeEvent) {
	switch e := evt.(type) {
	case backend.MessageInserted:
		s.reconcile(e.Message)
	case backend.MessageUpdated:
		s.merge(e.Message)
	case backend.ProfileUpdated:
		// The directory owns the profile projection.
	}
}

// reconcile applies an authoritative message-created event: events for
// other pairs are ignored, duplicate deliveries are ignored, and an own
// echo supersedes the oldest pending placeholder so the timeline never
// shows a placeholder next to its server twin.
func (s *Synchronizer) reconcile(m chat.Message) {
	if !m.Between(s.self, s.peer) {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.hasServer(m.ID.Server()) {
		s.mu.Unlock()
		return
	}
	if m.SenderID == s.self {
		s.dropOldestPending()
	}
	s.timeline = append(s.timeline, m)
	sortTimeline(s.timeline)
	notify := s.notify
	s.mu.Unlock()

	if m.ReceiverID != s.self {
		return
	}
	s.markSeen()
	handle := s.dir.Handle(m.SenderID)
	if notify != nil {
		notify(m, handle)
	}
	s.bus.Publish(bus.Event{
		Kind:      bus.KindMessageReceived,
		Timestamp: time.Now(),
		Payload:   bus.MessageNotice{Message: m, SenderHandle: handle},
	})
}

// merge applies a message-updated event. The only accepted mutation is
// the monotonic seen flip: a stale update can never unsee a message.
func (s *Synchronizer) merge(m chat.Message) {
	if !m.Between(s.self, s.peer) {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for i := range s.timeline {
		if s.timeline[i].ID.Pending() {
			continue
		}
		if s.timeline[i].ID.Server() == m.ID.Server() {
			if m.Seen {
				s.timeline[i].Seen = true
			}
			return
		}
	}
}

func (s *Synchronizer) hasServer(id string) bool {
	for i := range s.timeline {
		if !s.timeline[i].ID.Pending() && s.timeline[i].ID.Server() == id {
			return true
		}
	}
	return false
}

// dropOldestPending removes at most one placeholder. Caller holds s.mu.
func (s *Synchronizer) dropOldestPending() {
	for i := range s.timeline {
		if s.timeline[i].ID.Pending() {
			s.timeline = append(s.timeline[:i], s.timeline[i+1:]...)
			return
		}
	}
}

// markSeen issues the fire-and-forget bulk update marking everything the
// peer has sent as seen. Failure is tolerated; seen state is advisory.
func (s *Synchronizer) markSeen() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		if err := s.messages.MarkSeen(ctx, s.peer, s.self); err != nil {
			s.logger.Debug("seen update failed", zap.String("peer", s.peer), zap.Error(err))
		}
	}()
}

// applyTyping rebuilds the typing set from the latest channel snapshot,
// filtering out the local user's own signal.
func (s *Synchronizer) applyTyping(snap backend.Snapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	typers := make(map[string]struct{})
	for id, state := range snap {
		if id != s.self && state.Typing {
			typers[id] = struct{}{}
		}
	}
	s.typers = typers
	s.mu.Unlock()

	s.bus.Publish(bus.Event{
		Kind:      bus.KindTypingChanged,
		Timestamp: time.Now(),
		Payload:   bus.TypingNotice{PeerIDs: s.TypingPeers()},
	})
}

// Timeline returns a copy of the ordered message list.
func (s *Synchronizer) Timeline() []chat.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]chat.Message, len(s.timeline))
	copy(out, s.timeline)
	return out
}

// TypingPeers returns who is typing now, sorted, local user excluded.
func (s *Synchronizer) TypingPeers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.typers))
	for id := range s.typers {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Loading reports whether a history load is in flight.
func (s *Synchronizer) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// SetNotify registers the new-message hook. Setting a new callback
// replaces the previous one; callbacks never stack.
func (s *Synchronizer) SetNotify(fn NotifyFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notify = fn
}

// Keystroke records composer activity for the typing announcer.
func (s *Synchronizer) Keystroke() {
	if s.announcer != nil {
		s.announcer.Keystroke()
	}
}

func sortTimeline(msgs []chat.Message) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
		}
		return msgs[i].ID.Less(msgs[j].ID)
	})
}
