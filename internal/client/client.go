// Package client is the application-facing surface of the sync core: the
// active conversation, the directory, and the notification hook.
package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/attach"
	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"github.com/pigeon-im/pigeon/internal/convo"
	"github.com/pigeon-im/pigeon/internal/directory"
	"go.uber.org/zap"
)

// ErrNoConversation is returned by conversation operations before Open.
var ErrNoConversation = errors.New("no active conversation")

// Client binds the core components together for one signed-in user. At
// most one conversation pair is active at a time; Open switches pairs by
// tearing the old synchronizer down first, so nothing from the old pair
// ever bleeds into the new one.
type Client struct {
	be     *backend.Backend
	dir    *directory.Directory
	bus    *bus.Bus
	logger *zap.Logger
	quiet  time.Duration

	mu     sync.Mutex
	conv   *convo.Synchronizer
	notify convo.NotifyFunc
}

// New creates a client over an assembled backend. quiet is the typing
// announcer's idle window for every conversation it opens.
func New(be *backend.Backend, dir *directory.Directory, b *bus.Bus, quiet time.Duration, logger *zap.Logger) *Client {
	return &Client{be: be, dir: dir, bus: b, quiet: quiet, logger: logger}
}

// UserID returns the signed-in user id.
func (c *Client) UserID() string {
	return c.be.Session.UserID()
}

// Open activates the conversation with peer. Any previous pair is closed
// first: its subscriptions are torn down and its timeline and typing set
// discarded, never merged. A failed history load leaves the new pair
// active with an empty timeline and returns the error.
func (c *Client) Open(ctx context.Context, peer string) error {
	c.mu.Lock()
	old := c.conv
	c.conv = nil
	notify := c.notify
	c.mu.Unlock()
	if old != nil {
		old.Close()
	}

	self := c.UserID()
	uploader := attach.NewUploader(c.be.Blobs, self, c.logger)
	s := convo.New(self, peer, c.be, uploader, c.dir, c.bus, c.quiet, c.logger)
	if err := s.Start(ctx); err != nil {
		s.Close()
		return err
	}
	if notify != nil {
		s.SetNotify(notify)
	}

	c.mu.Lock()
	c.conv = s
	c.mu.Unlock()

	c.logger.Info("conversation opened", zap.String("peer", peer))
	return s.Load(ctx)
}

// Send delivers text and an optional attachment to the active peer.
func (c *Client) Send(ctx context.Context, text string, file *attach.File) error {
	conv := c.active()
	if conv == nil {
		return ErrNoConversation
	}
	return conv.Send(ctx, text, file)
}

// Timeline returns the active conversation's ordered message list.
func (c *Client) Timeline() []chat.Message {
	conv := c.active()
	if conv == nil {
		return nil
	}
	return conv.Timeline()
}

// TypingPeers returns who is typing in the active conversation.
func (c *Client) TypingPeers() []string {
	conv := c.active()
	if conv == nil {
		return nil
	}
	return conv.TypingPeers()
}

// Loading reports whether the active conversation is loading history.
func (c *Client) Loading() bool {
	conv := c.active()
	return conv != nil && conv.Loading()
}

// Keystroke records composer activity for the typing announcer.
func (c *Client) Keystroke() {
	if conv := c.active(); conv != nil {
		conv.Keystroke()
	}
}

// SetNotify registers the new-message callback, replacing any previous
// one. The registration survives peer switches.
func (c *Client) SetNotify(fn convo.NotifyFunc) {
	c.mu.Lock()
	c.notify = fn
	conv := c.conv
	c.mu.Unlock()
	if conv != nil {
		conv.SetNotify(fn)
	}
}

// Search queries the directory by handle.
func (c *Client) Search(ctx context.Context, query string) error {
	return c.dir.Search(ctx, query)
}

// Recents loads the directory with recent conversation partners.
func (c *Client) Recents(ctx context.Context) error {
	return c.dir.Recents(ctx)
}

// Directory returns the current directory entries.
func (c *Client) Directory() []chat.Profile {
	return c.dir.Entries()
}

// Profile returns the signed-in user's own profile.
func (c *Client) Profile(ctx context.Context) (chat.Profile, error) {
	return c.be.Profiles.Profile(ctx, c.UserID())
}

// Close tears down the active conversation.
func (c *Client) Close() {
	c.mu.Lock()
	conv := c.conv
	c.conv = nil
	c.mu.Unlock()
	if conv != nil {
		conv.Close()
	}
}

func (c *Client) active() *convo.Synchronizer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv
}
