// Package typing derives the broadcast channel for a conversation pair
// and owns the debounced announcement of the local user's typing flag.
package typing

import (
	"context"
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/chat"
	"go.uber.org/zap"
)

// DefaultQuiet is how long the composer must stay idle before the typing
// flag is withdrawn.
const DefaultQuiet = 2 * time.Second

// ChannelKey returns the broadcast channel name for a conversation pair.
// Both participants derive the same key.
func ChannelKey(a, b string) string {
	return "typing:" + chat.PairKey(a, b)
}

// Announcer publishes the local user's typing flag on a broadcast
// channel. Every keystroke asserts typing and re-arms the quiet timer;
// the timer elapsing, a send, or Stop withdraws the flag. The timer is a
// single cancellable scheduled task, never stacked.
type Announcer struct {
	ch     backend.Channel
	quiet  time.Duration
	logger *zap.Logger

	mu     sync.Mutex
	timer  *time.Timer
	active bool
}

// NewAnnouncer creates an announcer over an already joined channel.
// quiet <= 0 selects DefaultQuiet.
func NewAnnouncer(ch backend.Channel, quiet time.Duration, logger *zap.Logger) *Announcer {
	if quiet <= 0 {
		quiet = DefaultQuiet
	}
	return &Announcer{ch: ch, quiet: quiet, logger: logger}
}

// Keystroke records composer activity: announces typing and restarts the
// quiet timer.
func (a *Announcer) Keystroke() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
	}
	if !a.active {
		a.active = true
		a.announce(true)
	}
	a.timer = time.AfterFunc(a.quiet, a.quietElapsed)
}

// Stop cancels the quiet timer and withdraws the typing flag if it is
// currently asserted. Called on send and on conversation teardown.
func (a *Announcer) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
	if a.active {
		a.active = false
		a.announce(false)
	}
}

func (a *Announcer) quietElapsed() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.active {
		return
	}
	a.active = false
	a.announce(false)
}

// announce is best-effort: typing state is advisory and failures are
// never surfaced.
func (a *Announcer) announce(typing bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.ch.Announce(ctx, typing); err != nil {
		a.logger.Debug("typing announce failed", zap.Bool("typing", typing), zap.Error(err))
	}
}
