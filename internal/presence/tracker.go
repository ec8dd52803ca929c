// Package presence maintains the local user's advisory online state in
// the profile store.
package presence

import (
	"context"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"go.uber.org/zap"
)

// DefaultHeartbeat bounds presence staleness if an explicit offline
// signal is lost.
const DefaultHeartbeat = 30 * time.Second

// Tracker reasserts online=true on a heartbeat schedule while running
// and marks the user offline on shutdown. Every write is best-effort:
// never retried, never blocking delivery, never surfaced to callers.
type Tracker struct {
	profiles backend.ProfileStore
	userID   string
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
}

// NewTracker creates a tracker for the given user. interval <= 0 selects
// DefaultHeartbeat.
func NewTracker(profiles backend.ProfileStore, userID string, interval time.Duration, logger *zap.Logger) *Tracker {
	if interval <= 0 {
		interval = DefaultHeartbeat
	}
	return &Tracker{
		profiles: profiles,
		userID:   userID,
		interval: interval,
		logger:   logger,
	}
}

// Start marks the user online and begins the heartbeat loop.
func (t *Tracker) Start(ctx context.Context) {
	ctx, t.cancel = context.WithCancel(ctx)
	t.SetOnline(ctx, true)
	go t.loop(ctx)
}

func (t *Tracker) loop(ctx context.Context) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.SetOnline(ctx, true)
		case <-ctx.Done():
			return
		}
	}
}

// SetOnline writes the online flag and last-seen timestamp. Failures are
// logged and tolerated; presence is advisory, not delivery state.
func (t *Tracker) SetOnline(ctx context.Context, online bool) {
	if err := t.profiles.SetPresence(ctx, t.userID, online, time.Now()); err != nil {
		t.logger.Debug("presence write failed",
			zap.Bool("online", online),
			zap.Error(err))
	}
}

// Stop halts the heartbeat and issues the offline write on a detached
// context, so cancellation of the caller's context during teardown
// cannot drop it.
func (t *Tracker) Stop() {
	if t.cancel != nil {
		t.cancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	t.SetOnline(ctx, false)
}
