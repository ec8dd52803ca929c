// Package directory maintains the working set of peer profiles: search
// results or recent-conversation participants, live-patched by profile
// change events.
package directory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"go.uber.org/zap"
)

// MaxResults bounds handle searches.
const MaxResults = 10

// Directory holds an ordered list of profiles. Each fetch supersedes the
// list wholesale; inbound profile events patch matching entries in place
// and never insert new ones.
type Directory struct {
	self     string
	profiles backend.ProfileStore
	messages backend.MessageStore
	stream   backend.ChangeStream
	bus      *bus.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	entries []chat.Profile
}

// New creates an empty directory for the given local user.
func New(self string, profiles backend.ProfileStore, messages backend.MessageStore, stream backend.ChangeStream, b *bus.Bus, logger *zap.Logger) *Directory {
	return &Directory{
		self:     self,
		profiles: profiles,
		messages: messages,
		stream:   stream,
		bus:      b,
		logger:   logger,
	}
}

// Start subscribes to the change stream for live presence patching.
func (d *Directory) Start(ctx context.Context) {
	ch, unsub := d.stream.Subscribe(64)
	go func() {
		defer unsub()
		for {
			select {
			case evt := <-ch:
				d.apply(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Search replaces the directory with profiles whose handle matches the
// query, excluding the local user. Blank queries are a no-op; the caller
// should request recents instead.
func (d *Directory) Search(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	found, err := d.profiles.SearchProfiles(ctx, query, d.self, MaxResults)
	if err != nil {
		// Prior entries stay in place on a failed fetch.
		d.logger.Warn("profile search failed", zap.Error(err))
		return err
	}
	d.replace(found)
	return nil
}

// Recents replaces the directory with the profiles of every distinct
// conversation partner in the local user's message history. Empty
// history yields an empty directory, not an error.
func (d *Directory) Recents(ctx context.Context) error {
	ids, err := d.messages.PeerIDs(ctx, d.self)
	if err != nil {
		d.logger.Warn("recent peers fetch failed", zap.Error(err))
		return err
	}
	if len(ids) == 0 {
		d.replace(nil)
		return nil
	}
	found, err := d.profiles.ProfilesByID(ctx, ids)
	if err != nil {
		d.logger.Warn("recent profiles fetch failed", zap.Error(err))
		return err
	}
	d.replace(found)
	return nil
}

// Entries returns a copy of the current directory.
func (d *Directory) Entries() []chat.Profile {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]chat.Profile, len(d.entries))
	copy(out, d.entries)
	return out
}

// Handle resolves a user id to its display handle, falling back to the
// id for profiles not in the directory.
func (d *Directory) Handle(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.entries {
		if d.entries[i].ID == id {
			return d.entries[i].Handle
		}
	}
	return id
}

func (d *Directory) replace(entries []chat.Profile) {
	d.mu.Lock()
	d.entries = entries
	d.mu.Unlock()
	d.notifyUpdated()
}

// apply patches a profile change into the directory if the id is already
// present, preserving position. Unknown ids are ignored: a presence event
// never inserts a profile into an unrelated list.
func (d *Directory) apply(evt backend.ChangeEvent) {
	p, ok := evt.(backend.ProfileUpdated)
	if !ok {
		return
	}
	d.mu.Lock()
	patched := false
	for i := range d.entries {
		if d.entries[i].ID == p.Profile.ID {
			d.entries[i] = p.Profile
			patched = true
			break
		}
	}
	d.mu.Unlock()
	if patched {
		d.notifyUpdated()
	}
}

func (d *Directory) notifyUpdated() {
	d.bus.Publish(bus.Event{Kind: bus.KindDirectoryUpdated, Timestamp: time.Now()})
}
