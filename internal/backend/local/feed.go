package local

import (
	"sync"

	"github.com/pigeon-im/pigeon/internal/backend"
)

// feed fans change events out to subscribers. Delivery is non-blocking:
// a full subscriber drops events, matching the at-least-once contract of
// a real change stream (consumers reconcile, they don't replay).
type feed struct {
	mu   sync.RWMutex
	subs map[int]chan backend.ChangeEvent
	next int
}

func newFeed() *feed {
	return &feed{subs: make(map[int]chan backend.ChangeEvent)}
}

func (f *feed) publish(evt backend.ChangeEvent) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ch := range f.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe implements backend.ChangeStream for the DB.
func (db *DB) Subscribe(buf int) (<-chan backend.ChangeEvent, func()) {
	return db.feed.subscribe(buf)
}

func (f *feed) subscribe(buf int) (<-chan backend.ChangeEvent, func()) {
	ch := make(chan backend.ChangeEvent, buf)
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	return ch, func() {
		f.mu.Lock()
		delete(f.subs, id)
		f.mu.Unlock()
	}
}
