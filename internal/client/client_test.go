package client

import (
	"context"
	"testing"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend/local"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"github.com/pigeon-im/pigeon/internal/directory"
	"go.uber.org/zap"
)

// testClient stands up a client over a fresh local backend.
func testClient(t *testing.T, selfID string) *Client {
	t.Helper()
	be, db, err := local.New(t.TempDir(), selfID)
	if err != nil {
		t.Fatalf("local.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	b := bus.New()
	dir := directory.New(selfID, be.Profiles, be.Messages, be.Stream, b, zap.NewNop())
	c := New(be, dir, b, 0, zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition never held")
}

func TestNoConversationYet(t *testing.T) {
	c := testClient(t, "alice")

	if err := c.Send(context.Background(), "hello", nil); err != ErrNoConversation {
		t.Fatalf("Send = %v, want ErrNoConversation", err)
	}
	if tl := c.Timeline(); tl != nil {
		t.Fatalf("Timeline = %v, want nil", tl)
	}
	if c.Loading() {
		t.Fatal("Loading true with no conversation")
	}
	c.Keystroke() // must not panic
}

func TestSendAppearsInTimeline(t *testing.T) {
	c := testClient(t, "alice")
	ctx := context.Background()

	if err := c.Open(ctx, "bob"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Send(ctx, "hello bob", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	// The optimistic entry is visible immediately, and the committed echo
	// replaces it without a duplicate.
	tl := c.Timeline()
	if len(tl) != 1 {
		t.Fatalf("timeline size %d, want 1", len(tl))
	}
	waitFor(t, func() bool {
		tl := c.Timeline()
		return len(tl) == 1 && !tl[0].ID.Pending()
	})
}

func TestPeerSwitchIsolation(t *testing.T) {
	c := testClient(t, "alice")
	ctx := context.Background()

	if err := c.Open(ctx, "bob"); err != nil {
		t.Fatalf("Open bob: %v", err)
	}
	if err := c.Send(ctx, "for bob", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	waitFor(t, func() bool {
		tl := c.Timeline()
		return len(tl) == 1 && !tl[0].ID.Pending()
	})

	if err := c.Open(ctx, "carol"); err != nil {
		t.Fatalf("Open carol: %v", err)
	}
	if tl := c.Timeline(); len(tl) != 0 {
		t.Fatalf("carol timeline has %d entries, want 0: %v", len(tl), tl)
	}

	if err := c.Send(ctx, "for carol", nil); err != nil {
		t.Fatalf("Send to carol: %v", err)
	}
	waitFor(t, func() bool {
		tl := c.Timeline()
		return len(tl) == 1 && tl[0].Text == "for carol"
	})

	// Switching back reloads bob's history only.
	if err := c.Open(ctx, "bob"); err != nil {
		t.Fatalf("reopen bob: %v", err)
	}
	waitFor(t, func() bool {
		tl := c.Timeline()
		return len(tl) == 1 && tl[0].Text == "for bob"
	})
}

func TestInboundNotifies(t *testing.T) {
	c := testClient(t, "alice")
	ctx := context.Background()

	notified := make(chan chat.Message, 1)
	c.SetNotify(func(m chat.Message, senderHandle string) {
		select {
		case notified <- m:
		default:
		}
	})

	if err := c.Open(ctx, "bob"); err != nil {
		t.Fatalf("Open: %v", err)
	}

	// Inbound message written directly through the store, as the change
	// stream would surface it.
	if _, err := c.be.Messages.InsertMessage(ctx, chat.Message{
		SenderID:   "bob",
		ReceiverID: "alice",
		Text:       "hi alice",
	}); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	select {
	case m := <-notified:
		if m.Text != "hi alice" {
			t.Fatalf("notified with %q", m.Text)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notify callback never fired")
	}

	waitFor(t, func() bool {
		tl := c.Timeline()
		return len(tl) == 1 && tl[0].SenderID == "bob"
	})
}

func TestOwnProfile(t *testing.T) {
	c := testClient(t, "alice")
	ctx := context.Background()

	if err := c.be.Session.SignUp(ctx, "alice-the-great", ""); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	p, err := c.Profile(ctx)
	if err != nil {
		t.Fatalf("Profile: %v", err)
	}
	if p.Handle != "alice-the-great" {
		t.Errorf("handle = %q", p.Handle)
	}
}
