package remote

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pigeon-im/pigeon/internal/backend"
	"go.uber.org/zap"
)

func TestDispatchMessageInsert(t *testing.T) {
	rt := NewRealtime("ws://unused", nil, zap.NewNop())
	events, unsub := rt.Subscribe(4)
	defer unsub()

	rec, _ := json.Marshal(messageRecord{
		ID:         "m1",
		SenderID:   "alice",
		ReceiverID: "bob",
		Body:       "hello",
		CreatedAt:  time.Now(),
	})
	rt.dispatch(frame{Type: "insert", Table: "messages", Record: rec})

	select {
	case evt := <-events:
		ins, ok := evt.(backend.MessageInserted)
		if !ok {
			t.Fatalf("got %T, want MessageInserted", evt)
		}
		if ins.Message.ID.Server() != "m1" || ins.Message.Text != "hello" {
			t.Fatalf("wrong message: %+v", ins.Message)
		}
		if ins.Message.Attachment != nil {
			t.Error("unexpected attachment")
		}
	default:
		t.Fatal("no event dispatched")
	}
}

func TestDispatchMessageUpdateWithAttachment(t *testing.T) {
	rt := NewRealtime("ws://unused", nil, zap.NewNop())
	events, unsub := rt.Subscribe(4)
	defer unsub()

	rec, _ := json.Marshal(messageRecord{
		ID:             "m1",
		SenderID:       "alice",
		ReceiverID:     "bob",
		AttachmentURL:  "https://blobs/x.png",
		AttachmentName: "x.png",
		AttachmentType: "image/png",
		Seen:           true,
	})
	rt.dispatch(frame{Type: "update", Table: "messages", Record: rec})

	select {
	case evt := <-events:
		up, ok := evt.(backend.MessageUpdated)
		if !ok {
			t.Fatalf("got %T, want MessageUpdated", evt)
		}
		if !up.Message.Seen {
			t.Error("seen flag lost")
		}
		if up.Message.Attachment == nil || up.Message.Attachment.Name != "x.png" {
			t.Errorf("attachment lost: %+v", up.Message.Attachment)
		}
	default:
		t.Fatal("no event dispatched")
	}
}

func TestDispatchProfileUpdate(t *testing.T) {
	rt := NewRealtime("ws://unused", nil, zap.NewNop())
	events, unsub := rt.Subscribe(4)
	defer unsub()

	rec, _ := json.Marshal(profileRecord{ID: "bob", Handle: "bob", Online: true})
	rt.dispatch(frame{Type: "update", Table: "profiles", Record: rec})

	select {
	case evt := <-events:
		up, ok := evt.(backend.ProfileUpdated)
		if !ok {
			t.Fatalf("got %T, want ProfileUpdated", evt)
		}
		if up.Profile.ID != "bob" || !up.Profile.Online {
			t.Fatalf("wrong profile: %+v", up.Profile)
		}
	default:
		t.Fatal("no event dispatched")
	}
}

func TestDispatchSnapshotRoutesToTopic(t *testing.T) {
	rt := NewRealtime("ws://unused", nil, zap.NewNop())

	ch, err := rt.Join(context.Background(), "typing:alice:bob", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer ch.Leave()

	rt.dispatch(frame{
		Type:    "snapshot",
		Topic:   "typing:alice:bob",
		Members: map[string]memberState{"bob": {Typing: true}},
	})
	// Snapshots for other topics are dropped, not misrouted.
	rt.dispatch(frame{
		Type:    "snapshot",
		Topic:   "typing:alice:carol",
		Members: map[string]memberState{"carol": {Typing: true}},
	})

	select {
	case snap := <-ch.Snapshots():
		if !snap["bob"].Typing {
			t.Fatalf("wrong snapshot: %v", snap)
		}
	default:
		t.Fatal("no snapshot delivered")
	}
	select {
	case snap := <-ch.Snapshots():
		t.Fatalf("misrouted snapshot: %v", snap)
	default:
	}
}

func TestJoinTwiceRejected(t *testing.T) {
	rt := NewRealtime("ws://unused", nil, zap.NewNop())

	ch, err := rt.Join(context.Background(), "typing:k", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if _, err := rt.Join(context.Background(), "typing:k", "alice"); err == nil {
		t.Fatal("second join accepted")
	}
	ch.Leave()

	// After leaving, the topic is free again.
	ch2, err := rt.Join(context.Background(), "typing:k", "alice")
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	ch2.Leave()
}

func TestRealtimeSessionOverWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	frames := make(chan frame, 8)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization header %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			frames <- f
			if f.Type == "announce" {
				// Echo membership back as the server would.
				_ = conn.WriteJSON(frame{
					Type:    "snapshot",
					Topic:   f.Topic,
					Members: map[string]memberState{"alice": {Typing: true}},
				})
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	rt := NewRealtime(wsURL, func() string { return "tok" }, zap.NewNop())

	connected := make(chan bool, 4)
	rt.OnState = func(up bool) { connected <- up }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rt.Start(ctx)

	select {
	case up := <-connected:
		if !up {
			t.Fatal("first state change was a disconnect")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("never connected")
	}

	ch, err := rt.Join(ctx, "typing:alice:bob", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	defer ch.Leave()

	select {
	case f := <-frames:
		if f.Type != "join" || f.Topic != "typing:alice:bob" {
			t.Fatalf("unexpected frame: %+v", f)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server never saw join")
	}

	if err := ch.Announce(ctx, true); err != nil {
		t.Fatalf("Announce: %v", err)
	}
	<-frames // announce frame

	select {
	case snap := <-ch.Snapshots():
		if !snap["alice"].Typing {
			t.Fatalf("wrong snapshot: %v", snap)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no snapshot from server")
	}
}
