package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/chat"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	maxBackoff = 30 * time.Second
)

// frame is the realtime wire envelope, both directions.
type frame struct {
	Type    string                 `json:"type"`
	Table   string                 `json:"table,omitempty"`
	Topic   string                 `json:"topic,omitempty"`
	Record  json.RawMessage        `json:"record,omitempty"`
	Members map[string]memberState `json:"members,omitempty"`
}

type memberState struct {
	Typing bool `json:"typing"`
}

type messageRecord struct {
	ID             string    `json:"id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	AttachmentURL  string    `json:"attachment_url"`
	AttachmentName string    `json:"attachment_name"`
	AttachmentType string    `json:"attachment_type"`
	Seen           bool      `json:"seen"`
	CreatedAt      time.Time `json:"created_at"`
}

type profileRecord struct {
	ID       string    `json:"id"`
	Handle   string    `json:"handle"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

// Realtime maintains the websocket session to the realtime endpoint. It
// carries two things: row change events fanned out to stream
// subscribers, and topic membership snapshots routed to joined
// channels. The connection reconnects with backoff; consumers reconcile
// on redelivery rather than relying on exactly-once.
type Realtime struct {
	url    string
	token  func() string
	logger *zap.Logger

	// OnState is invoked from the run loop whenever the connection is
	// established or lost. Set before Start.
	OnState func(connected bool)

	mu     sync.Mutex
	conn   *websocket.Conn
	subs   map[int]chan backend.ChangeEvent
	nextID int
	topics map[string]*remoteChannel
	closed bool
}

// NewRealtime creates a client for the given websocket URL. token is
// called at dial time so a refreshed credential is picked up on
// reconnect.
func NewRealtime(url string, token func() string, logger *zap.Logger) *Realtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Realtime{
		url:    url,
		token:  token,
		logger: logger,
		subs:   make(map[int]chan backend.ChangeEvent),
		topics: make(map[string]*remoteChannel),
	}
}

// Start runs the connection loop until ctx is canceled.
func (rt *Realtime) Start(ctx context.Context) {
	go rt.run(ctx)
}

func (rt *Realtime) run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := rt.dial(ctx)
		if err != nil {
			rt.logger.Warn("realtime dial failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		rt.mu.Lock()
		rt.conn = conn
		topics := make([]string, 0, len(rt.topics))
		for topic := range rt.topics {
			topics = append(topics, topic)
		}
		rt.mu.Unlock()

		// Rejoin every live topic on a fresh connection.
		for _, topic := range topics {
			if err := rt.send(frame{Type: "join", Topic: topic}); err != nil {
				rt.logger.Warn("rejoin failed", zap.String("topic", topic), zap.Error(err))
			}
		}

		if rt.OnState != nil {
			rt.OnState(true)
		}
		rt.logger.Info("realtime connected", zap.String("url", rt.url))

		err = rt.readLoop(ctx, conn)

		rt.mu.Lock()
		rt.conn = nil
		rt.mu.Unlock()
		_ = conn.Close()

		if rt.OnState != nil {
			rt.OnState(false)
		}
		if ctx.Err() != nil {
			return
		}
		rt.logger.Warn("realtime connection lost", zap.Error(err))
	}
}

func (rt *Realtime) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if rt.token != nil {
		if tok := rt.token(); tok != "" {
			header.Set("Authorization", "Bearer "+tok)
		}
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, rt.url, header)
	return conn, err
}

// readLoop pumps frames off the connection until it fails, keeping the
// pong deadline fresh and answering server pings via the default
// handler.
func (rt *Realtime) readLoop(ctx context.Context, conn *websocket.Conn) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingDone := make(chan struct{})
	defer close(pingDone)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			case <-pingDone:
				return
			case <-ctx.Done():
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		var f frame
		if err := conn.ReadJSON(&f); err != nil {
			return err
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		rt.dispatch(f)
	}
}

func (rt *Realtime) dispatch(f frame) {
	switch f.Type {
	case "insert", "update":
		rt.dispatchChange(f)
	case "snapshot":
		rt.dispatchSnapshot(f)
	default:
		rt.logger.Debug("unknown realtime frame", zap.String("type", f.Type))
	}
}

func (rt *Realtime) dispatchChange(f frame) {
	var evt backend.ChangeEvent
	switch f.Table {
	case "messages":
		var rec messageRecord
		if err := json.Unmarshal(f.Record, &rec); err != nil {
			rt.logger.Warn("bad message record", zap.Error(err))
			return
		}
		m := rec.toMessage()
		if f.Type == "insert" {
			evt = backend.MessageInserted{Message: m}
		} else {
			evt = backend.MessageUpdated{Message: m}
		}
	case "profiles":
		var rec profileRecord
		if err := json.Unmarshal(f.Record, &rec); err != nil {
			rt.logger.Warn("bad profile record", zap.Error(err))
			return
		}
		evt = backend.ProfileUpdated{Profile: chat.Profile{
			ID:       rec.ID,
			Handle:   rec.Handle,
			Online:   rec.Online,
			LastSeen: rec.LastSeen.UTC(),
		}}
	default:
		return
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for _, ch := range rt.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (rt *Realtime) dispatchSnapshot(f frame) {
	snap := make(backend.Snapshot, len(f.Members))
	for id, st := range f.Members {
		snap[id] = backend.MemberState{Typing: st.Typing}
	}

	rt.mu.Lock()
	ch := rt.topics[f.Topic]
	rt.mu.Unlock()
	if ch != nil {
		ch.push(snap)
	}
}

func (rec messageRecord) toMessage() chat.Message {
	m := chat.Message{
		ID:         chat.ServerID(rec.ID),
		SenderID:   rec.SenderID,
		ReceiverID: rec.ReceiverID,
		Text:       rec.Body,
		Seen:       rec.Seen,
		CreatedAt:  rec.CreatedAt.UTC(),
	}
	if rec.AttachmentURL != "" {
		m.Attachment = &chat.Attachment{
			URL:       rec.AttachmentURL,
			Name:      rec.AttachmentName,
			MediaType: rec.AttachmentType,
		}
	}
	return m
}

func (rt *Realtime) send(f frame) error {
	rt.mu.Lock()
	conn := rt.conn
	rt.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime not connected")
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(f)
}

// Subscribe implements backend.ChangeStream.
func (rt *Realtime) Subscribe(buf int) (<-chan backend.ChangeEvent, func()) {
	ch := make(chan backend.ChangeEvent, buf)
	rt.mu.Lock()
	id := rt.nextID
	rt.nextID++
	rt.subs[id] = ch
	rt.mu.Unlock()

	return ch, func() {
		rt.mu.Lock()
		delete(rt.subs, id)
		rt.mu.Unlock()
	}
}

// Join implements backend.Broadcast: the topic is registered so it is
// rejoined after a reconnect, and the join frame is sent if a
// connection is live now.
func (rt *Realtime) Join(_ context.Context, key, selfID string) (backend.Channel, error) {
	ch := &remoteChannel{
		rt:    rt,
		topic: key,
		self:  selfID,
		snaps: make(chan backend.Snapshot, 8),
	}

	rt.mu.Lock()
	if rt.topics[key] != nil {
		rt.mu.Unlock()
		return nil, fmt.Errorf("already joined %q", key)
	}
	rt.topics[key] = ch
	rt.mu.Unlock()

	if err := rt.send(frame{Type: "join", Topic: key}); err != nil {
		// Not fatal: the run loop rejoins registered topics when the
		// connection comes up.
		rt.logger.Debug("join deferred", zap.String("topic", key), zap.Error(err))
	}
	return ch, nil
}

type remoteChannel struct {
	rt    *Realtime
	topic string
	self  string
	snaps chan backend.Snapshot

	mu   sync.Mutex
	left bool
}

func (c *remoteChannel) Announce(_ context.Context, typing bool) error {
	c.mu.Lock()
	left := c.left
	c.mu.Unlock()
	if left {
		return fmt.Errorf("channel left")
	}
	rec, _ := json.Marshal(memberState{Typing: typing})
	return c.rt.send(frame{Type: "announce", Topic: c.topic, Record: rec})
}

func (c *remoteChannel) Snapshots() <-chan backend.Snapshot {
	return c.snaps
}

func (c *remoteChannel) Leave() {
	c.mu.Lock()
	if c.left {
		c.mu.Unlock()
		return
	}
	c.left = true
	c.mu.Unlock()

	c.rt.mu.Lock()
	delete(c.rt.topics, c.topic)
	c.rt.mu.Unlock()

	_ = c.rt.send(frame{Type: "leave", Topic: c.topic})
	close(c.snaps)
}

// push delivers a snapshot without blocking, displacing the oldest
// buffered one when the consumer lags.
func (c *remoteChannel) push(snap backend.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
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
