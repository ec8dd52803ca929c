package local

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/chat"
)

// InsertMessage persists a message under a freshly assigned id and an
// authoritative timestamp, then publishes the insert on the change feed.
func (db *DB) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	id := uuid.NewString()
	now := time.Now().UTC()

	var url, name, mediaType string
	if m.Attachment != nil {
		url, name, mediaType = m.Attachment.URL, m.Attachment.Name, m.Attachment.MediaType
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO messages (id, sender_id, receiver_id, body, attachment_url, attachment_name, attachment_type, seen, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		id, m.SenderID, m.ReceiverID, m.Text, url, name, mediaType, now.UnixMilli())
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	committed := m
	committed.ID = chat.ServerID(id)
	committed.Seen = false
	committed.CreatedAt = now

	db.feed.publish(backend.MessageInserted{Message: committed})
	return committed, nil
}

// ListBetween returns the conversation between a and b, both directions,
// ascending by creation time with id tie-break.
func (db *DB) ListBetween(ctx context.Context, a, b string) ([]chat.Message, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, attachment_url, attachment_name, attachment_type, seen, created_at
		FROM messages
		WHERE (sender_id = ? AND receiver_id = ?) OR (sender_id = ? AND receiver_id = ?)
		ORDER BY created_at ASC, id ASC`,
		a, b, b, a)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var msgs []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkSeen flips every unseen message from senderID to receiverID to
// seen and publishes an update event per affected row.
func (db *DB) MarkSeen(ctx context.Context, senderID, receiverID string) error {
	rows, err := db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, attachment_url, attachment_name, attachment_type, seen, created_at
		FROM messages
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0`,
		senderID, receiverID)
	if err != nil {
		return err
	}
	var unseen []chat.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			_ = rows.Close()
			return err
		}
		unseen = append(unseen, m)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	if len(unseen) == 0 {
		return nil
	}

	if _, err := db.ExecContext(ctx, `
		UPDATE messages SET seen = 1
		WHERE sender_id = ? AND receiver_id = ? AND seen = 0`,
		senderID, receiverID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}

	for _, m := range unseen {
		m.Seen = true
		db.feed.publish(backend.MessageUpdated{Message: m})
	}
	return nil
}

// PeerIDs returns the distinct counterparties of userID across message
// history.
func (db *DB) PeerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN sender_id = ? THEN receiver_id ELSE sender_id END
		FROM messages
		WHERE sender_id = ? OR receiver_id = ?`,
		userID, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanMessage(rows *sql.Rows) (chat.Message, error) {
	var (
		id, url, name, mediaType string
		m                        chat.Message
		seen                     int
		createdAt                int64
	)
	if err := rows.Scan(&id, &m.SenderID, &m.ReceiverID, &m.Text, &url, &name, &mediaType, &seen, &createdAt); err != nil {
		return chat.Message{}, err
	}
	m.ID = chat.ServerID(id)
	m.Seen = seen != 0
	m.CreatedAt = time.UnixMilli(createdAt).UTC()
	if url != "" {
		m.Attachment = &chat.Attachment{URL: url, Name: name, MediaType: mediaType}
	}
	return m, nil
}
