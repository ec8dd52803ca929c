// Package remote is the hosted backend: Postgres records, a websocket
// realtime feed, S3 blob storage and a token-based session.
package remote

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pigeon-im/pigeon/internal/chat"
)

// Store implements the message and profile stores over Postgres. Change
// notifications do not originate here; the realtime feed carries them.
type Store struct {
	db *sql.DB
}

// NewStore connects to the database and verifies the connection.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// InsertMessage persists a message; id and timestamp are assigned by the
// database.
func (s *Store) InsertMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	var url, name, mediaType string
	if m.Attachment != nil {
		url, name, mediaType = m.Attachment.URL, m.Attachment.Name, m.Attachment.MediaType
	}

	var (
		id        string
		createdAt time.Time
	)
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO messages (sender_id, receiver_id, body, attachment_url, attachment_name, attachment_type, seen)
		VALUES ($1, $2, $3, $4, $5, $6, false)
		RETURNING id, created_at`,
		m.SenderID, m.ReceiverID, m.Text, url, name, mediaType).Scan(&id, &createdAt)
	if err != nil {
		return chat.Message{}, fmt.Errorf("insert message: %w", err)
	}

	committed := m
	committed.ID = chat.ServerID(id)
	committed.Seen = false
	committed.CreatedAt = createdAt.UTC()
	return committed, nil
}

// ListBetween returns the conversation between a and b, both directions,
// ascending by creation time with id tie-break.
func (s *Store) ListBetween(ctx context.Context, a, b string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, sender_id, receiver_id, body, attachment_url, attachment_name, attachment_type, seen, created_at
		FROM messages
		WHERE (sender_id = $1 AND receiver_id = $2) OR (sender_id = $2 AND receiver_id = $1)
		ORDER BY created_at ASC, id ASC`,
		a, b)
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
// seen. The resulting row updates arrive back through the realtime feed.
func (s *Store) MarkSeen(ctx context.Context, senderID, receiverID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE messages SET seen = true
		WHERE sender_id = $1 AND receiver_id = $2 AND seen = false`,
		senderID, receiverID)
	if err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

// PeerIDs returns the distinct counterparties of userID across message
// history.
func (s *Store) PeerIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT CASE WHEN sender_id = $1 THEN receiver_id ELSE sender_id END
		FROM messages
		WHERE sender_id = $1 OR receiver_id = $1`,
		userID)
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

// Profile returns a profile by id.
func (s *Store) Profile(ctx context.Context, id string) (chat.Profile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles WHERE id = $1`, id)
	return scanProfile(row)
}

// ProfilesByID returns the profiles for the given ids, in handle order.
func (s *Store) ProfilesByID(ctx context.Context, ids []string) ([]chat.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles
		WHERE id = ANY($1)
		ORDER BY handle ASC`, ids)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProfiles(rows)
}

// SearchProfiles matches handles by substring, excluding excludeID.
func (s *Store) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]chat.Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles
		WHERE handle ILIKE '%' || $1 || '%' AND id != $2
		ORDER BY handle ASC
		LIMIT $3`,
		query, excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProfiles(rows)
}

// SetPresence updates the advisory online flag and last-seen timestamp.
func (s *Store) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE profiles SET online = $2, last_seen = $3 WHERE id = $1`,
		id, online, lastSeen)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(rows *sql.Rows) (chat.Message, error) {
	var (
		id, url, name, mediaType string
		m                        chat.Message
		createdAt                time.Time
	)
	if err := rows.Scan(&id, &m.SenderID, &m.ReceiverID, &m.Text, &url, &name, &mediaType, &m.Seen, &createdAt); err != nil {
		return chat.Message{}, err
	}
	m.ID = chat.ServerID(id)
	m.CreatedAt = createdAt.UTC()
	if url != "" {
		m.Attachment = &chat.Attachment{URL: url, Name: name, MediaType: mediaType}
	}
	return m, nil
}

func scanProfile(row rowScanner) (chat.Profile, error) {
	var (
		p        chat.Profile
		lastSeen time.Time
	)
	if err := row.Scan(&p.ID, &p.Handle, &p.Online, &lastSeen); err != nil {
		return chat.Profile{}, err
	}
	p.LastSeen = lastSeen.UTC()
	return p, nil
}

func collectProfiles(rows *sql.Rows) ([]chat.Profile, error) {
	var out []chat.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
