package local

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/chat"
)

// UpsertProfile inserts or updates a profile row. Used for seeding and
// sign-up; presence writes go through SetPresence.
func (db *DB) UpsertProfile(ctx context.Context, p chat.Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles (id, handle, online, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			handle = excluded.handle,
			online = excluded.online,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		p.ID, p.Handle, boolInt(p.Online), p.LastSeen.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	db.feed.publish(backend.ProfileUpdated{Profile: p})
	return nil
}

// Profile returns a profile by id.
func (db *DB) Profile(ctx context.Context, id string) (chat.Profile, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles WHERE id = ?`, id)
	return scanProfile(row)
}

// ProfilesByID returns the profiles for the given ids, in handle order.
func (db *DB) ProfilesByID(ctx context.Context, ids []string) ([]chat.Profile, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles
		WHERE id IN (`+placeholders+`)
		ORDER BY handle ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProfiles(rows)
}

// SearchProfiles matches handles by substring, excluding excludeID.
func (db *DB) SearchProfiles(ctx context.Context, query, excludeID string, limit int) ([]chat.Profile, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, handle, online, last_seen FROM profiles
		WHERE handle LIKE ? AND id != ?
		ORDER BY handle ASC
		LIMIT ?`,
		"%"+query+"%", excludeID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return collectProfiles(rows)
}

// SetPresence updates the advisory online flag and last-seen timestamp,
// creating the row if needed, and publishes the new profile state.
func (db *DB) SetPresence(ctx context.Context, id string, online bool, lastSeen time.Time) error {
	now := time.Now().UnixMilli()
	_, err := db.ExecContext(ctx, `
		INSERT INTO profiles (id, handle, online, last_seen, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			online = excluded.online,
			last_seen = excluded.last_seen,
			updated_at = excluded.updated_at`,
		id, id, boolInt(online), lastSeen.UnixMilli(), now)
	if err != nil {
		return fmt.Errorf("set presence: %w", err)
	}

	p, err := db.Profile(ctx, id)
	if err != nil {
		return err
	}
	db.feed.publish(backend.ProfileUpdated{Profile: p})
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (chat.Profile, error) {
	var (
		p        chat.Profile
		online   int
		lastSeen int64
	)
	if err := row.Scan(&p.ID, &p.Handle, &online, &lastSeen); err != nil {
		return chat.Profile{}, err
	}
	p.Online = online != 0
	p.LastSeen = time.UnixMilli(lastSeen).UTC()
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
