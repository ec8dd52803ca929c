package local

import (
	"context"
	"fmt"

	"github.com/pigeon-im/pigeon/internal/chat"
)

// StaticSession is a fixed local identity; the local backend has no
// credential exchange.
type StaticSession struct {
	db *DB
	id string
}

// NewStaticSession creates a session for the given user id.
func NewStaticSession(db *DB, id string) *StaticSession {
	return &StaticSession{db: db, id: id}
}

func (s *StaticSession) UserID() string { return s.id }

func (s *StaticSession) SignIn(ctx context.Context, handle, _ string) error {
	if _, err := s.db.Profile(ctx, s.id); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	return nil
}

// SignUp creates the profile row for this identity.
func (s *StaticSession) SignUp(ctx context.Context, handle, _ string) error {
	return s.db.UpsertProfile(ctx, chat.Profile{ID: s.id, Handle: handle})
}

func (s *StaticSession) SignOut(context.Context) error { return nil }
