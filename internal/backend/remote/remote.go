package remote

import (
	"context"
	"fmt"

	"github.com/pigeon-im/pigeon/internal/backend"
	"go.uber.org/zap"
)

// Config holds everything needed to reach the hosted backend.
type Config struct {
	DatabaseDSN string
	RealtimeURL string
	AuthURL     string
	Handle      string
	Password    string
	S3          S3Config
}

// New signs in and assembles the full remote backend. The returned
// Realtime must be started by the caller and the Store closed on
// shutdown.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*backend.Backend, *Realtime, *Store, error) {
	session := NewAuthSession(cfg.AuthURL)
	if err := session.SignIn(ctx, cfg.Handle, cfg.Password); err != nil {
		return nil, nil, nil, fmt.Errorf("sign in: %w", err)
	}

	store, err := NewStore(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, nil, nil, err
	}

	blobs, err := NewS3Blobs(ctx, cfg.S3)
	if err != nil {
		_ = store.Close()
		return nil, nil, nil, err
	}

	rt := NewRealtime(cfg.RealtimeURL, session.Token, logger)

	be := &backend.Backend{
		Messages:  store,
		Profiles:  store,
		Blobs:     blobs,
		Stream:    rt,
		Broadcast: rt,
		Session:   session,
	}
	return be, rt, store, nil
}
