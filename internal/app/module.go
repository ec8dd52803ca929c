// Package app composes the client from its parts and manages startup
// and shutdown ordering.
package app

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/pigeon-im/pigeon/internal/backend"
	"github.com/pigeon-im/pigeon/internal/backend/local"
	"github.com/pigeon-im/pigeon/internal/backend/remote"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"github.com/pigeon-im/pigeon/internal/client"
	"github.com/pigeon-im/pigeon/internal/config"
	"github.com/pigeon-im/pigeon/internal/directory"
	"github.com/pigeon-im/pigeon/internal/lock"
	"github.com/pigeon-im/pigeon/internal/logging"
	"github.com/pigeon-im/pigeon/internal/presence"
	"github.com/pigeon-im/pigeon/internal/profile"
	"github.com/pigeon-im/pigeon/internal/status"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
	Peer        string // optional peer to open on startup
}

// Module returns the fx module for the client, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("app",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideStateMachine,
			provideLock,
			provideBackend,
			provideDirectory,
			provideTracker,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(p Params, logger *zap.Logger) (*config.Config, error) {
	cfg, err := config.Load(profile.ConfigPath())
	if errors.Is(err, os.ErrNotExist) {
		logger.Info("no config file, using defaults", zap.String("path", profile.ConfigPath()))
		return config.Default(), nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.ProfileName); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.ProfileName))
	l, err := lock.Acquire(profile.Dir(p.ProfileName))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

// Bundle is the assembled backend plus the pieces that need explicit
// start/stop. Realtime is nil for the local backend.
type Bundle struct {
	Backend  *backend.Backend
	Realtime *remote.Realtime
	close    func()
}

func provideBackend(p Params, cfg *config.Config, logger *zap.Logger) (*Bundle, error) {
	switch cfg.Backend {
	case config.BackendRemote:
		be, rt, store, err := remote.New(context.Background(), remote.Config{
			DatabaseDSN: cfg.Remote.DatabaseDSN,
			RealtimeURL: cfg.Remote.RealtimeURL,
			AuthURL:     cfg.Remote.AuthURL,
			Handle:      cfg.Remote.Handle,
			Password:    cfg.Remote.Password,
			S3: remote.S3Config{
				Region:    cfg.Remote.S3Region,
				Bucket:    cfg.Remote.S3Bucket,
				Endpoint:  cfg.Remote.S3Endpoint,
				AccessKey: cfg.Remote.S3AccessKey,
				SecretKey: cfg.Remote.S3SecretKey,
				PublicURL: cfg.Remote.S3PublicURL,
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		logger.Info("remote backend ready", zap.String("user", be.Session.UserID()))
		return &Bundle{Backend: be, Realtime: rt, close: func() { _ = store.Close() }}, nil

	default:
		selfID := cfg.UserID
		if selfID == "" {
			selfID = p.ProfileName
		}
		be, db, err := local.New(profile.DataDir(p.ProfileName), selfID)
		if err != nil {
			return nil, err
		}
		logger.Info("local backend ready",
			zap.String("dir", profile.DataDir(p.ProfileName)),
			zap.String("user", selfID))
		return &Bundle{Backend: be, close: func() { _ = db.Close() }}, nil
	}
}

func provideDirectory(bundle *Bundle, b *bus.Bus, logger *zap.Logger) *directory.Directory {
	be := bundle.Backend
	return directory.New(be.Session.UserID(), be.Profiles, be.Messages, be.Stream, b, logger)
}

func provideTracker(bundle *Bundle, cfg *config.Config, logger *zap.Logger) *presence.Tracker {
	be := bundle.Backend
	interval := time.Duration(cfg.HeartbeatSeconds) * time.Second
	return presence.NewTracker(be.Profiles, be.Session.UserID(), interval, logger)
}

func provideClient(bundle *Bundle, cfg *config.Config, dir *directory.Directory, b *bus.Bus, logger *zap.Logger) *client.Client {
	quiet := time.Duration(cfg.TypingQuietMS) * time.Millisecond
	return client.New(bundle.Backend, dir, b, quiet, logger)
}

func registerLifecycle(lc fx.Lifecycle, p Params, bundle *Bundle, cl *client.Client, dir *directory.Directory, tracker *presence.Tracker, machine *status.Machine, lk *lock.Lock, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			_ = machine.Transition(status.Connecting)

			if bundle.Realtime != nil {
				bundle.Realtime.OnState = func(connected bool) {
					if connected {
						_ = machine.Transition(status.Syncing)
						_ = machine.Transition(status.Ready)
					} else {
						_ = machine.Transition(status.Reconnecting)
					}
				}
				bundle.Realtime.Start(runCtx)
			}

			dir.Start(runCtx)
			if err := dir.Recents(ctx); err != nil {
				logger.Warn("loading recent conversations failed", zap.Error(err))
			}

			tracker.Start(runCtx)

			cl.SetNotify(func(m chat.Message, senderHandle string) {
				logger.Info("new message",
					zap.String("from", senderHandle),
					zap.String("text", m.Text))
			})

			if p.Peer != "" {
				if err := cl.Open(ctx, p.Peer); err != nil {
					return err
				}
			}

			if bundle.Realtime == nil {
				_ = machine.Transition(status.Syncing)
				_ = machine.Transition(status.Ready)
			}
			logger.Info("client started", zap.String("state", string(machine.Current())))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cl.Close()
			tracker.Stop()
			cancel()
			if bundle.close != nil {
				bundle.close()
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("client stopped")
			return nil
		},
	})
}
