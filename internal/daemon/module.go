// Package daemon composes the session core: one fx module wires the store,
// the socket transport and every domain component together and drives their
// startup and shutdown order.
package daemon

import (
	"context"

	"github.com/pigeon-im/pigeon/internal/authclient"
	"github.com/pigeon-im/pigeon/internal/bus"
	"github.com/pigeon-im/pigeon/internal/chat"
	"github.com/pigeon-im/pigeon/internal/config"
	"github.com/pigeon-im/pigeon/internal/contacts"
	"github.com/pigeon-im/pigeon/internal/lock"
	"github.com/pigeon-im/pigeon/internal/logging"
	"github.com/pigeon-im/pigeon/internal/mediaclient"
	"github.com/pigeon-im/pigeon/internal/outbox"
	"github.com/pigeon-im/pigeon/internal/presence"
	"github.com/pigeon-im/pigeon/internal/rooms"
	"github.com/pigeon-im/pigeon/internal/session"
	"github.com/pigeon-im/pigeon/internal/status"
	"github.com/pigeon-im/pigeon/internal/store"
	"github.com/pigeon-im/pigeon/internal/transport"
	"github.com/pigeon-im/pigeon/internal/typing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	Config      config.Config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideCredentials,
			provideClient,
			provideBridge,
			providePresence,
			provideRooms,
			provideTyping,
			provideContacts,
			provideEngine,
			provideSender,
			provideAuthClient,
			provideMediaClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.LockPath(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.CacheDBPath(p.SessionName)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideCredentials(p Params) (*session.Store, error) {
	return session.NewStore(session.CredentialsPath(p.SessionName))
}

func provideClient(p Params, creds *session.Store, b *bus.Bus, logger *zap.Logger) *transport.Client {
	return transport.NewClient(p.Config.SocketURL, creds, b, logger)
}

func provideBridge(client *transport.Client, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *transport.Bridge {
	return transport.NewBridge(client, b, machine, logger)
}

func providePresence(client *transport.Client, db *store.DB, b *bus.Bus, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(client, db, b, logger)
}

func provideRooms(client *transport.Client, b *bus.Bus, logger *zap.Logger) *rooms.Manager {
	return rooms.NewManager(client, b, logger)
}

func provideTyping(client *transport.Client, creds *session.Store, b *bus.Bus, logger *zap.Logger) *typing.Controller {
	return typing.NewController(client, creds, b, logger)
}

func provideContacts(client *transport.Client, creds *session.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) *contacts.Synchronizer {
	return contacts.NewSynchronizer(client, creds, db, b, logger)
}

func provideEngine(client *transport.Client, creds *session.Store, db *store.DB, rm *rooms.Manager, tc *typing.Controller, b *bus.Bus, logger *zap.Logger) *chat.Engine {
	return chat.NewEngine(client, creds, db, rm, tc, b, logger)
}

func provideSender(client *transport.Client, creds *session.Store, db *store.DB, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(client, creds, db, b, logger)
}

func provideAuthClient(p Params, logger *zap.Logger) *authclient.Client {
	return authclient.New(p.Config.APIBaseURL, logger)
}

func provideMediaClient(p Params, logger *zap.Logger) *mediaclient.Client {
	return mediaclient.New(p.Config.MediaUploadURL, logger)
}

type lifecycleDeps struct {
	fx.In

	Lock     *lock.Lock
	Client   *transport.Client
	Bridge   *transport.Bridge
	Presence *presence.Tracker
	Rooms    *rooms.Manager
	Typing   *typing.Controller
	Contacts *contacts.Synchronizer
	Engine   *chat.Engine
	Sender   *outbox.Sender
	Creds    *session.Store
	Machine  *status.Machine
	Logger   *zap.Logger
}

func registerLifecycle(lc fx.Lifecycle, d lifecycleDeps) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Consumers first, so the first decoded frame finds its
			// subscribers already listening.
			d.Bridge.Start(context.Background())
			d.Rooms.Start()
			d.Typing.Start()
			d.Contacts.Start()
			d.Engine.Start()
			d.Sender.Start()

			if d.Creds.Token() == "" {
				d.Logger.Info("no credentials found, auth required")
				return d.Machine.Transition(status.AuthRequired)
			}

			if err := d.Machine.Transition(status.Connecting); err != nil {
				return err
			}
			go func() {
				if err := d.Client.Connect(context.Background()); err != nil {
					d.Logger.Error("connect failed", zap.Error(err))
					_ = d.Machine.Transition(status.Disconnected)
					return
				}
				// The session resumes where it left off: announce
				// presence, rejoin every room and refresh the
				// contact snapshot.
				d.Presence.Start()
				if err := d.Rooms.JoinAll(); err != nil {
					d.Logger.Warn("join_all_rooms not sent", zap.Error(err))
				}
				if err := d.Contacts.Request(); err != nil {
					d.Logger.Warn("get_contacts not sent", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(_ context.Context) error {
			d.Presence.Stop()
			d.Sender.Stop()
			d.Engine.Stop()
			d.Contacts.Stop()
			d.Typing.Stop()
			d.Rooms.Stop()
			d.Bridge.Stop()
			d.Client.Disconnect()
			if err := d.Lock.Release(); err != nil {
				d.Logger.Warn("error releasing lock", zap.Error(err))
			}
			d.Logger.Info("daemon stopped")
			return nil
		},
	})
}
