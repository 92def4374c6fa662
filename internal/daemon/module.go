// Package daemon composes the sync core into a running process: config,
// logging, persistence, transports and stores wired through fx with
// lifecycle hooks.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"gomess/internal/bus"
	"gomess/internal/chat"
	"gomess/internal/client"
	"gomess/internal/config"
	"gomess/internal/lock"
	"gomess/internal/logging"
	"gomess/internal/outbox"
	"gomess/internal/relay"
	"gomess/internal/rest"
	"gomess/internal/session"
	"gomess/internal/socket"
	"gomess/internal/status"
	"gomess/internal/store"
	intsync "gomess/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers
// and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSession,
			provideRESTClient,
			provideConversations,
			provideTimelines,
			provideFlusher,
			provideSocket,
			provideSyncEngine,
			provideRelay,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() *config.Config {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		// Missing config is the common first-run case; defaults apply.
		return config.Default()
	}
	return cfg
}

func provideLogger(p Params) (*zap.Logger, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
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

func provideSession(p Params, b *bus.Bus) *session.Session {
	return session.New(p.SessionName, b)
}

func provideRESTClient(cfg *config.Config, sess *session.Session, logger *zap.Logger) *rest.Client {
	return rest.New(rest.Options{
		BaseURL:            cfg.API.BaseURL,
		Timeout:            cfg.APITimeout(),
		RefreshMaxAttempts: cfg.API.RefreshMaxAttempts,
	}, sess, logger)
}

func provideConversations(api *rest.Client, db *store.DB, sess *session.Session, b *bus.Bus, logger *zap.Logger) *chat.Conversations {
	return chat.NewConversations(api, db, sess, b, logger)
}

func provideTimelines(cfg *config.Config, api *rest.Client, sess *session.Session, b *bus.Bus, logger *zap.Logger) *chat.Timelines {
	return chat.NewTimelines(api, sess, b, logger, cfg.Chat.PageSize)
}

func provideFlusher(db *store.DB, api *rest.Client, timelines *chat.Timelines, b *bus.Bus, logger *zap.Logger) *outbox.Flusher {
	return outbox.NewFlusher(db, api, timelines, b, logger)
}

func provideSocket(cfg *config.Config, sess *session.Session, b *bus.Bus, machine *status.Machine, logger *zap.Logger) *socket.Client {
	return socket.New(socket.Options{
		URL:          cfg.Socket.URL,
		PingInterval: cfg.PingInterval(),
		ReconnectMax: cfg.ReconnectMaxInterval(),
	}, sess, b, machine, logger)
}

func provideSyncEngine(convos *chat.Conversations, timelines *chat.Timelines, db *store.DB, b *bus.Bus, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(convos, timelines, db, b, logger)
}

func provideRelay(sock *socket.Client, convos *chat.Conversations, b *bus.Bus, logger *zap.Logger) *relay.Relay {
	return relay.New(sock, convos, b, logger)
}

func provideClient(api *rest.Client, sess *session.Session, machine *status.Machine, convos *chat.Conversations, timelines *chat.Timelines, flusher *outbox.Flusher, sock *socket.Client, logger *zap.Logger) *client.Client {
	return client.New(api, sess, machine, convos, timelines, flusher, sock, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, facade *client.Client, b *bus.Bus, machine *status.Machine, engine *intsync.Engine, rl *relay.Relay, flusher *outbox.Flusher, sock *socket.Client, db *store.DB, logger *zap.Logger) {
	var stopWatch context.CancelFunc
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			// Consumers first, so nothing published during bootstrap is
			// dropped.
			engine.Start(context.Background())
			rl.Start(context.Background())
			flusher.Start(context.Background())

			var watchCtx context.Context
			watchCtx, stopWatch = context.WithCancel(context.Background())
			watchSession(watchCtx, b, sock, machine, logger)

			// Bootstrap starts the push connection itself once a session
			// exists; otherwise the machine lands in AuthRequired and a
			// later Login brings it up.
			return facade.Bootstrap(ctx)
		},
		OnStop: func(_ context.Context) error {
			if stopWatch != nil {
				stopWatch()
			}
			sock.Stop()
			flusher.Stop()
			rl.Stop()
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

// pushStopper is the slice of the socket client the session watcher needs.
type pushStopper interface {
	Stop()
}

// watchSession tears the push connection down when the session is cleared
// mid-run (logout, or refresh exhaustion inside the REST client). The
// daemon must never keep a live socket for an identity the backend
// rejected, and the machine has to land in AuthRequired rather than
// flapping through reconnects.
func watchSession(ctx context.Context, b *bus.Bus, sock pushStopper, machine *status.Machine, logger *zap.Logger) {
	ch, unsub := b.Subscribe(bus.KindSessionCleared, 4)
	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				sock.Stop()
				_ = machine.Transition(status.AuthRequired)
				logger.Info("session cleared, push connection stopped")
			case <-ctx.Done():
				return
			}
		}
	}()
}
