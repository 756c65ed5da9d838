package daemon

import (
	"context"

	"github.com/nabeelvk/pkchat/internal/bus"
	"github.com/nabeelvk/pkchat/internal/chat"
	"github.com/nabeelvk/pkchat/internal/config"
	"github.com/nabeelvk/pkchat/internal/lock"
	"github.com/nabeelvk/pkchat/internal/logging"
	"github.com/nabeelvk/pkchat/internal/presence"
	"github.com/nabeelvk/pkchat/internal/profile"
	"github.com/nabeelvk/pkchat/internal/rest"
	"github.com/nabeelvk/pkchat/internal/socket"
	"github.com/nabeelvk/pkchat/internal/store"
	intsync "github.com/nabeelvk/pkchat/internal/sync"
	"github.com/nabeelvk/pkchat/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile string
}

// Module returns the fx module for the realtime core, composing all
// providers and lifecycle hooks. Every component receives its
// collaborators explicitly; there is no ambient singleton state.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideCredentials,
			provideBus,
			provideLock,
			provideStore,
			provideRest,
			provideConn,
			providePresence,
			provideUnread,
			provideEngine,
			provideOpener,
			NewNotifier,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.Profile), p.Profile)
}

func provideConfig() *config.Config {
	return config.LoadOrDefault(profile.ConfigPath())
}

func provideCredentials(p Params) (*profile.Credentials, error) {
	return profile.LoadCredentials(p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.CacheDBPath(p.Profile)
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
	logger.Info("cache initialized", zap.String("path", dbPath))
	return db, nil
}

func provideRest(cfg *config.Config, creds *profile.Credentials, logger *zap.Logger) *rest.Client {
	return rest.NewClient(cfg.APIBaseURL, creds.Token, logger)
}

func provideConn(cfg *config.Config, creds *profile.Credentials, b *bus.Bus, logger *zap.Logger) *socket.Conn {
	return socket.New(cfg.SocketURL, creds.UserID, creds.Token, b, logger)
}

func providePresence(b *bus.Bus, conn *socket.Conn, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(b, conn, logger)
}

func provideUnread(creds *profile.Credentials, b *bus.Bus, logger *zap.Logger) *unread.Aggregator {
	return unread.NewAggregator(creds.UserID, b, logger)
}

func provideEngine(db *store.DB, b *bus.Bus, creds *profile.Credentials, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, b, creds.UserID, logger)
}

func provideOpener(creds *profile.Credentials, conn *socket.Conn, restc *rest.Client, agg *unread.Aggregator, b *bus.Bus, logger *zap.Logger) *chat.Opener {
	return &chat.Opener{
		SelfID:      creds.UserID,
		Emitter:     conn,
		History:     restc,
		Permissions: restc,
		Unread:      agg,
		Bus:         b,
		Logger:      logger,
	}
}

func registerLifecycle(
	lc fx.Lifecycle,
	lk *lock.Lock,
	db *store.DB,
	conn *socket.Conn,
	tracker *presence.Tracker,
	agg *unread.Aggregator,
	engine *intsync.Engine,
	restc *rest.Client,
	notifier *Notifier,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ctx := context.Background()

			// Listeners first, so nothing published during connect is lost.
			engine.Start(ctx)
			tracker.Start(ctx)
			agg.Start(ctx)
			notifier.Start(ctx)

			conn.Connect(ctx)

			// Authoritative unread snapshot; live pings buffer until it lands.
			go agg.Hydrate(ctx, restc)

			return nil
		},
		OnStop: func(_ context.Context) error {
			conn.Close()
			notifier.Stop()
			engine.Stop()
			tracker.Stop()
			agg.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing cache", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
