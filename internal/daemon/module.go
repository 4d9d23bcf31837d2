package daemon

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/formly-app/formly/internal/bus"
	"github.com/formly-app/formly/internal/config"
	"github.com/formly-app/formly/internal/content"
	"github.com/formly-app/formly/internal/convo"
	"github.com/formly-app/formly/internal/lifecycle"
	"github.com/formly-app/formly/internal/lock"
	"github.com/formly-app/formly/internal/logging"
	"github.com/formly-app/formly/internal/profile"
	"github.com/formly-app/formly/internal/remote"
	"github.com/formly-app/formly/internal/status"
	"github.com/formly-app/formly/internal/store"
	intsync "github.com/formly-app/formly/internal/sync"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	ProfileName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideConfig,
			provideBus,
			provideTracker,
			provideLock,
			provideStore,
			provideContentCache,
			provideConvoLog,
			provideRemoteClient,
			provideStreamDialer,
			provideSyncEngine,
			provideLifecycleManager,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(profile.LogPath(p.ProfileName), p.ProfileName)
}

func provideConfig(logger *zap.Logger) *config.Config {
	cfg, err := config.Load(profile.ConfigPath())
	if err != nil {
		logger.Info("no config file, using defaults", zap.Error(err))
		cfg = &config.Config{}
	}
	cfg.Defaults()
	return cfg
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideTracker(b *bus.Bus) *status.Tracker {
	return status.NewTracker(b)
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

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.ProfileName)
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

func provideContentCache(db *store.DB, b *bus.Bus, logger *zap.Logger) *content.Cache {
	return content.NewCache(db, b, logger)
}

func provideConvoLog(db *store.DB, b *bus.Bus, logger *zap.Logger) *convo.Log {
	return convo.NewLog(db, b, logger)
}

func provideRemoteClient(cfg *config.Config) remote.Client {
	return remote.NewHTTPClient(cfg.BackendURL)
}

func provideStreamDialer(cfg *config.Config) remote.StreamDialer {
	if cfg.StreamURL == "" {
		return nil
	}
	url := cfg.StreamURL
	return func(ctx context.Context) (remote.ChangeStream, error) {
		return remote.DialStream(ctx, url)
	}
}

func provideSyncEngine(
	db *store.DB,
	log *convo.Log,
	cache *content.Cache,
	client remote.Client,
	dial remote.StreamDialer,
	tracker *status.Tracker,
	b *bus.Bus,
	cfg *config.Config,
	logger *zap.Logger,
) *intsync.Engine {
	return intsync.NewEngine(db, log, cache, client, dial, tracker, b, logger, intsync.Options{
		SessionID: uuid.NewString(),
		Interval:  cfg.SyncInterval(),
	})
}

func provideLifecycleManager(db *store.DB, cache *content.Cache, log *convo.Log, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *lifecycle.Manager {
	return lifecycle.NewManager(db, cache, log, b, logger, cfg.Retention(), cfg.CleanupInterval())
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, engine *intsync.Engine, manager *lifecycle.Manager, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			engine.Start(context.Background())
			manager.Start(context.Background())
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(_ context.Context) error {
			manager.Stop()
			engine.Stop()
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
