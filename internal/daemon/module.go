// Package daemon composes the chat daemon: one process per profile owning
// the realtime connection, the reconciliation engine, the cache, and the
// unix-socket API the UI talks to.
package daemon

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Syam916/chitrasethu-sub002/internal/attach"
	"github.com/Syam916/chitrasethu-sub002/internal/backend"
	"github.com/Syam916/chitrasethu-sub002/internal/bus"
	"github.com/Syam916/chitrasethu-sub002/internal/config"
	"github.com/Syam916/chitrasethu-sub002/internal/lock"
	"github.com/Syam916/chitrasethu-sub002/internal/logging"
	"github.com/Syam916/chitrasethu-sub002/internal/readmark"
	"github.com/Syam916/chitrasethu-sub002/internal/session"
	"github.com/Syam916/chitrasethu-sub002/internal/status"
	"github.com/Syam916/chitrasethu-sub002/internal/store"
	"github.com/Syam916/chitrasethu-sub002/internal/timeline"
	"github.com/Syam916/chitrasethu-sub002/internal/transport"
	"github.com/Syam916/chitrasethu-sub002/internal/typing"
	"github.com/Syam916/chitrasethu-sub002/internal/voice"
)

const attachmentFolder = "chat-attachments"

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	SocketPath string // optional override for testing; empty = use default
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
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
			provideBackend,
			provideTransport,
			provideEngine,
			provideReadMarks,
			provideLocalTyping,
			provideRemoteTyping,
			provideCapture,
			provideRecorder,
			provideAttachments,
			provideController,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.Load(config.Path())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(config.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := config.EnsureProfileDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(config.ProfileDir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := config.CacheDBPath(p.Profile)
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

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.New(cfg.APIBaseURL, cfg.AuthToken, logger)
}

func provideTransport(cfg *config.Config, b *bus.Bus, m *status.Machine, logger *zap.Logger) *transport.Socket {
	return transport.NewSocket(cfg.SocketURL, cfg.AuthToken, b, m, logger)
}

func provideEngine(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *timeline.Engine {
	return timeline.NewEngine(cfg.UserID, timeline.Options{
		ConfirmTimeout: time.Duration(cfg.SendTimeoutMs) * time.Millisecond,
	}, b, logger)
}

func provideReadMarks(cfg *config.Config, engine *timeline.Engine, db *store.DB, api *backend.Client, sock *transport.Socket, logger *zap.Logger) *readmark.Coordinator {
	return readmark.New(cfg.UserID, engine, db, api, sock, logger)
}

func provideLocalTyping(cfg *config.Config, sock *transport.Socket) *typing.Local {
	return typing.NewLocal(sock, cfg.UserName, time.Duration(cfg.TypingDebounceMs)*time.Millisecond)
}

func provideRemoteTyping(cfg *config.Config, b *bus.Bus) *typing.Remote {
	return typing.NewRemote(time.Duration(cfg.TypingExpiryMs)*time.Millisecond, b)
}

func provideCapture() *StreamDevice {
	return NewStreamDevice()
}

func provideRecorder(capture *StreamDevice, logger *zap.Logger) *voice.Recorder {
	return voice.NewRecorder(capture, logger)
}

func provideAttachments(cfg *config.Config, api *backend.Client, logger *zap.Logger) *attach.Pipeline {
	return attach.NewPipeline(api, cfg.UploadMaxBytes, attachmentFolder, logger)
}

func provideController(
	cfg *config.Config,
	engine *timeline.Engine,
	db *store.DB,
	api *backend.Client,
	sock *transport.Socket,
	marks *readmark.Coordinator,
	local *typing.Local,
	remote *typing.Remote,
	recorder *voice.Recorder,
	attachments *attach.Pipeline,
	b *bus.Bus,
	logger *zap.Logger,
) *session.Controller {
	return session.New(session.Params{
		SelfID:       cfg.UserID,
		SelfName:     cfg.UserName,
		Engine:       engine,
		DB:           db,
		API:          api,
		Transport:    sock,
		ReadMarks:    marks,
		LocalTyping:  local,
		RemoteTyping: remote,
		Recorder:     recorder,
		Attachments:  attachments,
		Bus:          b,
		SendTimeout:  time.Duration(cfg.SendTimeoutMs) * time.Millisecond,
		Logger:       logger,
	})
}

func provideServer(p Params, ctrl *session.Controller, m *status.Machine, capture *StreamDevice, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = config.SocketPath(p.Profile)
	}
	return NewServer(socketPath, ctrl, m, capture, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, sock *transport.Socket, ctrl *session.Controller, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	runCtx, cancel := context.WithCancel(context.Background())

	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			go sock.Run(runCtx)
			go ctrl.Run(runCtx)
			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("ui server error", zap.Error(err))
				}
			}()
			logger.Info("daemon started")
			return nil
		},
		OnStop: func(ctx context.Context) error {
			cancel()
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("cache close failed", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
