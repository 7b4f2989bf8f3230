package daemon

import (
	"context"
	"fmt"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/chat"
	"github.com/matheus3301/chatsync/internal/clock"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/dedup"
	"github.com/matheus3301/chatsync/internal/directory"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/mention"
	"github.com/matheus3301/chatsync/internal/metrics"
	"github.com/matheus3301/chatsync/internal/notify"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/presence"
	"github.com/matheus3301/chatsync/internal/session"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/timeline"
	"github.com/matheus3301/chatsync/internal/transport"
	"github.com/matheus3301/chatsync/internal/unread"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
	SocketPath  string // optional override for testing; empty = use default
	ConfigPath  string // empty = ~/.chatsync/config.toml
	// Dialer replaces the WebSocket dialer when set.
	Dialer transport.Dialer
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideClock,
			metrics.New,
			provideStateMachine,
			provideLock,
			provideAPIClient,
			provideDialer,
			provideTransport,
			provideUnread,
			provideDirectory,
			provideTyping,
			provideTypist,
			provideFocus,
			provideNotifier,
			provideTracker,
			provideEngine,
			NewHealth,
			NewServer,
			NewMetricsServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = session.ConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus(logger *zap.Logger) *bus.Bus {
	return bus.New(logger.Named("bus"))
}

func provideClock() clock.Clock {
	return clock.Real()
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

func provideAPIClient(cfg *config.Config) (*api.Client, error) {
	return api.NewClient(cfg.Server.APIURL, cfg.Token(), cfg.Transport.RequestTimeout)
}

func provideDialer(p Params, cfg *config.Config) transport.Dialer {
	if p.Dialer != nil {
		return p.Dialer
	}
	return transport.WebSocketDialer{HandshakeTimeout: cfg.Transport.DialTimeout}
}

// TransportConfig maps the [transport] section onto the manager's settings.
func TransportConfig(cfg *config.Config) transport.Config {
	t := cfg.Transport
	return transport.Config{
		URL:                  cfg.Server.WSURL,
		DialTimeout:          t.DialTimeout,
		RequestTimeout:       t.RequestTimeout,
		ReconnectBaseDelay:   t.ReconnectBaseDelay,
		ReconnectMaxDelay:    t.ReconnectMaxDelay,
		MaxReconnectAttempts: t.MaxReconnectAttempts,
		ProbeInterval:        t.ProbeInterval,
		ProbeTimeout:         t.ProbeTimeout,
		ForceReconnectDelay:  t.ForceReconnectDelay,
	}
}

func provideTransport(cfg *config.Config, d transport.Dialer, b *bus.Bus, m *status.Machine, c clock.Clock, met *metrics.Metrics, logger *zap.Logger) *transport.Manager {
	return transport.NewManager(TransportConfig(cfg), d, b, m, c, met, logger.Named("transport"))
}

func provideUnread(cfg *config.Config, client *api.Client, b *bus.Bus, c clock.Clock, met *metrics.Metrics, logger *zap.Logger) *unread.Store {
	opts := unread.DefaultOptions()
	opts.Dedup = dedup.UnreadOptions()
	opts.Dedup.Window = cfg.Unread.DedupWindow
	opts.Dedup.Retain = cfg.Unread.DedupRetain
	opts.ReconcileInterval = cfg.Unread.ReconcileInterval
	return unread.NewStore(client, b, c, opts, met, logger.Named("unread"))
}

func provideDirectory(cfg *config.Config, client *api.Client, b *bus.Bus, c clock.Clock, logger *zap.Logger) *directory.Directory {
	return directory.New(client, b, c, cfg.Directory.CacheTTL, cfg.Auth.UserID, logger.Named("directory"))
}

func provideTyping(cfg *config.Config, b *bus.Bus, c clock.Clock, logger *zap.Logger) *presence.Typing {
	return presence.NewTyping(b, c, cfg.Presence.TypingTimeout, cfg.Auth.UserID, logger.Named("typing"))
}

func provideTypist(cfg *config.Config, mgr *transport.Manager, c clock.Clock, logger *zap.Logger) *presence.Typist {
	return presence.NewTypist(mgr, c, cfg.Presence.TypingTimeout, logger.Named("typist"))
}

func provideFocus() *presence.Focus {
	return &presence.Focus{}
}

func provideNotifier(cfg *config.Config, logger *zap.Logger) notify.Sink {
	if !cfg.Notify.Enabled {
		return notify.Disabled{}
	}
	return notify.NewDesktopSink(cfg.Notify.Icon, logger.Named("notify"))
}

func provideTracker(b *bus.Bus, met *metrics.Metrics, logger *zap.Logger) *outbox.Tracker {
	return outbox.NewTracker(b, met, logger.Named("outbox"))
}

// TimelineOptions maps the [timeline] section onto the engine's options.
func TimelineOptions(cfg *config.Config) timeline.Options {
	opts := timeline.DefaultOptions(chat.User{ID: cfg.Auth.UserID, FullName: cfg.Auth.DisplayName})
	opts.PageSize = cfg.Timeline.PageSize
	opts.MaxJumpPages = cfg.Timeline.MaxJumpPages
	opts.MatchWindow = cfg.Timeline.MatchWindow
	opts.HeuristicMatch = cfg.Timeline.HeuristicMatch
	return opts
}

type engineParams struct {
	fx.In

	Config    *config.Config
	Client    *api.Client
	Transport *transport.Manager
	Unread    *unread.Store
	Directory *directory.Directory
	Typist    *presence.Typist
	Focus     *presence.Focus
	Notifier  notify.Sink
	Tracker   *outbox.Tracker
	Bus       *bus.Bus
	Clock     clock.Clock
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

func provideEngine(p engineParams) *timeline.Engine {
	return timeline.New(timeline.Deps{
		Service:       p.Client,
		Rooms:         p.Transport,
		Unread:        p.Unread,
		Conversations: p.Directory,
		Typist:        p.Typist,
		Mentions:      mention.NewCoordinator(p.Config.Auth.UserID),
		Notifier:      p.Notifier,
		Focus:         p.Focus,
		Tracker:       p.Tracker,
		Bus:           p.Bus,
		Clock:         p.Clock,
		Metrics:       p.Metrics,
		Logger:        p.Logger.Named("timeline"),
	}, TimelineOptions(p.Config))
}

type lifecycleParams struct {
	fx.In

	Lifecycle fx.Lifecycle
	Config    *config.Config
	Server    *Server
	Metrics   *MetricsServer
	Health    *Health
	Lock      *lock.Lock
	Transport *transport.Manager
	Unread    *unread.Store
	Directory *directory.Directory
	Typing    *presence.Typing
	Typist    *presence.Typist
	Engine    *timeline.Engine
	Bus       *bus.Bus
	Logger    *zap.Logger
}

func registerLifecycle(p lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	var subs []bus.Subscription

	p.Lifecycle.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if err := p.Metrics.Start(); err != nil {
				return err
			}
			p.Health.Start()
			p.Unread.Start(ctx)
			p.Directory.Start(ctx)
			p.Typing.Start()
			p.Engine.Start(ctx)

			subs = append(subs,
				bus.OnPayload(p.Bus, func(bus.Connected) {
					go func() {
						if err := p.Directory.Refresh(ctx); err != nil {
							p.Logger.Warn("conversation refresh failed", zap.Error(err))
						}
					}()
				}),
				bus.OnPayload(p.Bus, func(fl bus.ForceLogout) {
					p.Logger.Warn("session terminated by server", zap.String("reason", fl.Message))
					p.Typist.Stop()
					p.Transport.Disconnect()
					p.Health.Set(false)
				}),
			)

			go func() {
				if err := p.Server.Start(); err != nil {
					p.Logger.Error("gRPC server error", zap.Error(err))
				}
			}()

			token := p.Config.Token()
			if token == "" {
				p.Logger.Warn("no credential configured", zap.String("token_env", p.Config.Auth.TokenEnv))
			}
			go p.Transport.Connect(ctx, token)
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			for _, s := range subs {
				p.Bus.Off(s)
			}
			p.Engine.Stop()
			p.Typist.Stop()
			p.Typing.Stop()
			p.Directory.Stop()
			p.Unread.Stop()
			p.Transport.Disconnect()
			cancel()
			p.Health.Stop()
			p.Server.Stop(stopCtx)
			p.Metrics.Stop(stopCtx)
			if err := p.Lock.Release(); err != nil {
				p.Logger.Warn("error releasing lock", zap.Error(err))
			}
			p.Logger.Info("daemon stopped")
			_ = p.Logger.Sync()
			return nil
		},
	})
}
