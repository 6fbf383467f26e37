package daemon

import (
	"context"

	"github.com/matheus3301/chatsync/internal/api"
	"github.com/matheus3301/chatsync/internal/attendee"
	"github.com/matheus3301/chatsync/internal/autopilot"
	"github.com/matheus3301/chatsync/internal/bus"
	"github.com/matheus3301/chatsync/internal/config"
	"github.com/matheus3301/chatsync/internal/fanout"
	"github.com/matheus3301/chatsync/internal/gateway"
	"github.com/matheus3301/chatsync/internal/lock"
	"github.com/matheus3301/chatsync/internal/logging"
	"github.com/matheus3301/chatsync/internal/outbox"
	"github.com/matheus3301/chatsync/internal/status"
	"github.com/matheus3301/chatsync/internal/store"
	chatsync "github.com/matheus3301/chatsync/internal/sync"
	"github.com/matheus3301/chatsync/internal/webhook"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved configuration passed to the fx module.
type Params struct {
	Config *config.Config

	// Optional overrides for testing. A nil Gateway builds the REST client
	// from Config; a nil Logger builds the file+console logger.
	Gateway   gateway.Gateway
	Suggester autopilot.Suggester
	Logger    *zap.Logger
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideGateway,
			provideAttendees,
			provideSyncEngine,
			provideRunner,
			provideSender,
			provideReconciler,
			providePolicy,
			provideIngestor,
			provideRegistrar,
			provideHub,
			provideChatService,
			provideMessageService,
			provideSyncService,
			provideStatusService,
			provideWebhookService,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(p.Config.LogPath(), p.Config.Log.Level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := p.Config.EnsureDirs(); err != nil {
		return nil, err
	}
	logger.Info("acquiring data dir lock", zap.String("data_dir", p.Config.DataDir))
	l, err := lock.Acquire(p.Config.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("data dir lock acquired")
	return l, nil
}

// provideStore depends on the lock so the database is never opened by a
// second daemon.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := p.Config.DBPath()
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

// provideGateway returns the gateway and, when it supports it, the webhook
// admin API. admin is nil for gateways without one.
func provideGateway(p Params, logger *zap.Logger) (gateway.Gateway, gateway.WebhookAdmin, error) {
	if p.Gateway != nil {
		admin, _ := p.Gateway.(gateway.WebhookAdmin)
		return p.Gateway, admin, nil
	}
	gc := p.Config.Gateway
	c, err := gateway.NewClient(gc.BaseURL, gc.APIKey, gc.Timeout.Duration, logger.Named("gateway"))
	if err != nil {
		return nil, nil, err
	}
	return c, c, nil
}

func provideAttendees(p Params, db *store.DB, gw gateway.Gateway, logger *zap.Logger) *attendee.Directory {
	return attendee.New(db, gw, p.Config.Attendees.CacheTTL.Duration, logger.Named("attendee"))
}

func provideSyncEngine(p Params, db *store.DB, gw gateway.Gateway, b *bus.Bus, dir *attendee.Directory, logger *zap.Logger) *chatsync.Engine {
	opts := chatsync.Options{
		PageSize: p.Config.Gateway.PageSize,
		MaxPages: p.Config.Sync.MaxPages,
		Workers:  p.Config.Sync.Workers,
	}
	return chatsync.NewEngine(db, gw, b, dir, opts, logger.Named("sync"))
}

func provideRunner(p Params, engine *chatsync.Engine, db *store.DB, b *bus.Bus, m *status.Machine, logger *zap.Logger) *chatsync.Runner {
	return chatsync.NewRunner(engine, db, b, m, p.Config.Sync.Interval.Duration, p.Config.AccountID, logger.Named("sync"))
}

func provideSender(p Params, db *store.DB, gw gateway.Gateway, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(db, gw, b, p.Config.Outbox.BlockIgnored, logger.Named("outbox"))
}

func provideReconciler(p Params, db *store.DB, engine *chatsync.Engine, b *bus.Bus, logger *zap.Logger) *outbox.Reconciler {
	rc := p.Config.Reconcile
	return outbox.NewReconciler(db, engine, b, outbox.Options{
		Interval:    rc.Interval.Duration,
		Debounce:    rc.Debounce.Duration,
		Retention:   rc.Retention.Duration,
		MaxAttempts: rc.MaxAttempts,
	}, logger.Named("reconcile"))
}

func providePolicy(p Params, db *store.DB, sender *outbox.Sender, logger *zap.Logger) (*autopilot.Policy, error) {
	ac := p.Config.Autopilot
	suggester := p.Suggester
	if suggester == nil && ac.SuggesterURL != "" {
		hs, err := autopilot.NewHTTPSuggester(ac.SuggesterURL, ac.Timeout.Duration)
		if err != nil {
			return nil, err
		}
		suggester = hs
	}
	if ac.Enabled && suggester == nil {
		logger.Warn("autopilot enabled without a suggester, replies will be skipped")
	}
	return autopilot.NewPolicy(db, suggester, sender, autopilot.Options{
		Enabled:      ac.Enabled,
		Prompt:       ac.Prompt,
		HistoryLimit: ac.HistoryLimit,
	}, logger.Named("autopilot")), nil
}

func provideIngestor(db *store.DB, b *bus.Bus, dir *attendee.Directory, policy *autopilot.Policy, logger *zap.Logger) (*webhook.Ingestor, error) {
	return webhook.NewIngestor(db, b, dir, policy, logger.Named("webhook"))
}

func provideRegistrar(p Params, admin gateway.WebhookAdmin, logger *zap.Logger) *webhook.Registrar {
	publicURL := p.Config.Webhook.PublicURL
	if admin == nil && publicURL != "" {
		logger.Warn("gateway has no webhook api, skipping registration")
		publicURL = ""
	}
	return webhook.NewRegistrar(admin, publicURL, p.Config.Webhook.Name, logger.Named("webhook"))
}

// provideHub builds the fan-out hub. An unreachable broker only disables the
// AMQP sink; websocket fan-out still works.
func provideHub(p Params, b *bus.Bus, logger *zap.Logger) *fanout.Hub {
	fc := p.Config.Fanout
	var sink fanout.Sink
	if fc.AMQPURL != "" {
		s, err := fanout.DialAMQP(fc.AMQPURL, fc.AMQPQueue, logger.Named("amqp"))
		if err != nil {
			logger.Error("amqp sink disabled", zap.Error(err))
		} else {
			sink = s
		}
	}
	return fanout.NewHub(b, sink, fc.WriteTimeout.Duration, logger.Named("fanout"))
}

func provideChatService(db *store.DB, dir *attendee.Directory, logger *zap.Logger) *api.ChatService {
	return api.NewChatService(db, dir, logger)
}

func provideMessageService(db *store.DB, sender *outbox.Sender, logger *zap.Logger) *api.MessageService {
	return api.NewMessageService(db, sender, logger)
}

func provideSyncService(p Params, db *store.DB, runner *chatsync.Runner, rec *outbox.Reconciler, logger *zap.Logger) *api.SyncService {
	return api.NewSyncService(db, runner, rec, p.Config.AccountID, logger)
}

func provideStatusService(m *status.Machine, db *store.DB, runner *chatsync.Runner, b *bus.Bus, hub *fanout.Hub, logger *zap.Logger) *api.StatusService {
	return api.NewStatusService(m, db, runner, b, hub, logger)
}

func provideWebhookService(in *webhook.Ingestor, logger *zap.Logger) *api.WebhookService {
	return api.NewWebhookService(in, logger)
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	db *store.DB,
	runner *chatsync.Runner,
	reconciler *outbox.Reconciler,
	policy *autopilot.Policy,
	hub *fanout.Hub,
	registrar *webhook.Registrar,
	machine *status.Machine,
	logger *zap.Logger,
) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			// Fan-out subscribes before anything can publish message.new.
			hub.Start()

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("http server error", zap.Error(err))
					_ = machine.TransitionWithReason(status.Degraded, err.Error())
				}
			}()

			_ = machine.Transition(status.Ready)
			runner.Start(context.Background())
			reconciler.Start(context.Background())

			// Registration talks to the gateway; never hold up startup on it.
			go registrar.Ensure(context.Background())
			return nil
		},
		OnStop: func(ctx context.Context) error {
			_ = machine.Transition(status.Stopping)
			srv.Stop(ctx)
			reconciler.Stop()
			runner.Stop()
			policy.Close()
			hub.Close()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
