package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/good-yellow-bee/brokerwatch/internal/alerting"
	"github.com/good-yellow-bee/brokerwatch/internal/api/alerts"
	"github.com/good-yellow-bee/brokerwatch/internal/api/health"
	"github.com/good-yellow-bee/brokerwatch/internal/broker"
	"github.com/good-yellow-bee/brokerwatch/internal/notifier"
	"github.com/good-yellow-bee/brokerwatch/internal/storage"
	"github.com/good-yellow-bee/brokerwatch/internal/thresholds"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg    *Config
	logger *zap.Logger

	store       *storage.SQLiteStorage
	archive     *storage.ClickHouseArchive
	resolved    storage.ResolvedAlertRepository
	redis       *redis.Client
	thresholds  *thresholds.FileStore
	coordinator *notifier.Coordinator
	engine      *alerting.Engine
	servers     alerts.ServerMap
}

// newApp opens storage and wires the engine. The caller must call close.
func newApp(cfg *Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	if err := a.openStorage(); err != nil {
		a.close()
		return nil, err
	}

	a.thresholds = thresholds.NewFileStore(cfg.Thresholds.File, logger.Named("thresholds"))
	var provider thresholds.Provider = a.thresholds
	if cfg.Redis.Enabled {
		opts := thresholds.RedisOptions{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			TTL:      duration(cfg.Redis.TTL),
		}
		a.redis = thresholds.NewRedisClient(opts)
		provider = thresholds.NewRedisCache(a.redis, a.thresholds, opts, logger.Named("thresholds"))
	}

	coordinator, err := a.buildCoordinator()
	if err != nil {
		a.close()
		return nil, err
	}
	a.coordinator = coordinator

	tracker := alerting.NewTracker(a.store.SeenAlerts(), a.resolved, alerting.TrackerOptions{
		Cooldown: duration(cfg.Alerting.Cooldown),
		Logger:   logger.Named("tracker"),
	})
	a.engine = alerting.NewEngine(provider, tracker, a.store.Preferences(), coordinator, alerting.EngineOptions{
		Logger: logger.Named("engine"),
	})

	a.servers = make(alerts.ServerMap, len(cfg.Brokers))
	for _, b := range cfg.Brokers {
		client, err := broker.NewClient(b.ID, broker.Config{
			URL:      b.URL,
			Username: b.Username,
			Password: b.Password,
			Timeout:  duration(b.Timeout),
		}, logger.Named("broker"))
		if err != nil {
			a.close()
			return nil, fmt.Errorf("broker %s: %w", b.ID, err)
		}
		a.servers[b.ID] = alerts.Target{TenantID: b.TenantID, Source: client}
	}
	return a, nil
}

func (a *app) openStorage() error {
	dbDir := filepath.Dir(a.cfg.Database.Path)
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	a.store = storage.NewSQLiteStorage(a.cfg.Database.Path)
	if a.cfg.Database.MasterKey != "" {
		a.store.WithMasterKey([]byte(a.cfg.Database.MasterKey))
	} else {
		a.logger.Warn("no master key configured, delivery targets are stored unsealed")
	}
	if err := a.store.Open(); err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	if err := a.store.Migrate(); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	a.logger.Info("database initialized", zap.String("path", a.cfg.Database.Path))
	a.resolved = a.store.ResolvedAlerts()

	if a.cfg.History.Backend != "clickhouse" {
		return nil
	}
	ch := a.cfg.History.ClickHouse
	a.archive = storage.NewClickHouseArchive(&storage.ClickHouseConfig{
		Addresses:     ch.Addresses,
		Database:      ch.Database,
		Username:      ch.Username,
		Password:      ch.Password,
		RetentionDays: ch.RetentionDays,
		Compression:   ch.Compression,
	})
	if err := a.archive.Open(); err != nil {
		return fmt.Errorf("open clickhouse: %w", err)
	}
	if err := a.archive.Migrate(); err != nil {
		return fmt.Errorf("migrate clickhouse: %w", err)
	}
	a.resolved = a.archive
	a.logger.Info("resolved alerts archived to clickhouse", zap.Strings("addresses", ch.Addresses))
	return nil
}

// buildCoordinator enables each channel whose server-side configuration is
// present. Tenants still choose which channels they use.
func (a *app) buildCoordinator() (*notifier.Coordinator, error) {
	httpClient := &http.Client{Timeout: duration(a.cfg.Notifications.Timeout)}
	rl := a.cfg.Notifications.RateLimit
	opts := notifier.CoordinatorOptions{
		Webhooks: notifier.NewWebhookFanout(httpClient, a.logger.Named("webhook")),
		Recorder: a.store.SeenAlerts(),
		RateLimit: notifier.RateLimitConfig{
			MaxPerWindow: rl.MaxPerWindow,
			Window:       duration(rl.Window),
			Burst:        rl.Burst,
			Enabled:      a.cfg.RateLimitEnabled(),
		},
		Logger: a.logger.Named("notifier"),
	}

	if a.cfg.SMTP.Host != "" {
		email, err := notifier.NewEmailNotifier(&notifier.EmailConfig{
			Host:     a.cfg.SMTP.Host,
			Port:     a.cfg.SMTP.Port,
			Username: a.cfg.SMTP.Username,
			Password: a.cfg.SMTP.Password,
			From:     a.cfg.SMTP.From,
		})
		if err != nil {
			return nil, fmt.Errorf("email notifier: %w", err)
		}
		opts.Email = email
	} else {
		a.logger.Info("smtp not configured, email channel disabled")
	}

	chat := notifier.NewChatFanout(httpClient, a.logger.Named("chat"))
	if a.cfg.Discord.BotToken != "" {
		session, err := notifier.NewDiscordSession(a.cfg.Discord.BotToken)
		if err != nil {
			return nil, err
		}
		chat.WithDiscord(session)
	}
	opts.Chat = chat

	return notifier.NewCoordinator(opts), nil
}

// registerHealth adds a readiness checker per backing service.
func (a *app) registerHealth(h *health.Handler) {
	h.RegisterChecker(health.NewSQLiteChecker(a.store.DB()))
	if a.archive != nil {
		h.RegisterChecker(health.NewClickHouseChecker(a.archive))
	}
	if a.redis != nil {
		h.RegisterChecker(health.NewFuncChecker("redis", func(ctx context.Context) error {
			return a.redis.Ping(ctx).Err()
		}))
	}
}

// passRequest builds the pass for a configured broker. An empty vhost
// falls back to the broker's configured vhost.
func (a *app) passRequest(serverID, vhost string) (alerting.PassRequest, error) {
	target, ok := a.servers.Lookup(serverID)
	if !ok {
		return alerting.PassRequest{}, fmt.Errorf("unknown server %q", serverID)
	}
	if vhost == "" {
		b, _ := a.cfg.Broker(serverID)
		vhost = b.VHost
	}
	return alerting.PassRequest{
		TenantID: target.TenantID,
		ServerID: serverID,
		VHost:    vhost,
		Source:   target.Source,
	}, nil
}

func (a *app) close() {
	if a.redis != nil {
		a.redis.Close()
	}
	if a.archive != nil {
		a.archive.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}
