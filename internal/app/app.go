package app

import (
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	digestbatch "github.com/riskwatch/riskwatch-backend/internal/alerts/digest"
	"github.com/riskwatch/riskwatch-backend/internal/alerts/eligibility"
	"github.com/riskwatch/riskwatch-backend/internal/alerts/fanout"
	"github.com/riskwatch/riskwatch-backend/internal/alerts/generator"
	"github.com/riskwatch/riskwatch-backend/internal/alerts/sender"
	"github.com/riskwatch/riskwatch-backend/internal/channels"
	"github.com/riskwatch/riskwatch-backend/internal/channels/chat"
	"github.com/riskwatch/riskwatch-backend/internal/channels/email"
	"github.com/riskwatch/riskwatch-backend/internal/channels/sms"
	redisclient "github.com/riskwatch/riskwatch-backend/internal/clients/redis"
	"github.com/riskwatch/riskwatch-backend/internal/clients/riskengine"
	"github.com/riskwatch/riskwatch-backend/internal/clients/sendgrid"
	"github.com/riskwatch/riskwatch-backend/internal/clients/twilio"
	"github.com/riskwatch/riskwatch-backend/internal/data/db"
	alertsrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/alerts"
	usersrepo "github.com/riskwatch/riskwatch-backend/internal/data/repos/users"
	"github.com/riskwatch/riskwatch-backend/internal/locks"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
	"github.com/riskwatch/riskwatch-backend/internal/plans"
)

// App owns the worker's wired components. Vendor clients that are not
// configured come up nil; their channel adapters then skip rather than fail.
type App struct {
	Log   *logger.Logger
	Cfg   Config
	DB    *db.PostgresService
	Redis *goredis.Client

	Locks *locks.Manager

	Generator *generator.Generator
	Fanout    *fanout.Engine
	Batcher   *digestbatch.Batcher
	Sender    *sender.Engine
}

func New(log *logger.Logger) (*App, error) {
	cfg := LoadConfig(log)

	pg, err := db.NewPostgresService(log)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if err := pg.AutoMigrateAll(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	rdb, err := redisclient.NewClient(log)
	if err != nil {
		log.Warn("Redis unavailable, quota cache falls back to memory", "error", err.Error())
		rdb = nil
	}

	eventRepo := alertsrepo.NewNotificationEventRepo(pg.DB(), log)
	deliveryRepo := alertsrepo.NewDeliveryRepo(pg.DB(), log)
	digestRepo := alertsrepo.NewDigestRepo(pg.DB(), log)
	userRepo := usersrepo.NewUserRepo(pg.DB(), log)
	prefsRepo := usersrepo.NewNotificationPrefsRepo(pg.DB(), log)

	catalog, err := plans.LoadCatalog()
	if err != nil {
		return nil, fmt.Errorf("plan catalog: %w", err)
	}
	var quotaCache plans.Cache
	if rdb != nil {
		quotaCache = plans.NewRedisCache(rdb, log)
	} else {
		quotaCache = plans.NewMemoryCache()
	}
	quotas := plans.NewService(catalog, quotaCache, cfg.QuotaCacheTTL, log)

	source, err := riskengine.NewFromEnv(log)
	if err != nil {
		return nil, fmt.Errorf("risk engine client: %w", err)
	}

	checker := eligibility.NewChecker(deliveryRepo, digestRepo, log)

	registry := channels.NewRegistry(
		email.New(newSendgrid(log), log),
		chat.New(log),
		sms.New(newTwilio(log), log),
	)

	app := &App{
		Log:   log,
		Cfg:   cfg,
		DB:    pg,
		Redis: rdb,
		Locks: locks.NewManager(pg.DB(), log),

		Generator: generator.New(source, eventRepo, generator.DefaultConfig(), log),
		Fanout: fanout.New(eventRepo, deliveryRepo, userRepo, prefsRepo, quotas, checker, fanout.Config{
			Lookback:  cfg.FanoutLookback,
			BatchSize: cfg.FanoutBatchSize,
			AllowList: cfg.UserAllowList,
		}, log),
		Batcher: digestbatch.New(deliveryRepo, digestRepo, digestbatch.Config{
			Period:    cfg.DigestPeriod,
			Location:  cfg.DigestTimezone,
			BatchSize: cfg.DigestBatchSize,
		}, log),
		Sender: sender.New(deliveryRepo, digestRepo, eventRepo, userRepo, prefsRepo, registry, sender.Config{
			BatchSize:         cfg.SendBatchSize,
			MaxAttempts:       cfg.MaxSendAttempts,
			MaxSendsPerRun:    cfg.MaxSendsPerRun,
			StaleSendingAfter: cfg.StaleSendingAfter,
			Backoff: sender.BackoffPolicy{
				Base:   cfg.RetryBackoffBase,
				Max:    cfg.RetryBackoffMax,
				Jitter: 0.2,
			},
		}, log),
	}
	return app, nil
}

func newSendgrid(log *logger.Logger) sendgrid.Client {
	c, err := sendgrid.NewFromEnv(log)
	if err != nil {
		log.Warn("SendGrid not configured, email sends will skip", "error", err.Error())
		return nil
	}
	return c
}

func newTwilio(log *logger.Logger) twilio.Client {
	c, err := twilio.NewFromEnv(log)
	if err != nil {
		log.Warn("Twilio not configured, SMS sends will skip", "error", err.Error())
		return nil
	}
	return c
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}
