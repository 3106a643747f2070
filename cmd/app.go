package cmd

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"lawsim/config"
	"lawsim/realtime"
	"lawsim/routes"
	"lawsim/services"
	"lawsim/utils"
	"lawsim/worker"
)

// application holds the wired process: config, connections, services and
// the job runner shared by every subcommand
type application struct {
	cfg    config.Config
	db     *gorm.DB
	redis  *redis.Client
	hub    *realtime.Hub
	runner *worker.Runner
	queue  worker.Queue
	deps   routes.Dependencies
	close  func()
}

// bootstrap loads configuration and connects to the database and Redis
func bootstrap(ctx context.Context) (*application, error) {
	if err := config.LoadConfig(); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := config.InitLogger(); err != nil {
		return nil, err
	}
	flush, err := config.InitSentry()
	if err != nil {
		logrus.WithError(err).Warn("sentry disabled")
	}
	if err := config.ConnectDB(); err != nil {
		flush()
		return nil, err
	}
	client, err := config.NewRedisClient(ctx, config.AppConfig.Redis)
	if err != nil {
		flush()
		return nil, err
	}

	a := &application{
		cfg:   config.AppConfig,
		db:    config.DB,
		redis: client,
	}
	a.close = func() {
		if a.redis != nil {
			_ = a.redis.Close()
		}
		if sqlDB, err := a.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
		flush()
	}
	return a, nil
}

// wire builds services, job handlers and HTTP dependencies
func (a *application) wire(ctx context.Context) error {
	db := a.db

	var hot services.HotStore
	var stats services.StatsCounter
	var queue worker.Queue
	if a.redis != nil {
		hot = services.NewRedisHotStore(a.redis)
		stats = services.NewRedisStatsCounter(a.redis)
		queue = worker.NewRedisQueue(a.redis)
	} else {
		queue = worker.NewMemoryQueue(256)
	}
	a.queue = queue

	ai, err := services.NewAIClient(ctx, a.cfg.AI)
	if err != nil {
		return fmt.Errorf("ai client: %w", err)
	}

	a.hub = realtime.NewHub(a.redis)
	licenses := services.NewLicenseEnforcer(db)
	cache := services.NewAiResponseCacheService(db, hot, stats)
	grading := services.NewGradingService(db, cache, ai, licenses, a.cfg.AI.CacheTTL)
	releases := services.NewEvidenceReleaseService(db, cache, a.hub)
	mailer := utils.NewSMTPMailer(a.cfg.SMTP)
	invitations := services.NewInvitationService(db, licenses, mailer, a.cfg.AppBaseURL)
	gateway := utils.NewStripeGateway(a.cfg.StripeSecretKey, a.cfg.StripeWebhookSecret)
	checkout := services.NewLicenseCheckout(db, gateway, licenses)

	a.runner = worker.NewRunner(queue, a.cfg.Worker.Concurrency, a.cfg.Worker.MaxAttempts)
	a.runner.Register(
		worker.NewEvidenceReleaseJob(releases),
		worker.NewAICacheJob(cache, grading),
	)

	a.deps = routes.Dependencies{
		Config:      a.cfg,
		DB:          db,
		Redis:       a.redis,
		Access:      services.NewAccess(db),
		Licenses:    licenses,
		Checkout:    checkout,
		Invitations: invitations,
		Cache:       cache,
		Grading:     grading,
		Releases:    releases,
		Hub:         a.hub,
		Jobs:        a.runner,
	}
	return nil
}

func (a *application) scheduler() *worker.Scheduler {
	w := a.cfg.Worker
	return worker.NewScheduler(a.runner,
		worker.Periodic{Type: worker.TypeEvidenceRelease, Interval: w.ReleaseInterval},
		worker.Periodic{
			Type:     worker.TypeAICacheManagement,
			Payload:  worker.AICachePayload{Mode: worker.ModeCleanup},
			Interval: w.CacheCleanupInterval,
		},
		worker.Periodic{
			Type:     worker.TypeAICacheManagement,
			Payload:  worker.AICachePayload{Mode: worker.ModeWarm},
			Interval: w.CacheWarmInterval,
		},
	)
}
