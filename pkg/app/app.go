package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/platinummonkey/entitle/pkg/access"
	"github.com/platinummonkey/entitle/pkg/billing"
	"github.com/platinummonkey/entitle/pkg/cache"
	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/migrations"
	"github.com/platinummonkey/entitle/pkg/notify"
	"github.com/platinummonkey/entitle/pkg/observability"
	"github.com/platinummonkey/entitle/pkg/orgs"
	"github.com/platinummonkey/entitle/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// App holds the components shared by the server and the worker
type App struct {
	Config   *config.Config
	Logger   *observability.Logger
	Registry *prometheus.Registry
	Metrics  *observability.Metrics

	DB    *storage.DB
	Redis *redis.Client

	Directory *orgs.SQLStore
	Tiers     *cache.TierCache
	Stripe    *billing.StripeProvider
	Billing   *billing.Service
	Orgs      *orgs.Manager
	Access    *access.Resolver
}

// New connects to the database and Redis, applies migrations and wires the
// domain services. Close releases what New opened.
func New(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*App, error) {
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if cfg.Observability.MetricsEnabled {
		a.Metrics = observability.NewMetrics(a.Registry)
	}

	db, err := storage.Open(cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.DB = db

	applied, err := migrations.Apply(ctx, db)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}
	logger.WithFields(map[string]interface{}{
		"driver":  cfg.Storage.Driver,
		"applied": applied,
	}).Info("Database ready")

	if cfg.Storage.RedisURL != "" {
		client, err := cache.NewRedisClient(cfg.Storage)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.Redis = client
		logger.Info("Redis tier cache enabled")
	}

	a.Directory = orgs.NewSQLStore(db)
	a.Tiers = cache.NewTierCache(a.Redis, cfg.Storage, logger, a.Metrics)

	if cfg.Billing.StripeAPIKey == "" {
		logger.Warn("Stripe API key not set; billing calls will fail")
	}
	a.Stripe = billing.NewStripeProvider(cfg.Billing.Stripe())
	a.Billing = billing.NewService(a.Stripe, billing.NewSQLSubscriptionStore(db), a.Directory,
		billing.WithLogger(logger),
		billing.WithMetrics(a.Metrics),
		billing.WithInvalidator(a.Tiers),
		billing.WithPortalReturnURL(cfg.Billing.PortalReturnURL),
		billing.WithReconcileConcurrency(cfg.Jobs.ReconcileConcurrency),
	)

	a.Orgs = orgs.NewManager(a.Directory, newNotifier(cfg.Notify, logger),
		orgs.WithLogger(logger),
		orgs.WithMetrics(a.Metrics),
		orgs.WithNotifyTimeout(cfg.Notify.Timeout),
		orgs.WithSubscriptionCanceler(a.Billing),
		orgs.WithAppURL(cfg.Server.AppURL),
	)
	a.Access = access.NewResolver(a.Directory, a.Tiers, logger)

	return a, nil
}

func newNotifier(cfg config.NotifyConfig, logger *observability.Logger) notify.Notifier {
	if cfg.RelayURL == "" {
		logger.Info("No mail relay configured; emails are logged")
		return notify.NewLogNotifier(logger)
	}
	return notify.NewHTTPNotifier(cfg.HTTP())
}

// WebhookHandler returns the provider webhook endpoint, or nil when no
// signing secret is configured
func (a *App) WebhookHandler() http.Handler {
	if a.Config.Billing.WebhookSecret == "" {
		a.Logger.Warn("Stripe webhook secret not set; webhook endpoint disabled")
		return nil
	}
	h := billing.NewWebhookHandler(a.Billing, a.Stripe, a.Config.Billing.WebhookSecret)
	h.SetTolerance(a.Config.Billing.WebhookTolerance)
	return h
}

// HealthChecker checks the database and Redis
func (a *App) HealthChecker(version string) *observability.HealthChecker {
	return observability.NewHealthChecker(a.DB.DB, a.Redis, version)
}

// Close waits for in-flight notifications and closes connections
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Orgs != nil {
		if err := a.Orgs.Drain(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	return errors.Join(errs...)
}
