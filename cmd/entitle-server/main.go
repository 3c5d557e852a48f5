package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/platinummonkey/entitle/pkg/api"
	"github.com/platinummonkey/entitle/pkg/app"
	"github.com/platinummonkey/entitle/pkg/auth"
	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/middleware"
	"github.com/platinummonkey/entitle/pkg/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// version is set at build time
var version = "dev"

func main() {
	configFile := flag.String("config", os.Getenv(config.FileEnv), "Path to a YAML config file")
	flag.Parse()

	if err := run(*configFile); err != nil {
		fmt.Fprintf(os.Stderr, "entitle-server: %v\n", err)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	otelProviders, err := observability.InitOTel(ctx, cfg.Observability.OTel(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}

	verifier, err := auth.NewOIDCVerifier(ctx, cfg.Session.Issuer, cfg.Session.Audience)
	if err != nil {
		a.Close(ctx)
		return err
	}

	server := api.NewServer(api.Deps{
		Orgs:           a.Orgs,
		Billing:        a.Billing,
		Access:         a.Access,
		Webhooks:       a.WebhookHandler(),
		Sessions:       middleware.NewSessionMiddleware(verifier, true),
		InviteLimiter:  inviteLimiter(ctx, a),
		Logger:         logger,
		Metrics:        a.Metrics,
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(server, "entitle"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// health checks and metrics on their own port
	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, a.HealthChecker(version))
	healthRouter.Handle("/metrics", observability.MetricsHandler(a.Registry)).Methods(http.MethodGet)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("app", a.Close)
	shutdown.Register("health server", healthServer.Shutdown)

	if configFile != "" {
		go func() {
			if err := config.Watch(ctx, configFile, logger, config.ApplyLogLevel(logger)); err != nil {
				logger.WithError(err).Warn("Config hot reload disabled")
			}
		}()
	}

	serveErr := make(chan error, 2)
	for _, srv := range []*http.Server{httpServer, healthServer} {
		srv := srv
		go func() {
			logger.WithField("addr", srv.Addr).Info("Listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serveErr <- fmt.Errorf("%s: %w", srv.Addr, err)
				cancel()
			}
		}()
	}

	logger.WithField("version", version).Info("entitle server started")
	shutdownErr := shutdown.WaitForSignal(ctx)

	select {
	case err := <-serveErr:
		return err
	default:
		return shutdownErr
	}
}

// inviteLimiter shares invitation quotas through Redis when it is configured
func inviteLimiter(ctx context.Context, a *app.App) middleware.Limiter {
	perHour := a.Config.Server.InvitesPerHour
	if perHour == 0 {
		return nil
	}
	cfg := middleware.RateLimitConfig{RequestsPerWindow: perHour, WindowDuration: time.Hour}

	if a.Redis != nil {
		return middleware.NewRedisLimiter(a.Redis, cfg, "")
	}

	limiter := middleware.NewMemoryLimiter(cfg)
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Cleanup()
			}
		}
	}()
	return limiter
}
