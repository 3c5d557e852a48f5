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
	"github.com/platinummonkey/entitle/pkg/app"
	"github.com/platinummonkey/entitle/pkg/config"
	"github.com/platinummonkey/entitle/pkg/jobs"
	"github.com/platinummonkey/entitle/pkg/observability"
)

// version is set at build time
var version = "dev"

var (
	configFile = flag.String("config", os.Getenv(config.FileEnv), "Path to a YAML config file")
	runOnce    = flag.Bool("run-once", false, "Run every job once and exit")
)

func main() {
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "entitle-worker: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName+"-worker")

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

	scheduler := jobs.NewScheduler(logger, a.Metrics)
	if err := scheduler.Add(jobs.ExpireInvitationsJob, cfg.Jobs.ExpireInvitationsSchedule, jobs.ExpireInvitations(a.Orgs)); err != nil {
		a.Close(ctx)
		return err
	}
	if err := scheduler.Add(jobs.ReconcileTiersJob, cfg.Jobs.ReconcileTiersSchedule, jobs.ReconcileTiers(a.Billing)); err != nil {
		a.Close(ctx)
		return err
	}

	// Run once mode (for testing or manual repair)
	if *runOnce {
		runErr := scheduler.RunOnce(ctx)
		closeCtx, closeCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer closeCancel()
		return errors.Join(runErr, a.Close(closeCtx), observability.ShutdownOTel(closeCtx, otelProviders, logger))
	}

	healthRouter := mux.NewRouter()
	observability.RegisterHealthRoutes(healthRouter, a.HealthChecker(version))
	healthRouter.Handle("/metrics", observability.MetricsHandler(a.Registry)).Methods(http.MethodGet)
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, healthServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})
	shutdown.Register("app", a.Close)
	shutdown.Register("scheduler", scheduler.Stop)

	go func() {
		logger.WithField("addr", healthServer.Addr).Info("Listening")
		if err := healthServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Health server failed")
			cancel()
		}
	}()

	scheduler.Start(ctx)
	logger.WithField("version", version).Info("entitle worker started")

	return shutdown.WaitForSignal(ctx)
}
