package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/CatfishW/ping-agaii-org/pkg/api"
	"github.com/CatfishW/ping-agaii-org/pkg/auth"
	"github.com/CatfishW/ping-agaii-org/pkg/classes"
	"github.com/CatfishW/ping-agaii-org/pkg/config"
	"github.com/CatfishW/ping-agaii-org/pkg/dashboard"
	"github.com/CatfishW/ping-agaii-org/pkg/jobs"
	"github.com/CatfishW/ping-agaii-org/pkg/mail"
	"github.com/CatfishW/ping-agaii-org/pkg/middleware"
	"github.com/CatfishW/ping-agaii-org/pkg/observability"
	"github.com/CatfishW/ping-agaii-org/pkg/storage/postgres"
	"github.com/CatfishW/ping-agaii-org/pkg/telemetry"
	"github.com/CatfishW/ping-agaii-org/pkg/users"
)

var version = "dev"

var (
	envFile = flag.String("env-file", ".env", "Optional dotenv file loaded before reading the environment")
	runJob  = flag.String("run-job", "", "Run one scheduled job by name and exit ("+jobs.AccountSyncJobName+", "+jobs.RetentionJobName+")")
)

func main() {
	flag.Parse()

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "failed to load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).
		WithField("service", cfg.Observability.OTelServiceName)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("ping-api exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx := context.Background()

	// Telemetry export
	otelProviders, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(registry)
	}

	// Primary store
	conns, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Database.URL,
		ReplicaURLs: postgres.ParseReplicaURLs(cfg.Database.ReadURL),
		MaxConns:    cfg.Database.MaxConns,
		MinConns:    cfg.Database.MinConns,
		Timeout:     cfg.Database.Timeout,
		MaxLifetime: cfg.Database.MaxLifetime,
		MaxIdleTime: cfg.Database.MaxIdleTime,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	db := conns.Primary()

	if err := postgres.EnsureSchema(ctx, db); err != nil {
		conns.Close()
		return err
	}

	// Shared cache, optional
	var cache *postgres.RedisClient
	if cfg.Redis.URL != "" {
		cache, err = postgres.NewRedisClient(ctx, postgres.RedisOptions{URL: cfg.Redis.URL, PoolSize: cfg.Redis.PoolSize})
		if err != nil {
			logger.WithError(err).Warn("redis unavailable, continuing with in-process cache only")
			cache = nil
		}
	}

	// Domain services
	creds := auth.NewJWTCredentials(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTTL, cfg.Auth.BcryptCost)
	userService := users.NewService(users.NewStore(db), creds, logger)
	if created, err := userService.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		logger.WithError(err).Warn("failed to bootstrap admin account")
	} else if created {
		logger.WithField("email", cfg.Auth.AdminEmail).Info("bootstrap admin account created")
	}

	dashRegistry := dashboard.DefaultRegistry()
	if cfg.Dashboard.RegistryFile != "" {
		dashRegistry, err = dashboard.LoadRegistryFile(cfg.Dashboard.RegistryFile)
		if err != nil {
			conns.Close()
			return fmt.Errorf("failed to load app registry: %w", err)
		}
	}
	appStore := dashboard.NewAppStore(db)
	if n, err := appStore.EnsureDefaults(ctx, dashRegistry); err != nil {
		logger.WithError(err).Warn("failed to seed app registry")
	} else if n > 0 {
		logger.Infof("seeded %d apps", n)
	}

	sources := &dashboard.Sources{
		Local: dashboard.NewLocalSourceFromPool(conns.Replica, logger),
		File:  dashboard.NewFileSource(cfg.Dashboard.LAMMPDBPath, logger),
		URL:   dashboard.NewURLSource(cfg.Dashboard.GameDBURL, logger),
	}
	aggregator := dashboard.NewAggregator(dashboard.AggregatorConfig{
		Registry:      dashRegistry,
		Apps:          appStore,
		Sources:       sources,
		Trend:         dashboard.NewTrendBuilderFromPool(conns.Replica, logger),
		Cache:         dashboard.NewTieredCache(cfg.Dashboard.CacheSize, cfg.Dashboard.CacheTTL, cache, metrics, logger),
		ReadReplica:   conns.ReadReplicaConfigured(),
		SourceTimeout: cfg.Dashboard.SourceTimeout,
		Metrics:       metrics,
		Logger:        logger,
	})
	accountSync := dashboard.NewAccountSync(db, sources.File, metrics, logger)

	mailer := mail.New(mail.Config{
		Host:     cfg.Mail.Host,
		Port:     cfg.Mail.Port,
		User:     cfg.Mail.User,
		Password: cfg.Mail.Password,
		From:     cfg.Mail.From,
		SSL:      cfg.Mail.SSL,
	}, logger)
	classService := classes.NewService(classes.NewStore(db), mailer, cfg.Mail.JoinURL, logger)
	telemetryService := telemetry.NewService(telemetry.NewStore(db), userService, metrics, logger)

	// Background jobs
	var locker jobs.Locker
	if cache != nil {
		locker = cache
	}
	scheduler := jobs.NewScheduler(locker, metrics, logger)
	for _, job := range []jobs.Job{
		jobs.AccountSyncJob(cfg.Jobs.SyncSchedule, accountSync, aggregator.InvalidateCache),
		jobs.RetentionJob(cfg.Jobs.RetentionSchedule, telemetryService, cfg.Jobs.RetentionDays),
	} {
		if err := scheduler.Add(job); err != nil {
			conns.Close()
			return err
		}
	}

	if *runJob != "" {
		defer conns.Close()
		if cache != nil {
			defer cache.Close()
		}
		defer sources.Close()
		return scheduler.RunNow(ctx, *runJob)
	}

	// HTTP
	var redisRaw *redis.Client
	if cache != nil {
		redisRaw = cache.Client()
	}
	authn := middleware.NewAuthenticator(creds, userService.Store(), false)
	limiter := middleware.NewRateLimiter(redisRaw, middleware.DefaultRateLimitConfig(), "ratelimit:auth")
	audit := auth.NewAuditLogger(db)

	health := observability.NewHealthChecker(db, redisRaw, version)
	health.AddCheck(string(dashboard.SlugLAMMP), sourceCheck(sources.File), false)
	health.AddCheck(string(dashboard.SlugGame), sourceCheck(sources.URL), false)

	server := api.NewServer(api.ServerOptions{
		Logger:         logger,
		Metrics:        metrics,
		Registry:       registry,
		Health:         health,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		Tracing:        cfg.Observability.OTelEnabled,
		ServiceName:    cfg.Observability.OTelServiceName,
	},
		api.NewAuthHandlers(userService, authn, limiter, audit),
		api.NewDashboardHandlers(aggregator, appStore, accountSync, authn, audit),
		api.NewClassHandlers(classService, authn, audit),
		api.NewTelemetryHandlers(telemetryService, authn),
	)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	maintenanceCtx, stopMaintenance := context.WithCancel(ctx)
	conns.StartMaintenance(maintenanceCtx, 30*time.Second, metrics)
	scheduler.Start()

	shutdown := observability.NewShutdownManager(logger, httpServer, cfg.Server.ShutdownTimeout)
	shutdown.Register("jobs", scheduler.Stop)
	shutdown.Register("maintenance", func(context.Context) error {
		stopMaintenance()
		return nil
	})
	shutdown.Register("sources", func(context.Context) error {
		return sources.Close()
	})
	shutdown.Register("database", func(context.Context) error {
		return conns.Close()
	})
	if cache != nil {
		shutdown.Register("redis", func(context.Context) error {
			return cache.Close()
		})
	}
	shutdown.Register("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, otelProviders, logger)
	})

	go func() {
		logger.WithFields(map[string]interface{}{
			"addr":    httpServer.Addr,
			"version": version,
		}).Info("ping-api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("http server failed")
			_ = shutdown.Shutdown()
			os.Exit(1)
		}
	}()

	return shutdown.WaitForShutdown()
}

type metricsFetcher interface {
	FetchMetrics(ctx context.Context) dashboard.MetricsSnapshot
}

// sourceCheck reports a dashboard source as a non-critical dependency.
// Unconfigured sources pass.
func sourceCheck(source metricsFetcher) observability.CheckFunc {
	return func(ctx context.Context) error {
		snap := source.FetchMetrics(ctx)
		if snap.Connected || snap.State == dashboard.StateNotConfigured {
			return nil
		}
		return fmt.Errorf("source %s", snap.State)
	}
}
