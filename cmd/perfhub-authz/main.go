// Command perfhub-authz serves the access-control check API and the staff and
// role management API backed by PostgreSQL.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/perfhub/pkg/audit"
	"github.com/platinummonkey/perfhub/pkg/config"
	"github.com/platinummonkey/perfhub/pkg/httputil"
	"github.com/platinummonkey/perfhub/pkg/middleware"
	"github.com/platinummonkey/perfhub/pkg/observability"
	"github.com/platinummonkey/perfhub/pkg/rbac"
	"github.com/platinummonkey/perfhub/pkg/staff"
)

const (
	serviceName   = "perfhub-authz"
	startupBudget = time.Minute
	dbStatsEvery  = "@every 15s"
)

var version = "dev"

func main() {
	checkConfig := flag.Bool("check-config", false, "Validate configuration and seed, then exit")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	entry := log.WithFields(logrus.Fields{"service": serviceName, "version": version})

	if *checkConfig {
		if _, err := loadSeed(cfg.Seed); err != nil {
			entry.WithError(err).Fatal("Seed is invalid")
		}
		entry.Info("Configuration is valid")
		return
	}

	if err := run(cfg, entry); err != nil {
		entry.WithError(err).Fatal("perfhub-authz exited with error")
	}
}

func run(cfg *config.Config, log logrus.FieldLogger) error {
	startCtx, cancel := context.WithTimeout(context.Background(), startupBudget)
	defer cancel()

	providers, err := observability.InitOTel(startCtx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	db, err := openDatabase(startCtx, cfg.Database)
	if err != nil {
		return err
	}

	if cfg.Database.RunMigrations {
		if err := rbac.RunMigrations(startCtx, db, log); err != nil {
			return err
		}
	}

	store := rbac.NewStore(db)
	if cfg.Seed.ApplyOnStart {
		seed, err := loadSeed(cfg.Seed)
		if err != nil {
			return err
		}
		if err := store.ApplySeed(startCtx, seed); err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"permissions": len(seed.Permissions),
			"roles":       len(seed.Roles),
		}).Info("Applied permission seed")
	}

	sink, dbSink, err := buildAuditSink(startCtx, cfg.Audit, db, log)
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)
	recorder := observability.Recorders{metrics}
	if providers != nil {
		otelMetrics, err := observability.NewOTelMetrics()
		if err != nil {
			return err
		}
		recorder = append(recorder, otelMetrics)
	}

	cache, redisClient, err := buildCache(startCtx, cfg.Cache)
	if err != nil {
		return err
	}

	reader := rbac.NewCachedReader(store, store, cache,
		rbac.WithReaderLogger(log),
		rbac.WithReaderMetrics(recorder),
	)
	// a shared cache may hold system roles from before the seed was applied
	if cfg.Seed.ApplyOnStart && redisClient != nil {
		if err := reader.Clear(startCtx); err != nil {
			log.WithError(err).Warn("Failed to clear shared authorization cache after seeding")
		}
	}
	engine := rbac.NewEngine(reader, reader,
		rbac.WithLogger(log),
		rbac.WithMetrics(recorder),
		rbac.WithTracer(providers.Tracer(serviceName)),
	)
	service := staff.NewService(store,
		staff.WithInvalidator(reader),
		staff.WithAuditSink(sink),
		staff.WithLogger(log),
	)

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	router := mux.NewRouter()
	router.Use(observability.HTTPMetricsMiddleware(metrics))
	observability.RegisterHealthRoutes(router, observability.NewHealthChecker(db, redisClient, version))
	if cfg.Observability.MetricsEnabled {
		observability.RegisterMetricsEndpoint(router, registry)
	}

	var limiter *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		limiter = buildRateLimiter(bgCtx, cfg.RateLimit, redisClient, log)
	}
	api := router.PathPrefix("/v1").Subrouter()
	api.Use(apiMiddleware(sink, limiter)...)
	rbac.NewHandlers(engine, reader, reader, log).RegisterRoutes(api)
	staff.NewHandlers(service, engine, log).RegisterRoutes(api)

	handler := httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(log),
		httputil.RecoveryMiddleware(log),
		httputil.MaxBytesMiddleware(cfg.Server.MaxBodyBytes),
	)(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      otelhttp.NewHandler(handler, serviceName),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	scheduler := cron.New(cron.WithLocation(time.UTC))
	if _, err := scheduler.AddFunc(dbStatsEvery, func() { metrics.ObserveDBStats(db.Stats()) }); err != nil {
		return fmt.Errorf("failed to schedule database stats: %w", err)
	}
	scheduler.Start()

	shutdown := observability.NewShutdownManager(log, server, cfg.Server.ShutdownTimeout)
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	if dbSink != nil && cfg.Audit.Retention > 0 {
		retention := audit.NewRetention(dbSink, cfg.Audit.Retention, cfg.Audit.PruneSchedule, log)
		if err := retention.Start(); err != nil {
			return err
		}
		shutdown.RegisterShutdownFunc("audit-retention", retention.Stop)
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	shutdown.RegisterShutdownFunc("otel", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, log)
	})

	serveErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting perfhub-authz")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	shutdownErr := make(chan error, 1)
	go func() { shutdownErr <- shutdown.WaitForShutdown() }()

	select {
	case err := <-serveErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	case err := <-shutdownErr:
		return err
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func loadSeed(cfg config.SeedConfig) (*rbac.Seed, error) {
	if cfg.File == "" {
		return rbac.DefaultSeed(), nil
	}
	return rbac.LoadSeedFile(cfg.File)
}

// buildAuditSink always logs events and also stores them when database auditing is on
func buildAuditSink(ctx context.Context, cfg config.AuditConfig, db *sql.DB, log logrus.FieldLogger) (audit.Sink, *audit.DBSink, error) {
	logSink := audit.NewLogSink(log)
	if !cfg.DatabaseEnabled {
		return logSink, nil, nil
	}

	dbSink := audit.NewDBSink(db)
	if err := dbSink.EnsureTable(ctx); err != nil {
		return nil, nil, err
	}
	return audit.NewMultiSink(logSink, dbSink), dbSink, nil
}

func buildCache(ctx context.Context, cfg config.CacheConfig) (rbac.Cache, *redis.Client, error) {
	if cfg.Backend != config.CacheBackendRedis {
		return rbac.NewMemoryCache(cfg.Size, cfg.TTL), nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		PoolSize: cfg.RedisPoolSize,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
	}
	return rbac.NewRedisCache(client, cfg.TTL), client, nil
}

// apiMiddleware orders the /v1 chain so the limiter sees anonymous callers
// before identity is required. limiter may be nil.
func apiMiddleware(sink audit.Sink, limiter *middleware.RateLimitMiddleware) []mux.MiddlewareFunc {
	chain := []mux.MiddlewareFunc{
		audit.NewMiddleware(sink).Handler,
		middleware.NewIdentityMiddleware(true).Handler,
	}
	if limiter != nil {
		chain = append(chain, limiter.Handler)
	}
	return append(chain, middleware.RequireIdentity)
}

// buildRateLimiter shares per-user budgets through redis when the redis cache is in use
func buildRateLimiter(ctx context.Context, cfg config.RateLimitConfig, client *redis.Client, log logrus.FieldLogger) *middleware.RateLimitMiddleware {
	perUser := &middleware.RateLimitConfig{RequestsPerWindow: cfg.PerUser, WindowDuration: cfg.Window, BurstSize: cfg.Burst}
	anonymous := &middleware.RateLimitConfig{RequestsPerWindow: cfg.Anonymous, WindowDuration: cfg.Window}

	anonLimiter := middleware.NewRateLimiter(anonymous)
	anonLimiter.StartCleanup(ctx)

	var users middleware.Limiter
	if client != nil {
		users = middleware.NewDistributedRateLimiter(client, perUser, "perfhub:ratelimit:user")
	} else {
		local := middleware.NewRateLimiter(perUser)
		local.StartCleanup(ctx)
		users = local
	}
	return middleware.NewRateLimitMiddleware(users, anonLimiter, log)
}
