package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/karpovdv/folio/internal/infra/gateway/chartapi"
	"github.com/karpovdv/folio/internal/infra/postgres"
	infraRedis "github.com/karpovdv/folio/internal/infra/redis"
	"github.com/karpovdv/folio/internal/platform/asset"
	"github.com/karpovdv/folio/internal/platform/backfill"
	"github.com/karpovdv/folio/internal/platform/fetcher"
	"github.com/karpovdv/folio/internal/platform/monitor"
	"github.com/karpovdv/folio/internal/platform/pricefeed"
	"github.com/karpovdv/folio/internal/platform/valuation"
	"github.com/karpovdv/folio/internal/scheduler"
	"github.com/karpovdv/folio/internal/transport/httpapi"
	"github.com/karpovdv/folio/internal/transport/httpapi/handler"
	"github.com/karpovdv/folio/pkg/config"
	"github.com/karpovdv/folio/pkg/logger"
)

func main() {
	// Create context that listens for termination signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.NewDefault(cfg.Env)
	log.Info("Starting folio fetcher daemon",
		"env", cfg.Env,
		"port", cfg.Port,
		"update_interval", cfg.UpdateInterval.String(),
	)

	// Initialize database connection pool
	db, err := postgres.NewPool(ctx, postgres.Config{URL: cfg.DatabaseURL})
	if err != nil {
		log.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info("Database connection established")

	// Initialize Redis price cache when configured. The daemon runs
	// without it: every read endpoint is served from Postgres.
	var priceCache asset.PriceCache
	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisURL,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		defer redisClient.Close()

		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		priceCache = infraRedis.NewCache(redisClient, log)
		log.Info("Redis connection established")
	} else {
		log.Warn("REDIS_URL not configured, price caching disabled")
	}

	// Initialize repositories
	assetRepo := postgres.NewAssetRepository(db.Pool)
	trackingRepo := postgres.NewTrackingRepository(db.Pool)
	priceRepo := postgres.NewPriceRepository(db.Pool)
	backfillRepo := postgres.NewBackfillRepository(db.Pool).WithMaxAttempts(cfg.BackfillMaxAttempts)
	logRepo := postgres.NewLogRepository(db.Pool)
	statsRepo := postgres.NewStatsRepository(db.Pool)
	valuationRepo := postgres.NewValuationRepository(db.Pool)
	eventRepo := postgres.NewEventRepository(db.Pool)

	// Initialize services
	assetSvc := asset.NewService(assetRepo, trackingRepo, priceRepo, priceCache, log)
	recorder := monitor.NewRecorder(logRepo, log)
	stats := monitor.NewStats()
	valuationSvc := valuation.NewService(valuationRepo, log)

	// One price source client and one limiter are shared by the refresh
	// loop and the backfill workers, so provider pacing holds globally
	source := chartapi.NewClient(cfg.PriceSourceURL, cfg.PriceSourceUserAgent, cfg.PriceSourceTimeout, log)
	limiter := pricefeed.NewRateLimiter(cfg.MinRequestInterval, cfg.HourlyRequestCap)
	log.Info("Price source initialized",
		"base_url", cfg.PriceSourceURL,
		"min_interval", cfg.MinRequestInterval.String(),
		"hourly_cap", cfg.HourlyRequestCap,
	)

	engine := backfill.NewEngine(
		backfillRepo,
		assetSvc,
		source,
		limiter,
		recorder,
		backfill.Config{Workers: cfg.BackfillWorkers},
		log,
	)

	fetcherSvc := fetcher.NewService(
		&fetcher.Config{UpdateInterval: cfg.UpdateInterval},
		assetSvc,
		source,
		limiter,
		engine,
		valuationSvc,
		eventRepo,
		stats,
		recorder,
		statsRepo,
		log,
	)

	// Reclaim jobs stranded by a previous crash before workers claim
	if err := engine.Resume(ctx); err != nil {
		log.Error("Failed to resume backfill queue", "error", err)
		os.Exit(1)
	}

	// Startup bookkeeping: announce policy, write the first snapshot
	if err := fetcherSvc.Start(ctx); err != nil {
		log.Error("Failed to start fetcher service", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		engine.Run(ctx)
	}()
	log.Info("Backfill engine started", "workers", cfg.BackfillWorkers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		fetcherSvc.Run(ctx)
	}()

	// Transaction notifications feed the tracking registry and the
	// backfill queue
	listener := postgres.NewListener(db.Pool, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = listener.Run(ctx, func(ctx context.Context, evt fetcher.TransactionEvent) {
			_ = fetcherSvc.HandleTransactionCreated(ctx, evt)
		})
	}()

	// Maintenance jobs: periodic snapshots and the daily log purge
	sched := scheduler.New(log)
	snapshotSchedule := fmt.Sprintf("@every %ds", int(cfg.StatsPersistInterval.Seconds()))
	if err := sched.AddJob(snapshotSchedule, fetcher.NewSnapshotJob(fetcherSvc)); err != nil {
		log.Error("Failed to schedule snapshot job", "error", err)
		os.Exit(1)
	}
	if err := sched.AddJob("@daily", fetcher.NewRetentionJob(recorder, cfg.LogRetentionDays)); err != nil {
		log.Error("Failed to schedule retention job", "error", err)
		os.Exit(1)
	}
	sched.Start()

	// Determine allowed origins for CORS
	allowedOrigins := []string{"http://localhost:5173", "http://localhost:5174"} // Vite ports
	if cfg.IsProduction() {
		if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
			allowedOrigins = []string{origins}
		}
	}

	// Create HTTP router for the read-only query surface
	r := httpapi.NewRouter(httpapi.Config{
		Logger:            log,
		AllowedOrigins:    allowedOrigins,
		HealthHandler:     handler.NewHealthHandler(db),
		StatusHandler:     handler.NewStatusHandler(assetSvc, stats, cfg.UpdateInterval),
		StatisticsHandler: handler.NewStatisticsHandler(statsRepo),
		LogsHandler:       handler.NewLogsHandler(logRepo),
		UpdatesHandler:    handler.NewUpdatesHandler(assetSvc),
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for termination signal
	<-ctx.Done()
	log.Info("Shutdown signal received")

	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", "error", err)
	}

	// The loops exit on their own once the signal context is done; give
	// them the rest of the grace window to finish in-flight work
	loopsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(loopsDone)
	}()

	select {
	case <-loopsDone:
		log.Info("Fetcher stopped gracefully")
	case <-shutdownCtx.Done():
		log.Warn("Shutdown grace elapsed with work still in flight")
	}
}
