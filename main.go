package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/AdminTLI/roommatematch-sub010/pkg/config"
	"github.com/AdminTLI/roommatematch-sub010/pkg/database"
	"github.com/AdminTLI/roommatematch-sub010/pkg/events"
	"github.com/AdminTLI/roommatematch-sub010/pkg/handlers"
	"github.com/AdminTLI/roommatematch-sub010/pkg/logging"
	"github.com/AdminTLI/roommatematch-sub010/pkg/metrics"
	"github.com/AdminTLI/roommatematch-sub010/pkg/middleware"
	"github.com/AdminTLI/roommatematch-sub010/pkg/ratelimit"
	"github.com/AdminTLI/roommatematch-sub010/pkg/repositories"
	"github.com/AdminTLI/roommatematch-sub010/pkg/services"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.ConnectionString())),
		zap.String("redis", cfg.Redis.Host),
		zap.Int("top_k", cfg.Matching.TopK),
		zap.Int("min_fit_index", cfg.Matching.MinFitIndex))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runMigrations(cfg, logger); err != nil {
		logger.Fatal("Migrations failed", zap.Error(err))
	}

	db, err := database.NewConnection(ctx, &cfg.Database)
	if err != nil {
		logger.Fatal("Database connection failed", zap.Error(err))
	}
	defer db.Close()

	redisClient, err := database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		logger.Fatal("Redis connection failed", zap.Error(err))
	}
	var limiter ratelimit.Limiter
	if redisClient != nil {
		defer redisClient.Close()
		limiter = ratelimit.NewRedisLimiter(redisClient)
		logger.Info("Rate limiting backed by Redis")
	} else {
		limiter = ratelimit.NewMemoryLimiter()
		logger.Info("Rate limiting in-process (Redis not configured)")
	}

	m := metrics.New()
	bus := events.NewBus()
	defer bus.Close()

	// Repositories
	vectorRepo := repositories.NewVectorRepository(db)
	suggestionRepo := repositories.NewSuggestionRepository(db)
	blocklistRepo := repositories.NewBlocklistRepository(db)
	reportRepo := repositories.NewReportRepository(db)
	experimentRepo := repositories.NewExperimentRepository(db)
	analyticsRepo := repositories.NewAnalyticsRepository(db)
	retentionRepo := repositories.NewRetentionRepository(db)

	// Services
	vectorService := services.NewVectorService(vectorRepo, logger)
	moderationService := services.NewModerationService(blocklistRepo, reportRepo, &cfg.Moderation, bus, m, logger)
	matchService := services.NewMatchService(suggestionRepo, moderationService, &cfg.Matching, bus, m, logger)
	experimentService := services.NewExperimentService(experimentRepo, suggestionRepo, &cfg.Experiment, logger)
	generator := services.NewCandidateGenerator(vectorRepo, suggestionRepo, blocklistRepo, experimentService, &cfg.Matching, bus, m, logger)
	anomalyService := services.NewAnomalyService(analyticsRepo, &cfg.Anomaly, bus, m, logger)
	retentionService := services.NewRetentionService(retentionRepo, &cfg.Retention, logger)

	// Background workers
	services.NewNotifier(bus, logger).Run(ctx)
	matchService.RunExpiryScheduler(ctx, time.Duration(cfg.Matching.ExpirySweepMinutes)*time.Minute)
	if cfg.Anomaly.ScanIntervalMinutes > 0 {
		anomalyService.RunScheduler(ctx, time.Duration(cfg.Anomaly.ScanIntervalMinutes)*time.Minute)
	}

	// HTTP surface
	mux := http.NewServeMux()
	guard := handlers.NewRateLimitGuard(limiter, &cfg.RateLimit, m, logger)

	handlers.NewHealthHandler(cfg, logger).RegisterRoutes(mux)
	handlers.NewMatchHandler(matchService, generator, guard, cfg.RateLimit.Respond, cfg.Matching.MinFitIndex, logger).RegisterRoutes(mux)
	handlers.NewModerationHandler(moderationService, guard, cfg.RateLimit.Block, cfg.RateLimit.Report, logger).RegisterRoutes(mux)
	handlers.NewExperimentHandler(experimentService, logger).RegisterRoutes(mux)
	handlers.NewAnalyticsHandler(anomalyService, retentionService, logger).RegisterRoutes(mux)
	handlers.NewVectorHandler(vectorService, retentionService, logger).RegisterRoutes(mux)
	mux.Handle("GET /metrics", m.Handler())

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.BindAddr, cfg.Port),
		Handler:           middleware.RequestLogger(logger, m)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Starting match engine",
			zap.String("addr", server.Addr),
			zap.String("version", cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Graceful shutdown failed", zap.Error(err))
	}
}

// runMigrations opens a short-lived database/sql connection for the
// migration tool, separate from the pgx pool the repositories use.
func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	sqlDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	return database.RunMigrations(sqlDB, cfg.Database.MigrationsPath, logger)
}
