package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/practice-ranking/internal/config"
	"github.com/practice-ranking/internal/handler"
	"github.com/practice-ranking/internal/kafka"
	"github.com/practice-ranking/internal/logging"
	"github.com/practice-ranking/internal/postgres"
	"github.com/practice-ranking/internal/redis"
	"github.com/practice-ranking/internal/service"
	"github.com/practice-ranking/internal/websocket"
	"github.com/practice-ranking/internal/worker"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}

	// Setup structured logging
	logger, logCloser, err := logging.New(&cfg.Logging)
	if err != nil {
		slog.Error("failed to configure logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	offset, err := cfg.Ranking.Offset()
	if err != nil {
		logger.Error("invalid timezone offset", "error", err)
		os.Exit(1)
	}

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()
	board := redis.NewRankingBoard(redisClient, logger)
	presenceRegistry := redis.NewPresenceRegistry(redisClient, logger)
	logger.Info("connected to Redis")

	// Initialize PostgreSQL
	logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
	postgresRepo, err := postgres.NewRepository(&cfg.Postgres, logger)
	if err != nil {
		logger.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	defer postgresRepo.Close()
	logger.Info("connected to PostgreSQL")

	// Run database migrations
	if err := postgresRepo.RunMigrations(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize WebSocket hub
	wsHub := websocket.NewHub(logger)
	go wsHub.Run()
	logger.Info("WebSocket hub initialized")

	// Initialize services
	rankingService := service.NewRankingService(postgresRepo, postgresRepo, board, &cfg.Ranking, offset, logger)
	rankingService.SetHub(wsHub)

	badgeGranter := service.NewBadgeGranter(postgresRepo, cfg.Ranking.TopN, offset, logger)
	badgeGranter.SetHub(wsHub)

	presenceService := service.NewPresenceService(presenceRegistry, cfg.Schedule.PresenceStale, logger)
	accountService := service.NewAccountService(postgresRepo, postgresRepo, logger)

	// Rebuild the realtime board from the database on startup (recovery)
	logger.Info("syncing ranking board from database to Redis")
	boardSync := worker.NewBoardSync(postgresRepo, board, offset, logger)
	if err := boardSync.SyncCurrent(ctx); err != nil {
		logger.Warn("failed to sync board on startup", "error", err)
	}

	// Start scheduler
	scheduler := worker.NewScheduler(badgeGranter, presenceService, &cfg.Schedule, offset, logger)
	if cfg.Schedule.Enabled {
		if err := scheduler.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Initialize Kafka consumer for high-load record ingestion
	var kafkaConsumer *kafka.Consumer
	if cfg.Kafka.Enabled {
		logger.Info("initializing Kafka consumer",
			"brokers", cfg.Kafka.Brokers,
			"topic", cfg.Kafka.Topic,
		)
		kafkaConsumer, err = kafka.NewConsumer(&cfg.Kafka, rankingService, logger)
		if err != nil {
			logger.Warn("failed to create Kafka consumer, continuing without Kafka", "error", err)
		} else if err := kafkaConsumer.Start(); err != nil {
			logger.Warn("failed to start Kafka consumer, continuing without Kafka", "error", err)
			kafkaConsumer = nil
		} else {
			logger.Info("Kafka consumer started successfully")
		}
	}

	// Initialize HTTP handler with WebSocket hub
	httpHandler := handler.NewHandler(rankingService, badgeGranter, presenceService, accountService, wsHub, logger)
	httpHandler.SetJWTSecret(cfg.Auth.JWTSecret)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwt_secret is empty, admin routes will refuse every request")
	}
	httpHandler.AddReadyCheck("postgres", postgresRepo.Ping)
	httpHandler.AddReadyCheck("redis", func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"period", rankingService.CurrentPeriod().ID(),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop WebSocket hub
	wsHub.Stop()

	// Stop Kafka consumer
	if kafkaConsumer != nil {
		if err := kafkaConsumer.Stop(); err != nil {
			logger.Error("failed to stop Kafka consumer", "error", err)
		}
	}

	// Stop scheduler
	if err := scheduler.Stop(); err != nil {
		logger.Error("failed to stop scheduler", "error", err)
	}

	// Shutdown HTTP server
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	logger.Info("server stopped")
}
