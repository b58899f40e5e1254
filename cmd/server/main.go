package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"services/trading-simulation-service/internal/client"
	"services/trading-simulation-service/internal/config"
	"services/trading-simulation-service/internal/handler"
	"services/trading-simulation-service/internal/middleware"
	"services/trading-simulation-service/internal/repository"
	"services/trading-simulation-service/internal/service"
	"services/trading-simulation-service/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Set up logger
	logger, err := createLogger(cfg.Logging.Level)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	// Connect to database
	db, err := connectToDB(cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Optional Redis cache for market data responses
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Warn("Redis unavailable, continuing without cache", zap.Error(err))
			redisClient = nil
		}
	}

	// Initialize repositories
	simulationRepo := repository.NewSimulationRepository(db, logger)
	tradeRepo := repository.NewTradeRepository(db, logger)

	// Initialize clients
	userClient := client.NewUserClient(cfg.UserService.URL, logger)
	marketDataClient := client.NewMarketDataClient(client.MarketDataClientOptions{
		BaseURL:    cfg.MarketData.URL,
		ServiceKey: cfg.MarketData.ServiceKey,
		Timeout:    cfg.MarketData.Timeout,
		Redis:      redisClient,
		CacheTTL:   cfg.Redis.CacheTTL,
		MaxRetries: cfg.MarketData.MaxRetries,
	}, logger)
	oracleClient := client.NewOracleClient(client.OracleClientOptions{
		BaseURL:     cfg.Oracle.BaseURL,
		APIKey:      cfg.Oracle.APIKey,
		Timeout:     cfg.Oracle.Timeout,
		MaxTokens:   cfg.Oracle.MaxTokens,
		Temperature: cfg.Oracle.Temperature,
	}, logger)

	// Kafka run-task dispatch
	dispatcher := worker.NewDispatcher(cfg.Kafka.Brokers, cfg.Kafka.RunTasksTopic, logger)
	defer dispatcher.Close()

	// Initialize services
	simulationService := service.NewSimulationService(
		simulationRepo,
		tradeRepo,
		dispatcher,
		logger,
	)
	engine := service.NewEngine(service.EngineOptions{
		Sims:          simulationRepo,
		Trades:        tradeRepo,
		MarketData:    marketDataClient,
		Oracle:        oracleClient,
		OracleTimeout: cfg.Oracle.Timeout,
		LookbackDays:  cfg.Simulation.LookbackDays,
		OutputSize:    cfg.Simulation.OutputSize,
		MinDataPoints: cfg.Simulation.MinDataPoints,
		MinWindowDays: cfg.Simulation.MinWindowDays,
		FallbackDays:  cfg.Simulation.FallbackDays,
	}, logger)

	// Initialize handlers
	simulationHandler := handler.NewSimulationHandler(simulationService, logger)

	// Start the run-task consumer
	workerCtx, stopWorker := context.WithCancel(context.Background())
	runWorker := worker.NewWorker(
		cfg.Kafka.Brokers,
		cfg.Kafka.RunTasksTopic,
		cfg.Kafka.ConsumerGroup,
		engine,
		logger,
	)
	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		runWorker.Start(workerCtx)
	}()

	// Set up HTTP server with Gin
	router := setupRouter(simulationHandler, userClient, logger, cfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start the server in a goroutine
	go func() {
		logger.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Create a deadline for server shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Fatal("Server forced to shutdown", zap.Error(err))
	}

	// Stop the consumer; in-flight runs observe context cancellation
	stopWorker()
	runWorker.Close()
	<-workerDone

	logger.Info("Server exited properly")
}

func createLogger(level string) (*zap.Logger, error) {
	var zapLevel zap.AtomicLevel
	switch level {
	case "debug":
		zapLevel = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "info":
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	case "warn":
		zapLevel = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zapLevel = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zapLevel = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	config := zap.Config{
		Level:            zapLevel,
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}

func connectToDB(dbConfig config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		dbConfig.Host,
		dbConfig.Port,
		dbConfig.User,
		dbConfig.Password,
		dbConfig.DBName,
		dbConfig.SSLMode,
	)

	db, err := sqlx.Connect("pgx", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(dbConfig.MaxOpenConns)
	db.SetMaxIdleConns(dbConfig.MaxIdleConns)
	db.SetConnMaxLifetime(dbConfig.ConnMaxLifetime)

	return db, nil
}

func setupRouter(
	simulationHandler *handler.SimulationHandler,
	userClient *client.UserClient,
	logger *zap.Logger,
	cfg *config.Config,
) *gin.Engine {
	router := gin.New()

	// Use middlewares
	router.Use(gin.Recovery())
	router.Use(middleware.Logger(logger))

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	// API routes requiring user authentication
	api := router.Group("/api/v1")
	api.Use(middleware.AuthMiddleware(userClient, logger))
	{
		api.GET("/trading/agents", simulationHandler.ListAgents)

		simulations := api.Group("/trading/simulations")
		{
			simulations.POST("", simulationHandler.CreateSimulation)
			simulations.GET("", simulationHandler.ListSimulations)
			simulations.GET("/:id", simulationHandler.GetSimulation)
			simulations.DELETE("/:id", simulationHandler.DeleteSimulation)
			simulations.GET("/:id/trades", simulationHandler.GetSimulationTrades)
			simulations.POST("/:id/start", simulationHandler.StartSimulation)
			simulations.POST("/:id/pause", simulationHandler.PauseSimulation)
			simulations.POST("/:id/resume", simulationHandler.ResumeSimulation)
			simulations.POST("/:id/stop", simulationHandler.StopSimulation)
		}
	}

	return router
}
