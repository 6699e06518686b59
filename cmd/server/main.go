package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/airsenalops/api/internal/airsenal"
	"github.com/airsenalops/api/internal/auth"
	"github.com/airsenalops/api/internal/config"
	"github.com/airsenalops/api/internal/executor"
	"github.com/airsenalops/api/internal/handler"
	"github.com/airsenalops/api/internal/logging"
	"github.com/airsenalops/api/internal/metrics"
	"github.com/airsenalops/api/internal/middleware"
	"github.com/airsenalops/api/internal/queue"
	"github.com/airsenalops/api/internal/store"
	"github.com/airsenalops/api/internal/storesync"
	ws "github.com/airsenalops/api/internal/websocket"
	"github.com/airsenalops/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(cfg.Log)
	logger.Info("starting AIrsenal control room API", "env", cfg.Server.Env)

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "addr", cfg.Redis.Addr, "error", err)
	}

	// Stores
	jobStore := store.NewRedisJobStore(redisClient, cfg.Queue.MaxLogLines)
	secretStore := store.NewRedisSecretStore(redisClient, nil, logger)

	// WebSocket hub
	hub := ws.NewHub(logger)
	go hub.Run()

	// Metrics
	m := metrics.New()
	m.RegisterQueueDepth(func() float64 {
		count, err := jobStore.PendingCount(context.Background())
		if err != nil {
			return 0
		}
		return float64(count)
	})
	m.RegisterWebsocketClients(func() float64 {
		return float64(hub.ClientCount())
	})

	// Job execution pipeline
	exec := executor.New(cfg.Queue.MaxLogLines, logger)
	syncer := storesync.New(cfg.Storage, logger)
	parser := airsenal.NewParser(logger)

	jobQueue := queue.New(queue.Deps{
		Jobs:    jobStore,
		Secrets: secretStore,
		Runner:  exec,
		Sync:    syncer,
		Parser:  parser,
		Hub:     hub,
		Metrics: m,
	}, cfg.Queue, logger)

	if err := jobQueue.Start(ctx); err != nil {
		// Jobs interrupted by the previous run stay put until the next
		// restart; the API itself can still serve.
		logger.Error("job queue recovery failed", "error", err)
	}

	// Validator and auth
	validate := validator.New()
	tokens := auth.NewService(cfg.JWT.Secret, time.Duration(cfg.JWT.ExpirationHours)*time.Hour)

	// Handlers
	jobsHandler := handler.NewJobsHandler(jobQueue, jobStore, validate, logger)
	authHandler := handler.NewAuthHandler(tokens, secretStore, validate, logger)
	secretsHandler := handler.NewSecretsHandler(secretStore, validate, logger)
	reportsHandler := handler.NewReportsHandler(jobStore)
	wsHandler := handler.NewWSHandler(hub, jobStore, tokens, logger)

	// Middleware
	authMiddleware := middleware.NewAuthMiddleware(tokens)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	app.Use(recover.New())
	app.Use(fiberlog.New(fiberlog.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.Server.CORSOrigins,
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Public routes
	app.Get("/", handler.Root)
	app.Get("/health", handler.Health)
	app.Get("/metrics", m.Handler())
	app.Post("/api/auth/login", authHandler.Login)
	app.Post("/api/auth/hash-password", authHandler.HashPassword)
	app.Get("/api/auth/check", authMiddleware.Authenticate(), authHandler.Check)

	// Authenticated API
	api := app.Group("/api", authMiddleware.Authenticate())
	if cfg.RateLimit.Enabled {
		api.Use(rateLimiter.PerMinute(cfg.RateLimit.PerMinute))
	}

	jobs := api.Group("/jobs")
	jobs.Post("", jobsHandler.Create)
	jobs.Get("", jobsHandler.List)
	// The static logs route must precede the :jobId routes.
	jobs.Delete("/logs", jobsHandler.ClearAllLogs)
	jobs.Get("/:jobId", jobsHandler.Get)
	jobs.Post("/:jobId/cancel", jobsHandler.Cancel)
	jobs.Delete("/:jobId/logs", jobsHandler.ClearLogs)
	jobs.Get("/:jobId/output", jobsHandler.Output)

	secrets := api.Group("/secrets")
	secrets.Get("", secretsHandler.List)
	secrets.Post("", secretsHandler.Update)
	secrets.Delete("/:key", secretsHandler.Delete)

	api.Get("/reports/latest", reportsHandler.Latest)

	// WebSocket routes
	app.Use("/ws", wsHandler.Upgrade)
	app.Get("/ws/jobs/:jobId", wsHandler.Handle())

	// Start server
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("server listening", "addr", addr)
		if err := app.Listen(addr); err != nil {
			logger.Error("server stopped", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	jobQueue.Shutdown(shutdownCtx)

	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", "error", err)
	}
	logger.Info("shutdown complete")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
