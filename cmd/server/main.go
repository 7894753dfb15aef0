package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/trackparse/api/internal/assets"
	"github.com/trackparse/api/internal/config"
	"github.com/trackparse/api/internal/engine"
	"github.com/trackparse/api/internal/guard"
	"github.com/trackparse/api/internal/handler"
	"github.com/trackparse/api/internal/service"
	"github.com/trackparse/api/internal/store"
	"github.com/trackparse/api/internal/worker"
	ws "github.com/trackparse/api/internal/websocket"
	"github.com/trackparse/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if !cfg.IsDevelopment() {
		log = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub(log)
	go hub.Run()

	// Core components
	jobStore := store.New(log)
	resourceGuard := guard.New(cfg.Analysis.MaxConcurrent, cfg.IsDevelopment(), log)
	assetManager := assets.NewManager(cfg.Analysis.MaxFileBytes, log)
	analyzer := engine.NewClient(&cfg.Engine, log)
	analysisWorker := worker.New(jobStore, resourceGuard, assetManager, analyzer, hub, log)

	// Services
	analysisService := service.NewAnalysisService(cfg, jobStore, resourceGuard, assetManager, analysisWorker, log)
	analysisService.Start(ctx)
	healthMonitor := service.NewHealthMonitor(jobStore, resourceGuard, analyzer)

	// Handlers
	analyzeHandler := handler.NewAnalyzeHandler(analysisService, validate)
	batchHandler := handler.NewBatchHandler(analysisService, validate, analyzeHandler)
	systemHandler := handler.NewSystemHandler(healthMonitor, cfg)

	// Initialize Fiber app
	bodyLimit := int(cfg.Analysis.MaxFileBytes) + 1024*1024
	if cfg.Analysis.MaxFileBytes <= 0 {
		bodyLimit = 512 * 1024 * 1024
	}
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    bodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", systemHandler.Health)

	// API routes
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        cfg.RateLimit.RequestsPerMin,
		Expiration: time.Minute,
	}))

	analyze := api.Group("/analyze")
	analyze.Post("/", analyzeHandler.Sync)
	analyze.Post("/async", analyzeHandler.Async)
	analyze.Get("/status/:requestId", analyzeHandler.Status)
	analyze.Get("/result/:requestId", analyzeHandler.Result)
	analyze.Post("/cancel/:requestId", analyzeHandler.Cancel)

	analyze.Post("/batch", batchHandler.Submit)
	analyze.Get("/batch", batchHandler.List)
	analyze.Get("/batch/:batchId/status", batchHandler.Status)
	analyze.Get("/batch/:batchId/result", batchHandler.Result)

	api.Get("/system/info", systemHandler.Info)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/jobs/:requestId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("requestId"))
	}))

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info().Str("addr", addr).Int("ceiling", cfg.Analysis.MaxConcurrent).Msg("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
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
