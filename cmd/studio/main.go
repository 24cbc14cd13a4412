package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/redis/go-redis/v9"

	"github.com/adreel/studio/internal/client"
	"github.com/adreel/studio/internal/config"
	"github.com/adreel/studio/internal/handler"
	"github.com/adreel/studio/internal/middleware"
	"github.com/adreel/studio/internal/poller"
	"github.com/adreel/studio/internal/service"
	"github.com/adreel/studio/internal/store"
	ws "github.com/adreel/studio/internal/websocket"
)

const maxBodySize = 512 * 1024 * 1024 // 512MB

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Sessions and rate limits live in Redis when it is reachable
	var sessionStore store.SessionStore
	limiterClient := redisClient
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		log.Printf("Warning: Redis not available, sessions are kept in memory: %v", err)
		sessionStore = store.NewMemoryStore()
		limiterClient = nil
	} else {
		sessionStore = store.NewRedisStore(redisClient, store.DefaultTTL)
	}

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	// Fallback object storage (optional)
	var storage client.StorageClient
	if cfg.R2.Configured() {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Printf("Warning: R2 client not initialized: %v", err)
		} else {
			storage = r2Client
		}
	} else {
		log.Println("Info: R2 storage not configured, uploads have no fallback")
	}

	renderClient := client.NewRenderClient(&cfg.Render)
	log.Printf("Info: render backend at %s", renderClient.BaseURL())

	gateway := service.NewRenderGateway(renderClient, storage)
	sessions := service.NewSessionManager(gateway, poller.New(gateway, cfg.Poll.Interval), sessionStore, hub)
	defer sessions.Close()

	rateLimiter := middleware.NewRateLimiter(limiterClient)

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    maxBodySize,
	})

	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	handler.Register(app,
		handler.NewSessionHandler(sessions, validate),
		handler.NewRenderHandler(gateway),
		rateLimiter,
		cfg.RateLimit,
		hub,
	)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Printf("Studio API starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	hub.Stop()
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
