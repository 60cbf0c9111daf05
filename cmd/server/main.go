package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/photomosaic/api/internal/config"
	"github.com/photomosaic/api/internal/handler"
	"github.com/photomosaic/api/internal/imageio"
	"github.com/photomosaic/api/internal/jobstore"
	"github.com/photomosaic/api/internal/middleware"
	"github.com/photomosaic/api/internal/model"
	"github.com/photomosaic/api/internal/mosaic"
	"github.com/photomosaic/api/internal/pipeline"
	"github.com/photomosaic/api/internal/service"
	"github.com/photomosaic/api/internal/storage"
	ws "github.com/photomosaic/api/internal/websocket"
	"github.com/photomosaic/api/internal/worker"
	"github.com/photomosaic/api/pkg/response"
)

const cancelPollInterval = 2 * time.Second

// @title          Photomosaic API
// @version        1.0
// @description    Turns uploaded photos into tile mosaics.
// @host           localhost:8000
// @BasePath       /
// @schemes        http https
func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	setupLogging(cfg.Server.LogLevel)

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.WithError(err).Warn("redis not available")
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	// Output storage: R2 when configured, local directory otherwise
	var out storage.Storage
	var local *storage.LocalStorage
	if cfg.R2.Configured() {
		r2, err := storage.NewR2Storage(&cfg.R2)
		if err != nil {
			log.Fatalf("Failed to initialize R2 storage: %v", err)
		}
		out = r2
		log.WithField("bucket", cfg.R2.BucketName).Info("publishing outputs to R2")
	} else {
		local, err = storage.NewLocalStorage(cfg.Mosaic.OutputDir, cfg.Mosaic.PublicPath)
		if err != nil {
			log.Fatalf("Failed to initialize output directory: %v", err)
		}
		out = local
		log.WithField("dir", local.Root()).Info("R2 not configured, publishing outputs locally")
	}

	codec := imageio.New(cfg.Mosaic.JPEGQuality)
	store := jobstore.NewRedisStore(redisClient, jobstore.DefaultTTL)

	// Load the tile library up front so the first job does not pay for it.
	// A failure here is not fatal: the library is retried on first use.
	library := mosaic.NewRegistry(cfg.Mosaic.LibraryDir, cfg.Mosaic.LibraryOptions(codec))
	if _, err := library.Get(ctx); err != nil {
		log.WithError(err).Warn("tile library not loaded")
	}

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()
	defer hub.Stop()

	renderer := pipeline.New(pipeline.Config{
		Grid:               cfg.Mosaic.GridSpec(),
		TileSizeHQ:         cfg.Mosaic.TileSizeHQ,
		Workers:            cfg.Mosaic.Workers,
		BatchRows:          cfg.Mosaic.BatchRows,
		OutputFormat:       cfg.Mosaic.OutputFormat,
		CancelPollInterval: cancelPollInterval,
	}, library, store, out, codec, hub)

	mosaicService := service.NewMosaicService(store, asynqClient, renderer, library, cfg.Mosaic)
	mosaicHandler := handler.NewMosaicHandler(mosaicService, validator.New(), int64(cfg.Server.BodyLimit))
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit + 1024*1024, // room for multipart framing
	})

	// Global middleware
	app.Use(recover.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		lib := library.Current()
		tiles := 0
		if lib != nil {
			tiles = lib.Len()
		}
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":   redisClient.Ping(c.UserContext()).Err() == nil,
				"r2":      cfg.R2.Configured(),
				"library": tiles > 0,
			},
			"tiles": tiles,
		})
	})

	if local != nil {
		app.Static(cfg.Mosaic.PublicPath, local.Root())
	}

	// Mosaic routes
	api := app.Group("/api/mosaic")
	api.Post("/start", rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour), mosaicHandler.Start)
	api.Post("/hq/:jobId", rateLimiter.HQLimit(cfg.RateLimit.HQPerHour), mosaicHandler.HQ)
	api.Get("/status/:jobId", mosaicHandler.Status)
	api.Get("/result/:jobId", mosaicHandler.Result)
	api.Post("/cancel/:jobId", mosaicHandler.Cancel)
	api.Post("/retry/:jobId", rateLimiter.RenderLimit(cfg.RateLimit.RenderPerHour), mosaicHandler.Retry)
	api.Get("/decorations", mosaicHandler.Decorations)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/jobs/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleConnection(c, c.Params("jobId"))
	}))

	// Start Asynq worker server
	srv := newWorkerServer(cfg, redisOpt)
	mux := asynq.NewServeMux()
	worker.NewMosaicWorker(renderer).Register(mux)
	go func() {
		if err := srv.Run(mux); err != nil {
			log.WithError(err).Error("asynq worker stopped")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		srv.Shutdown()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.WithError(err).Error("server shutdown error")
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.WithField("addr", addr).Info("server starting")
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func setupLogging(level string) {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		log.WithField("level", level).Warn("unknown log level, using info")
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
}

func newWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		asynqLogLevel = asynq.DebugLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "warn") {
		asynqLogLevel = asynq.WarnLevel
	} else if strings.EqualFold(cfg.Server.LogLevel, "error") {
		asynqLogLevel = asynq.ErrorLevel
	}

	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				model.QueueRender: 6,
				model.QueueHQ:     4,
			},
			Logger:   log.StandardLogger(),
			LogLevel: asynqLogLevel,
		},
	)
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	var e *fiber.Error
	if errors.As(err, &e) {
		if e.Code == fiber.StatusRequestEntityTooLarge {
			return response.TooLarge(c, e.Message, nil)
		}
		return response.Error(c, e.Code, "SERVICE_ERROR", e.Message, nil)
	}
	return response.ServiceError(c, "Internal Server Error")
}
