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
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/carzbazzar/api/internal/auth"
	"github.com/carzbazzar/api/internal/client"
	"github.com/carzbazzar/api/internal/config"
	"github.com/carzbazzar/api/internal/handler"
	"github.com/carzbazzar/api/internal/media"
	"github.com/carzbazzar/api/internal/middleware"
	"github.com/carzbazzar/api/internal/queue"
	"github.com/carzbazzar/api/internal/service"
	"github.com/carzbazzar/api/internal/state"
	"github.com/carzbazzar/api/internal/store"
	ws "github.com/carzbazzar/api/internal/websocket"
	"github.com/carzbazzar/api/internal/worker"
)

func main() {
	// Load configuration
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

	// Test Redis connection
	ctx := context.Background()
	redisAvailable := true
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
		redisAvailable = false
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}

	// Initialize validator
	validate := validator.New()

	// Initialize WebSocket hub
	hub := ws.NewHub()
	go hub.Run()

	// Object storage
	storage := newObjectStorage(ctx, cfg)

	// Inspection documents
	var docs store.DocumentStore
	if cfg.Documents.Backend == config.DocumentsBackendRedis && redisAvailable {
		docs = store.NewRedisDocuments(redisClient)
	} else {
		log.Println("Info: using in-memory inspection documents")
		docs = store.NewMemoryDocuments()
	}

	// Local state, media and the persisted queue
	appState := state.New()
	mediaStore := media.NewOSStore(cfg.Queue.MediaRoot)

	taskStore, err := store.OpenTaskStore(cfg.Queue.DBPath)
	if err != nil {
		log.Fatalf("Failed to open upload queue database: %v", err)
	}
	defer taskStore.Close()

	restored, err := taskStore.LoadTasks(ctx)
	if err != nil {
		log.Fatalf("Failed to load upload queue: %v", err)
	}
	appState.RestoreQueue(restored)
	log.Printf("Restored %d upload tasks", len(restored))

	manager := queue.NewManager(appState, storage, docs, mediaStore,
		queue.WithNotifier(hub),
		queue.WithPersister(taskStore),
		queue.WithAwaitTimeout(cfg.Queue.AwaitTimeout),
	)

	// Processing trigger
	var trigger service.ProcessTrigger
	var asynqClient *asynq.Client
	if redisAvailable {
		asynqClient = asynq.NewClient(redisOpt)
		defer asynqClient.Close()
		trigger = service.NewAsynqTrigger(asynqClient)
	} else {
		log.Println("Info: asynq unavailable, processing uploads in-process")
		trigger = service.NewInlineTrigger(manager)
	}
	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	if !redisAvailable {
		go service.RunSweep(sweepCtx, trigger, cfg.Queue.SweepInterval)
	}

	// Initialize services
	uploadService := service.NewUploadService(appState, manager, mediaStore, trigger)
	inspectionService := service.NewInspectionService(appState, docs, storage, manager, uploadService, trigger)

	loaded, err := inspectionService.Load(ctx)
	if err != nil {
		log.Printf("Warning: inspections not loaded: %v", err)
	} else {
		log.Printf("Loaded %d open inspections", loaded)
	}

	// Initialize handlers
	inspectionHandler := handler.NewInspectionHandler(inspectionService, validate)
	uploadHandler := handler.NewUploadHandler(uploadService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	if cfg.OIDC.Issuer != "" {
		verifier, err := auth.NewJWKSVerifier(ctx, &cfg.OIDC)
		if err != nil {
			log.Printf("Warning: OIDC verifier not available, accepting HMAC tokens only: %v", err)
		} else {
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(verifier, cfg.JWT.Secret)
			log.Printf("Verifying inspector tokens against %s", cfg.OIDC.Issuer)
		}
	}
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    210 * 1024 * 1024, // videos up to 200MB
	})

	// Global middleware
	app.Use(recover.New())
	isDebug := strings.EqualFold(cfg.Server.LogLevel, "debug")
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path}\n"
	if isDebug {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
		log.Println("Debug logging enabled")
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":     redisAvailable,
				"storage":   cfg.Storage.Provider,
				"documents": cfg.Documents.Backend,
				"queued":    len(manager.Tasks()),
			},
		})
	})

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	// Inspection routes
	inspections := api.Group("/inspections")
	inspections.Post("/", inspectionHandler.Create)
	inspections.Get("/", inspectionHandler.List)
	inspections.Get("/:inspectionId", inspectionHandler.Get)
	inspections.Delete("/:inspectionId", inspectionHandler.Delete)
	inspections.Post("/:inspectionId/complete", inspectionHandler.Complete)
	inspections.Put("/:inspectionId/sections/:sectionKey", inspectionHandler.SaveSection)
	inspections.Put("/:inspectionId/car-details", inspectionHandler.SaveCarDetails)
	inspections.Post("/:inspectionId/media", rateLimiter.CaptureLimit(cfg.RateLimit.CapturePerHour), uploadHandler.Capture)

	// Upload queue routes
	uploads := api.Group("/uploads")
	uploads.Get("/", uploadHandler.List)
	uploads.Post("/process", uploadHandler.Process)
	uploads.Get("/:taskId", uploadHandler.Get)
	uploads.Post("/:taskId/retry", uploadHandler.Retry)
	uploads.Get("/:taskId/wait", uploadHandler.Wait)
	uploads.Delete("/:taskId", uploadHandler.Evict)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/inspections/:inspectionId", websocket.New(func(c *websocket.Conn) {
		inspectionID := c.Params("inspectionId")
		hub.HandleConnection(c, inspectionID)
	}))

	// Start Asynq worker server and the periodic sweep
	var workerSrv *asynq.Server
	var scheduler *asynq.Scheduler
	if redisAvailable {
		workerSrv, scheduler = startWorkerServer(cfg, redisOpt, manager)
	}

	// Pick up whatever was left in the queue by the previous run
	if len(restored) > 0 {
		if err := trigger.Trigger(ctx); err != nil {
			log.Printf("Failed to trigger upload processing: %v", err)
		}
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		stopSweep()
		if scheduler != nil {
			scheduler.Shutdown()
		}
		if workerSrv != nil {
			workerSrv.Shutdown()
		}
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// newObjectStorage picks the configured provider, falling back to mock storage
func newObjectStorage(ctx context.Context, cfg *config.Config) client.ObjectStorage {
	switch cfg.Storage.Provider {
	case config.StorageProviderR2:
		r2Client, err := client.NewR2Client(ctx, &cfg.R2)
		if err == nil {
			return r2Client
		}
		log.Printf("Warning: R2 client not initialized: %v", err)
	case config.StorageProviderGCS:
		gcsClient, err := client.NewGCSClient(ctx, &cfg.GCS)
		if err == nil {
			return gcsClient
		}
		log.Printf("Warning: GCS client not initialized: %v", err)
	}

	log.Println("Info: object storage not configured, using mock storage")
	cfg.Storage.Provider = config.StorageProviderMock
	return client.NewMockStorage()
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch {
	case strings.EqualFold(level, "debug"):
		return asynq.DebugLevel
	case strings.EqualFold(level, "warn"):
		return asynq.WarnLevel
	case strings.EqualFold(level, "error"):
		return asynq.ErrorLevel
	}
	return asynq.InfoLevel
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, manager *queue.Manager) (*asynq.Server, *asynq.Scheduler) {
	logLevel := asynqLogLevel(cfg.Server.LogLevel)

	// One run at a time; the manager serializes runs anyway.
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues: map[string]int{
			service.QueueUploads: 1,
		},
		LogLevel: logLevel,
	})

	uploadWorker := worker.NewUploadWorker(manager)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeProcessUploads, uploadWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
		return nil, nil
	}

	scheduler, err := worker.NewSweepScheduler(redisOpt, cfg.Queue.SweepInterval, logLevel)
	if err != nil {
		log.Printf("Warning: upload sweep not scheduled: %v", err)
		return srv, nil
	}
	if err := scheduler.Start(); err != nil {
		log.Printf("Warning: upload sweep not started: %v", err)
		return srv, nil
	}

	return srv, scheduler
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
