package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kodomolab/voice-relay/internal/api/handlers"
	rediscache "github.com/kodomolab/voice-relay/internal/cache/redis"
	"github.com/kodomolab/voice-relay/internal/convlog"
	"github.com/kodomolab/voice-relay/internal/metrics"
	"github.com/kodomolab/voice-relay/internal/middleware/ratelimit"
	"github.com/kodomolab/voice-relay/internal/middleware/security"
	"github.com/kodomolab/voice-relay/internal/middleware/validation"
	"github.com/kodomolab/voice-relay/internal/prompts"
	"github.com/kodomolab/voice-relay/internal/quota"
	"github.com/kodomolab/voice-relay/internal/rag"
	"github.com/kodomolab/voice-relay/internal/relay"
	"github.com/kodomolab/voice-relay/internal/resources"
	"github.com/kodomolab/voice-relay/internal/storage/sqlite"
	"github.com/kodomolab/voice-relay/internal/upstream"
	"github.com/kodomolab/voice-relay/pkg/config"
	appLogger "github.com/kodomolab/voice-relay/pkg/logger"
	"github.com/kodomolab/voice-relay/pkg/retry"
)

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting voice tutor relay server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var cache *rediscache.Client
	if cfg.Redis.Enabled {
		retryCfg := retry.DefaultConfig()
		retryCfg.Logger = appLogger.GetLogger()

		err = retry.Do(context.Background(), retryCfg, func() error {
			var rerr error
			cache, rerr = rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
			return rerr
		})
		if err != nil {
			appLogger.Warn("Redis unavailable, running without cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	cacheTTL := time.Duration(cfg.RAG.CacheTTLSec) * time.Second

	var contextCache rag.ContextCache
	var instructionCache prompts.InstructionCache
	if cache != nil {
		contextCache = cache
		instructionCache = cache
	}

	guard := quota.NewGuard(store)
	retriever := rag.NewRetriever(store, contextCache, cfg.RAG.TopK, cacheTTL)
	matcher := resources.NewMatcher(store)
	convLogger := convlog.NewLogger(store)
	promptProvider := prompts.NewProvider(store, store, instructionCache, cacheTTL)

	upstreamCfg := upstream.Config{
		URL:              cfg.Upstream.URL,
		APIKey:           cfg.Upstream.APIKey,
		Model:            cfg.Upstream.Model,
		HandshakeTimeout: time.Duration(cfg.Upstream.HandshakeTimeout) * time.Second,
	}

	engine := relay.NewEngine(relay.EngineConfig{
		Guard:     guard,
		Retriever: retriever,
		Matcher:   matcher,
		ConvLog:   convLogger,
		Prompts:   promptProvider,
		NewUpstream: func() relay.Upstream {
			return upstream.NewClient(upstreamCfg)
		},
	})

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	relayHandler := handlers.NewRelayHandler(engine)
	contentHandler := handlers.NewContentHandler(store, promptCacheOrNil(cache))
	historyHandler := handlers.NewHistoryHandler(store, guard)

	app.Get("/", relayHandler.Upgrade, relayHandler.Handle())

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: 120,
		Logger:               appLogger.GetLogger(),
	})
	defer limiter.Stop()

	api := app.Group("/api/v1", limiter.Middleware(), validation.Middleware(validation.Config{
		Logger: appLogger.GetLogger(),
	}))

	api.Get("/conversations", historyHandler.GetConversations)
	api.Get("/usage/:userId", historyHandler.GetUsage)
	api.Post("/content", contentHandler.AddContent)
	api.Get("/content", contentHandler.ListContent)
	api.Post("/experiments", contentHandler.AddExperiment)
	api.Post("/prompts", contentHandler.UpsertPrompt)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// promptCacheOrNil keeps the handler's invalidator nil when redis is off; a
// typed nil pointer inside the interface would dodge the handler's nil check.
func promptCacheOrNil(cache *rediscache.Client) handlers.PromptCacheInvalidator {
	if cache == nil {
		return nil
	}
	return cache
}
