// Package main is the entry point for the API server.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/capitalize-ai/bill-assistant/internal/chatcontext"
	"github.com/capitalize-ai/bill-assistant/internal/config"
	"github.com/capitalize-ai/bill-assistant/internal/handler"
	"github.com/capitalize-ai/bill-assistant/internal/llm"
	"github.com/capitalize-ai/bill-assistant/internal/middleware"
	natsclient "github.com/capitalize-ai/bill-assistant/internal/nats"
	"github.com/capitalize-ai/bill-assistant/internal/repository"
	"github.com/capitalize-ai/bill-assistant/internal/service"
	"github.com/capitalize-ai/bill-assistant/internal/storage"
	"github.com/capitalize-ai/bill-assistant/internal/worker"
	"github.com/capitalize-ai/bill-assistant/pkg/logger"
	"github.com/capitalize-ai/bill-assistant/pkg/tracing"
)

const contextBucket = "chat_context"

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
	var log *logger.Logger
	var err error
	if os.Getenv("ENV") == "development" {
		log, err = logger.NewDevelopment()
	} else {
		log, err = logger.New(cfg.LogLevel)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	logger.SetGlobal(log)

	if err := run(cfg, log); err != nil {
		log.Error("server exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("starting API server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize tracing if enabled
	if cfg.TracingEnabled {
		tp, err := tracing.InitTracer(ctx, "bill-assistant", cfg.TracingEndpoint)
		if err != nil {
			log.Warn("failed to initialize tracing", zap.Error(err))
		} else {
			defer tracing.Shutdown(context.Background(), tp)
		}
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return fmt.Errorf("invalid timezone %q: %w", cfg.Timezone, err)
	}

	// Database
	db, err := repository.Open(ctx, cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.Migrate(ctx); err != nil {
		return err
	}

	userRepo := repository.NewUserRepository(db, log)
	fileRepo := repository.NewFileRepository(db, log)
	billRepo := repository.NewBillRepository(db, log)
	categoryRepo := repository.NewCategoryRepository(db, log)

	seeded, err := repository.SeedSystemCategories(ctx, db, categoryRepo)
	if err != nil {
		return err
	}
	if seeded > 0 {
		log.Info("seeded system categories", zap.Int("count", seeded))
	}

	// Blob storage
	var blobs storage.Store
	var localDir string
	switch cfg.StorageBackend {
	case "minio":
		blobs, err = storage.NewMinioStore(ctx, storage.MinioConfig{
			Endpoint:  cfg.StorageEndpoint,
			AccessKey: cfg.StorageAccessKey,
			SecretKey: cfg.StorageSecretKey,
			Bucket:    cfg.StorageBucket,
			UseSSL:    cfg.StorageUseSSL,
			Domain:    cfg.StorageDomain,
		})
	case "local":
		var local *storage.LocalStore
		local, err = storage.NewLocalStore(cfg.StorageLocalDir, cfg.StorageDomain)
		if local != nil {
			blobs, localDir = local, local.Dir()
		}
	default:
		err = fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
	if err != nil {
		return err
	}

	// Initialize LLM client
	llmClient, err := llm.NewClient(llm.Config{
		Provider:        llm.Provider(cfg.LLMProvider),
		OpenAIAPIKey:    cfg.OpenAIAPIKey,
		OpenAIBaseURL:   cfg.OpenAIBaseURL,
		AnthropicAPIKey: cfg.AnthropicAPIKey,
	})
	if err != nil {
		return err
	}
	log.Info("LLM client ready", zap.String("provider", llmClient.Name()), zap.String("model", cfg.LLMModel))

	// Events
	var (
		natsClient *natsclient.Client
		streams    *natsclient.StreamManager
		events     service.EventPublisher = service.NopPublisher{}
	)
	if cfg.NATSEnabled {
		natsClient, err = natsclient.Connect(ctx, natsclient.Config{
			URL:      cfg.NATSURL,
			CAFile:   cfg.NATSCAFile,
			CertFile: cfg.NATSCertFile,
			KeyFile:  cfg.NATSKeyFile,
			Token:    cfg.NATSToken,
		}, log)
		if err != nil {
			return err
		}
		defer natsClient.Close()

		streams = natsclient.NewStreamManager(natsClient)
		if err := streams.EnsureStream(ctx); err != nil {
			return err
		}
		events = streams
	}

	// Conversation memory
	memory, closeMemory, err := newContextStore(ctx, cfg, natsClient, log)
	if err != nil {
		return err
	}
	defer closeMemory()

	// Background extraction
	pool := worker.NewPool(cfg.WorkerCount, cfg.WorkerQueueSize, cfg.WorkerTaskTimeout, log)
	pool.Start()

	// Initialize services
	settings := service.ModelSettings{
		Model:       cfg.LLMModel,
		Temperature: cfg.LLMTemperature,
		MaxTokens:   cfg.LLMMaxTokens,
	}
	prompts := service.NewPrompts(loc)
	userSvc := service.NewUserService(userRepo)
	categorySvc := service.NewCategoryService(categoryRepo, log)
	billSvc := service.NewBillService(billRepo, categorySvc, loc, log)
	ingestionSvc := service.NewIngestionService(blobs, fileRepo, events, log)
	extractionSvc := service.NewExtractionService(llmClient, fileRepo, categorySvc, billSvc, prompts, settings, events, log)
	orchestrator := service.NewOrchestrator(service.OrchestratorConfig{
		LLM:          llmClient,
		Uploader:     ingestionSvc,
		Extractor:    extractionSvc,
		Categories:   categorySvc,
		Memory:       memory,
		Tasks:        pool,
		Prompts:      prompts,
		Settings:     settings,
		ReplayRounds: cfg.ContextReplay,
	}, log)

	// Initialize handlers
	var natsHealth handler.ConnectionChecker
	if natsClient != nil {
		natsHealth = natsClient
	}
	healthHandler := handler.NewHealthHandler(db, natsHealth)
	chatHandler := handler.NewChatHandler(orchestrator, cfg.MaxUploadBytes, log)
	fileHandler := handler.NewFileHandler(ingestionSvc, extractionSvc, cfg.MaxUploadBytes, log)
	billHandler := handler.NewBillHandler(billSvc, ingestionSvc, log)
	categoryHandler := handler.NewCategoryHandler(categorySvc, log)

	// Create router
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(log))
	r.Use(middleware.SecurityHeaders)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS())

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	// Locally stored uploads are served at the configured public domain path.
	if localDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(localDir))))
	}

	// API routes with authentication
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWTSecret))
		r.Use(middleware.RateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow))
		r.Use(middleware.ResolveOwner(userSvc, log))

		r.Post("/chat", chatHandler.Chat)
		r.Delete("/chat/context", chatHandler.ClearContext)

		r.Post("/files", fileHandler.Upload)
		r.Post("/files/{id}/extract", fileHandler.Extract)

		r.Get("/bills", billHandler.List)
		r.Post("/bills", billHandler.Create)

		r.Route("/categories", func(r chi.Router) {
			r.Get("/", categoryHandler.List)
			r.Post("/", categoryHandler.Create)
			r.Post("/match", categoryHandler.Match)
			r.Put("/{id}", categoryHandler.Update)
			r.Patch("/{id}/status", categoryHandler.SetStatus)
			r.Delete("/{id}", categoryHandler.Delete)
		})

		if streams != nil {
			r.Get("/events", handler.NewEventsHandler(streams, log).Stream)
		}
	})

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      r,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return err
	}

	log.Info("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	pool.Stop(shutdownCtx)

	log.Info("server stopped")
	return nil
}

// newContextStore builds the configured conversation memory backend. The
// returned func releases the backend's connection and is safe to defer.
func newContextStore(ctx context.Context, cfg *config.Config, nc *natsclient.Client, log *logger.Logger) (chatcontext.Store, func(), error) {
	opts := chatcontext.Options{MaxRounds: cfg.ContextMaxRounds, TTL: cfg.ContextTTL}
	noop := func() {}

	switch cfg.ContextBackend {
	case "memory":
		store := chatcontext.NewMemoryStore(opts, log)
		go store.Run(ctx, time.Minute)
		return store, noop, nil
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		closeRedis := func() {
			if err := rdb.Close(); err != nil {
				log.Warn("failed to close redis client", zap.Error(err))
			}
		}
		return chatcontext.NewRedisStore(rdb, opts, log), closeRedis, nil
	case "nats":
		if nc == nil {
			return nil, nil, fmt.Errorf("chat context backend nats requires NATS_ENABLED")
		}
		kv, err := nc.EnsureKeyValue(ctx, contextBucket, cfg.ContextTTL)
		if err != nil {
			return nil, nil, err
		}
		return chatcontext.NewKVStore(kv, opts, log), noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown chat context backend %q", cfg.ContextBackend)
	}
}
