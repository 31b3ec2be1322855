package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/labgraph/labgraph-backend/internal/app"
	openaiclient "github.com/labgraph/labgraph-backend/internal/clients/openai"
	redisbus "github.com/labgraph/labgraph-backend/internal/clients/redis"
	"github.com/labgraph/labgraph-backend/internal/data/repos"
	"github.com/labgraph/labgraph-backend/internal/db"
	"github.com/labgraph/labgraph-backend/internal/http/handlers"
	"github.com/labgraph/labgraph-backend/internal/jobs/orchestrator"
	"github.com/labgraph/labgraph-backend/internal/jobs/pipeline"
	"github.com/labgraph/labgraph-backend/internal/jobs/runtime"
	"github.com/labgraph/labgraph-backend/internal/jobs/worker"
	"github.com/labgraph/labgraph-backend/internal/pkg/logger"
	"github.com/labgraph/labgraph-backend/internal/platform/arxiv"
	"github.com/labgraph/labgraph-backend/internal/platform/secrets"
	"github.com/labgraph/labgraph-backend/internal/server"
	"github.com/labgraph/labgraph-backend/internal/services"
	"github.com/labgraph/labgraph-backend/internal/sse"
)

func main() {
	_ = godotenv.Load()

	cfg, err := app.LoadConfig()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Postgres
	postgresService, err := db.NewPostgresService(cfg.PostgresDSN(), log)
	if err != nil {
		log.Fatal("Postgres init failed", "error", err)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Fatal("Postgres auto migration failed", "error", err)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos...")
	labRepo := repos.NewLabRepo(thePG, log)
	auditRepo := repos.NewAuditLogRepo(thePG, log)
	schemaRepo := repos.NewKgSchemaRepo(thePG, log)
	connRepo := repos.NewGraphConnectionRepo(thePG, log)
	planRepo := repos.NewMigrationPlanRepo(thePG, log)
	jobRepo := repos.NewProcessingJobRepo(thePG, log)
	stepRepo := repos.NewJobStepRepo(thePG, log)
	keyRepo := repos.NewIdempotencyKeyRepo(thePG, log)
	lockRepo := repos.NewTenantLockRepo(thePG, log)
	paperRepo := repos.NewResearchPaperRepo(thePG, log)

	// Event bus + SSE hub
	log.Info("Setting up event bus and SSE hub...")
	bus, err := redisbus.NewEventBus(cfg.RedisAddr, cfg.RedisChannel, log)
	if err != nil {
		log.Fatal("Redis init failed", "error", err)
	}
	defer bus.Close()
	hub := sse.NewSSEHub(log)

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := bus.StartForwarder(rootCtx, hub.Broadcast); err != nil {
		log.Fatal("Event forwarder failed to start", "error", err)
	}

	// Clients
	secretStore := secrets.NewRedisStore(bus.Client(), log)
	arxivClient := arxiv.NewClient(cfg.ArxivBaseURL, log)
	aiClient, err := openaiclient.NewClient(log)
	if err != nil {
		log.Fatal("OpenAI client init failed", "error", err)
	}

	// Services
	log.Info("Setting up services...")
	notifier := services.NewJobNotifier(bus, log)
	labService := services.NewLabService(thePG, log, labRepo, auditRepo)
	schemaService := services.NewSchemaService(thePG, log, labRepo, schemaRepo, auditRepo, notifier)
	connService := services.NewConnectionService(thePG, log, labRepo, connRepo, auditRepo, secretStore, services.DefaultGraphVerifier(log))
	jobService := services.NewJobService(thePG, log, labRepo, jobRepo, stepRepo, keyRepo, notifier)

	// Job engine
	log.Info("Setting up job engine...")
	engine := orchestrator.NewEngine(log, 30*time.Second, time.Hour)
	deps := &pipeline.Deps{
		Log:     log,
		DB:      thePG,
		Labs:    labRepo,
		Schemas: schemaRepo,
		Conns:   connRepo,
		Plans:   planRepo,
		Papers:  paperRepo,
		Locks:   lockRepo,
		Audit:   auditRepo,
		Arxiv:   arxivClient,
		AI:      aiClient,
		Secrets: secretStore,
		Graphs:  pipeline.NewGraphDialer(log),
	}
	registry := runtime.NewRegistry()
	if err := pipeline.RegisterAll(registry, deps, engine); err != nil {
		log.Fatal("Handler registration failed", "error", err)
	}

	jobWorker := worker.NewWorker(thePG, log, jobRepo, stepRepo, lockRepo, registry, notifier, worker.Options{
		Concurrency:  cfg.WorkerConcurrency,
		PollInterval: cfg.WorkerPollInterval,
		StaleRunning: cfg.StaleRunningAfter,
		AdminLockTTL: cfg.AdminLockTTL,
		Heartbeat:    cfg.HeartbeatInterval,
	})
	workerDone := make(chan error, 1)
	go func() { workerDone <- jobWorker.Start(rootCtx) }()

	// Router
	log.Info("Setting up router...")
	router := server.NewRouter(server.RouterConfig{
		AllowOrigins:      cfg.AllowOrigins,
		LabHandler:        handlers.NewLabHandler(log, labService),
		SchemaHandler:     handlers.NewSchemaHandler(log, schemaService),
		ConnectionHandler: handlers.NewConnectionHandler(log, connService),
		JobHandler:        handlers.NewJobHandler(log, jobService),
		EventsHandler:     handlers.NewEventsHandler(log, hub),
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}
	go func() {
		log.Info("Server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed", "error", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("HTTP shutdown failed", "error", err)
	}
	if err := <-workerDone; err != nil && !errors.Is(err, context.Canceled) {
		log.Warn("Worker exited with error", "error", err)
	}
	log.Info("Shutdown complete")
}
