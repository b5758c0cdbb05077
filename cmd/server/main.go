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

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/graphport-backend/internal/db"
	"github.com/yungbote/graphport-backend/internal/graph"
	"github.com/yungbote/graphport-backend/internal/handlers"
	"github.com/yungbote/graphport-backend/internal/ingest/pipeline"
	"github.com/yungbote/graphport-backend/internal/jobs/worker"
	"github.com/yungbote/graphport-backend/internal/notify"
	"github.com/yungbote/graphport-backend/internal/observability"
	"github.com/yungbote/graphport-backend/internal/pkg/envutil"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
	"github.com/yungbote/graphport-backend/internal/repos"
	"github.com/yungbote/graphport-backend/internal/server"
	"github.com/yungbote/graphport-backend/internal/sse"
)

func main() {
	// Logger
	logMode := envutil.String("LOG_MODE", "development")
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Tracing
	shutdownOtel := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: "graphport",
		Environment: logMode,
	})
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			log.Warn("otel shutdown failed", "error", err)
		}
	}()

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err := postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up repos from main...")
	datasetRepo := repos.NewDatasetRepo(thePG, log)
	uploadTaskRepo := repos.NewUploadTaskRepo(thePG, log)

	// Graph store
	graphClient, err := graph.NewClientFromEnv(log)
	if err != nil {
		log.Error("Could not init graph client", "error", err)
		os.Exit(1)
	}
	defer graphClient.Close(context.Background())
	graphStore := graph.NewStore(graphClient, log)

	// Notifier + SSE
	log.Info("Setting up task event fan-out from main...")
	sseHub := sse.NewHub(log)
	notifier, err := notify.NewRedisNotifier(log)
	if err != nil {
		log.Warn("Redis notifier unavailable, task events disabled", "error", err)
		notifier = notify.NewNop()
	}
	defer notifier.Close()
	if forwarder, ok := notifier.(notify.Forwarder); ok {
		if err := forwarder.StartForwarder(ctx, sseHub.BroadcastEvent); err != nil {
			log.Warn("Could not start event forwarder", "error", err)
		}
	}

	// Ingestion pipeline + worker pool
	ingestPipeline := pipeline.New(pipeline.Deps{
		Tasks:    uploadTaskRepo,
		Datasets: datasetRepo,
		Graph:    graphStore,
		Notifier: notifier,
		Log:      log,
	})
	worker.NewWorker(log, uploadTaskRepo, ingestPipeline).Start(ctx)

	// Handlers
	log.Info("Setting up handlers from main...")
	datasetHandler := handlers.NewDatasetHandler(datasetRepo, uploadTaskRepo, graphStore, log)
	uploadHandler := handlers.NewUploadHandler(datasetRepo, uploadTaskRepo, log)
	taskHandler := handlers.NewTaskHandler(uploadTaskRepo)
	sseHandler := handlers.NewSSEHandler(sseHub)
	schemaHandler := handlers.NewSchemaHandler(graphStore, log)

	// Router
	log.Info("Setting up router from main...")
	router := server.NewRouter(server.RouterConfig{
		DatasetHandler: datasetHandler,
		UploadHandler:  uploadHandler,
		TaskHandler:    taskHandler,
		SSEHandler:     sseHandler,
		SchemaHandler:  schemaHandler,
	})

	port := envutil.String("PORT", "8080")
	httpServer := &http.Server{
		Addr:    ":" + port,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Server listening", "port", port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("Server failed", "error", err)
		os.Exit(1)
	}
}
